package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/quickprint/internal/cart"
)

// OrderStatus is the shop-side lifecycle of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// OrderStatuses lists every order status in display order.
var OrderStatuses = []OrderStatus{OrderPending, OrderProcessing, OrderCompleted, OrderCancelled}

// ParseOrderStatus validates a status coming from a client.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range OrderStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// ItemStatus tracks whether a single file of an order has been printed.
type ItemStatus string

const (
	ItemPending ItemStatus = "PENDING"
	ItemPrinted ItemStatus = "PRINTED"
)

// ParseItemStatus validates an item status coming from a client.
func ParseItemStatus(raw string) (ItemStatus, error) {
	switch s := ItemStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case ItemPending, ItemPrinted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown item status %q", raw)
	}
}

// OrderItem is one file of a placed order as the order service reports it.
type OrderItem struct {
	ID          int64            `json:"id"`
	OrderID     int64            `json:"order_id"`
	FileURL     string           `json:"file_url"`
	FileName    string           `json:"file_name"`
	Copies      int              `json:"copies"`
	PageCount   int              `json:"page_count"`
	IsColor     bool             `json:"is_color"`
	IsDuplex    bool             `json:"is_duplex"`
	Orientation cart.Orientation `json:"orientation"`
	Status      ItemStatus       `json:"status"`
}

// Order is a placed order. TotalAmount is computed by the order service.
type Order struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	ShopID      int64           `json:"shop_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   Timestamp       `json:"created_at"`
	Items       []OrderItem     `json:"items"`
}

// UploadResult describes a stored file. PageCount is zero when the service did not count pages.
type UploadResult struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
}

// FileRef converts the result into a cart file reference, falling back to the local name.
func (u UploadResult) FileRef(localName string) cart.FileRef {
	name := u.FileName
	if name == "" {
		name = localName
	}
	return cart.FileRef{URL: u.URL, Name: name}
}

// Timestamp accepts RFC 3339 as well as the zone-less timestamps the order service emits (read as UTC).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("decode timestamp %s: %w", data, err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("decode timestamp: unsupported format %q", raw)
}
