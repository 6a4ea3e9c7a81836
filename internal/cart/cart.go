package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/quickprint/internal/pricing"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidOrientation = errors.New("orientation must be PORTRAIT or LANDSCAPE")
)

// Orientation is the page orientation of a print job. It never affects price.
type Orientation string

const (
	Portrait  Orientation = "PORTRAIT"
	Landscape Orientation = "LANDSCAPE"
)

// ParseOrientation normalizes user input into an Orientation.
func ParseOrientation(raw string) (Orientation, error) {
	switch o := Orientation(strings.ToUpper(strings.TrimSpace(raw))); o {
	case Portrait, Landscape:
		return o, nil
	case "":
		return Portrait, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrientation, raw)
	}
}

// JobConfig holds the print options chosen for one file.
type JobConfig struct {
	Copies      int         `json:"copies"`
	IsColor     bool        `json:"is_color"`
	IsDuplex    bool        `json:"is_duplex"`
	Orientation Orientation `json:"orientation"`
}

// DefaultJobConfig is one black-and-white, single-sided, portrait copy.
func DefaultJobConfig() JobConfig {
	return JobConfig{Copies: 1, Orientation: Portrait}
}

// Normalize clamps copies to at least one and fills in a missing orientation.
func (c JobConfig) Normalize() JobConfig {
	if c.Copies < 1 {
		c.Copies = 1
	}
	if c.Orientation != Landscape {
		c.Orientation = Portrait
	}
	return c
}

// FileRef points at a file the upload service already stored.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Item is one committed print job. Price is frozen when the item is added.
type Item struct {
	ID        int64           `json:"id"`
	File      FileRef         `json:"file"`
	PageCount int             `json:"page_count"`
	Config    JobConfig       `json:"config"`
	Price     decimal.Decimal `json:"price"`
}

// PageUnits is the number of printed pages the item produces.
func (i Item) PageUnits() int {
	return i.PageCount * i.Config.Copies
}

// Cart is the ordered list of committed items. Order is insertion order.
type Cart []Item

// Contains reports whether an item with id is in the cart.
func (c Cart) Contains(id int64) bool {
	for _, item := range c {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Engine assigns item ids for a single session. Ids only move forward.
type Engine struct {
	lastID int64
}

// NewEngine resumes an engine whose last issued id was lastID.
func NewEngine(lastID int64) *Engine {
	return &Engine{lastID: lastID}
}

// LastID returns the most recently issued id.
func (e *Engine) LastID() int64 {
	return e.lastID
}

func (e *Engine) nextID(c Cart) int64 {
	e.lastID++
	for c.Contains(e.lastID) {
		e.lastID++
	}
	return e.lastID
}

// ComputeItemPrice prices a job against table; a nil table yields zero.
func ComputeItemPrice(pageCount, copies int, isColor, isDuplex bool, table *pricing.Table) decimal.Decimal {
	return pricing.ItemPrice(table, pageCount, copies, isColor, isDuplex)
}

// AddToCart prices a new item and appends it to a copy of c.
func (e *Engine) AddToCart(c Cart, file FileRef, pageCount int, cfg JobConfig, table *pricing.Table) (Cart, Item) {
	cfg = cfg.Normalize()
	if pageCount < 1 {
		pageCount = 1
	}

	item := Item{
		ID:        e.nextID(c),
		File:      file,
		PageCount: pageCount,
		Config:    cfg,
		Price:     ComputeItemPrice(pageCount, cfg.Copies, cfg.IsColor, cfg.IsDuplex, table),
	}

	next := make(Cart, 0, len(c)+1)
	next = append(next, c...)
	next = append(next, item)
	return next, item
}

// RemoveFromCart returns c without the item with id. Unknown ids leave the cart as is.
func RemoveFromCart(c Cart, id int64) Cart {
	next := make(Cart, 0, len(c))
	for _, item := range c {
		if item.ID != id {
			next = append(next, item)
		}
	}
	return next
}

// Total sums item prices without rounding.
func Total(c Cart) decimal.Decimal {
	total := decimal.Zero
	for _, item := range c {
		total = total.Add(item.Price)
	}
	return total
}

// TotalPageUnits sums pageCount × copies over the cart.
func TotalPageUnits(c Cart) int {
	units := 0
	for _, item := range c {
		units += item.PageUnits()
	}
	return units
}

// LineItem is one entry of an order submission. It carries no price: the
// order service computes the amount it bills.
type LineItem struct {
	FileURL     string      `json:"file_url"`
	FileName    string      `json:"file_name"`
	PageCount   int         `json:"page_count"`
	Copies      int         `json:"copies"`
	IsColor     bool        `json:"is_color"`
	IsDuplex    bool        `json:"is_duplex"`
	Orientation Orientation `json:"orientation"`
}

// OrderRequest is the payload sent to the order service.
type OrderRequest struct {
	UserID int64      `json:"user_id"`
	ShopID int64      `json:"shop_id"`
	Items  []LineItem `json:"items"`
}

// BuildSubmissionPayload converts the cart into an order request, keeping cart order.
func BuildSubmissionPayload(c Cart, userID, shopID int64) (OrderRequest, error) {
	if len(c) == 0 {
		return OrderRequest{}, ErrEmptyCart
	}

	items := make([]LineItem, 0, len(c))
	for _, item := range c {
		items = append(items, LineItem{
			FileURL:     item.File.URL,
			FileName:    item.File.Name,
			PageCount:   item.PageCount,
			Copies:      item.Config.Copies,
			IsColor:     item.Config.IsColor,
			IsDuplex:    item.Config.IsDuplex,
			Orientation: item.Config.Orientation,
		})
	}

	return OrderRequest{UserID: userID, ShopID: shopID, Items: items}, nil
}
