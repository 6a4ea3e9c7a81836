package dashboard

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Simplici0/quickprint/internal/api"
	"github.com/Simplici0/quickprint/internal/pricing"
)

// StatusAll disables status filtering.
const StatusAll = "ALL"

// SortOrder names a dashboard ordering.
type SortOrder string

const (
	SortNewest     SortOrder = "newest"
	SortOldest     SortOrder = "oldest"
	SortAmountHigh SortOrder = "amount-high"
	SortAmountLow  SortOrder = "amount-low"
)

// ParseSort validates a sort key; empty means newest first.
func ParseSort(raw string) (SortOrder, error) {
	switch s := SortOrder(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return SortNewest, nil
	case SortNewest, SortOldest, SortAmountHigh, SortAmountLow:
		return s, nil
	default:
		return "", fmt.Errorf("unknown sort %q", raw)
	}
}

// Query selects and orders the orders shown on the dashboard.
type Query struct {
	Status string
	Search string
	Sort   SortOrder
}

// ParseQuery validates raw query-string values.
func ParseQuery(status, search, sort string) (Query, error) {
	q := Query{Status: StatusAll, Search: strings.TrimSpace(search)}

	if status = strings.TrimSpace(status); status != "" && !strings.EqualFold(status, StatusAll) {
		s, err := api.ParseOrderStatus(status)
		if err != nil {
			return Query{}, err
		}
		q.Status = string(s)
	}

	var err error
	if q.Sort, err = ParseSort(sort); err != nil {
		return Query{}, err
	}
	return q, nil
}

// OrderView is an order decorated for display.
type OrderView struct {
	api.Order
	Total     string `json:"total"`
	Age       string `json:"age"`
	PageUnits string `json:"page_units"`
}

// View is the dashboard as rendered for one query.
type View struct {
	Orders         []OrderView `json:"orders"`
	PendingCount   int         `json:"pending_count"`
	CompletedCount int         `json:"completed_count"`
	TotalCount     int         `json:"total_count"`
	FetchedAt      time.Time   `json:"fetched_at"`
	Refreshing     bool        `json:"refreshing"`
	LastError      string      `json:"last_error,omitempty"`
}

// BuildView filters, searches and sorts a snapshot. Counters cover every order, not just the matches.
func BuildView(snap Snapshot, q Query, now time.Time) View {
	view := View{
		Orders:     make([]OrderView, 0, len(snap.Orders)),
		TotalCount: len(snap.Orders),
		FetchedAt:  snap.FetchedAt,
		Refreshing: snap.Refreshing,
		LastError:  snap.LastError,
	}

	matches := make([]api.Order, 0, len(snap.Orders))
	for _, order := range snap.Orders {
		switch order.Status {
		case api.OrderPending:
			view.PendingCount++
		case api.OrderCompleted:
			view.CompletedCount++
		}
		if matchesStatus(order, q.Status) && matchesSearch(order, q.Search) {
			matches = append(matches, order)
		}
	}

	slices.SortStableFunc(matches, compareBy(q.Sort))

	for _, order := range matches {
		view.Orders = append(view.Orders, OrderView{
			Order:     order,
			Total:     pricing.Display(order.TotalAmount),
			Age:       humanize.RelTime(order.CreatedAt.Time, now, "ago", "from now"),
			PageUnits: humanize.Comma(int64(pageUnits(order))),
		})
	}
	return view
}

func matchesStatus(order api.Order, status string) bool {
	return status == "" || status == StatusAll || string(order.Status) == status
}

func matchesSearch(order api.Order, search string) bool {
	if search == "" {
		return true
	}
	if strings.Contains(strconv.FormatInt(order.ID, 10), search) {
		return true
	}
	needle := strings.ToLower(search)
	for _, item := range order.Items {
		if strings.Contains(strings.ToLower(item.FileName), needle) {
			return true
		}
	}
	return false
}

func compareBy(sort SortOrder) func(a, b api.Order) int {
	switch sort {
	case SortOldest:
		return func(a, b api.Order) int { return a.CreatedAt.Compare(b.CreatedAt.Time) }
	case SortAmountHigh:
		return func(a, b api.Order) int { return b.TotalAmount.Cmp(a.TotalAmount) }
	case SortAmountLow:
		return func(a, b api.Order) int { return a.TotalAmount.Cmp(b.TotalAmount) }
	default:
		return func(a, b api.Order) int {
			return cmp.Or(b.CreatedAt.Compare(a.CreatedAt.Time), cmp.Compare(b.ID, a.ID))
		}
	}
}

func pageUnits(order api.Order) int {
	units := 0
	for _, item := range order.Items {
		units += item.PageCount * item.Copies
	}
	return units
}
