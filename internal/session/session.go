package session

import (
	"github.com/shopspring/decimal"

	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/pricing"
)

// State is everything one student session owns: the staging slot, the cart,
// the id counter behind cart item ids and the pricing table loaded for the shop.
// Pricing is nil until it has been fetched.
type State struct {
	ID         string         `json:"id"`
	Cart       cart.Cart      `json:"cart"`
	Staging    cart.Staging   `json:"staging"`
	LastItemID int64          `json:"last_item_id"`
	Pricing    *pricing.Table `json:"pricing,omitempty"`
}

// New returns the state of a fresh session.
func New(id string) State {
	return State{ID: id, Staging: cart.NewStaging()}
}

// Engine returns an engine that continues this session's id sequence.
func (s *State) Engine() *cart.Engine {
	return cart.NewEngine(s.LastItemID)
}

// Sync records the engine's last issued id back into the state.
func (s *State) Sync(e *cart.Engine) {
	s.LastItemID = e.LastID()
}

// Total is the advisory cart total at full precision.
func (s *State) Total() decimal.Decimal {
	return cart.Total(s.Cart)
}
