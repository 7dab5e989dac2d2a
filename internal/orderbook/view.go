package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// View is an immutable snapshot of a Book handed to callbacks and handlers.
type View struct {
	TokenID    string    `json:"token_id"`
	MarketSlug string    `json:"market_slug,omitempty"`
	Bids       []Level   `json:"bids"`
	Asks       []Level   `json:"asks"`
	BestBid    *Level    `json:"best_bid,omitempty"`
	BestAsk    *Level    `json:"best_ask,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	UpdatedAt  time.Time `json:"-"`
}

// Empty reports whether neither side has levels.
func (v View) Empty() bool {
	return len(v.Bids) == 0 && len(v.Asks) == 0
}

// Mid returns the midpoint of the cached best prices.
func (v View) Mid() (decimal.Decimal, bool) {
	if v.BestBid == nil || v.BestAsk == nil {
		return decimal.Zero, false
	}
	return v.BestBid.Price.Add(v.BestAsk.Price).Div(decimal.NewFromInt(2)), true
}

// Spread returns best ask minus best bid.
func (v View) Spread() (decimal.Decimal, bool) {
	if v.BestBid == nil || v.BestAsk == nil {
		return decimal.Zero, false
	}
	return v.BestAsk.Price.Sub(v.BestBid.Price), true
}
