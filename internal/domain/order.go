package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order, a book level or a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a wire side. Unknown values return false.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return SideBuy, true
	case "SELL", "ASK":
		return SideSell, true
	default:
		return "", false
	}
}

// Outcome labels one token of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts yes/no in any case.
func ParseOutcome(s string) (Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return OutcomeYes, true
	case "NO":
		return OutcomeNo, true
	default:
		return "", false
	}
}

const (
	OrderStatusLive      = "LIVE"
	OrderStatusMatched   = "MATCHED"
	OrderStatusCancelled = "CANCELLED"
)

// OrderRequest is what a handler hands to the trading client.
type OrderRequest struct {
	TokenID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Order represents an order known to the trading client.
type Order struct {
	ID        string          `json:"id"`
	TokenID   string          `json:"token_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsOpen checks if the order is still resting.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusLive
}
