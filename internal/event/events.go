package event

import (
	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies the variant carried by an Event.
type Type string

const (
	TypeBookSnapshot Type = "book"
	TypePriceChange  Type = "price_change"
	TypeLastTrade    Type = "last_trade_price"
	TypeUserOrder    Type = "order"
	TypeUserTrade    Type = "trade"
	TypeLive         Type = "live"
)

// Event is one decoded feed message. The concrete type is one of
// *BookSnapshot, *PriceChange, *LastTrade, *UserOrder, *UserTrade or *LiveEvent.
type Event interface {
	Type() Type
}

// Level is a single (price, size) entry on one side of a book.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookSnapshot fully replaces both sides of a token's book.
type BookSnapshot struct {
	TokenID   string
	Market    string
	Bids      []Level
	Asks      []Level
	Timestamp string
	Hash      string
}

func (*BookSnapshot) Type() Type { return TypeBookSnapshot }

// PriceChangeEntry is one changed level inside a price change message.
// TokenID may be empty when the parent message carries it.
type PriceChangeEntry struct {
	TokenID string
	Side    domain.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	BestBid decimal.NullDecimal
	BestAsk decimal.NullDecimal
	Hash    string
}

// Best returns the best price the feed reported for the entry's side.
func (e PriceChangeEntry) Best() (decimal.Decimal, bool) {
	best := e.BestBid
	if e.Side == domain.SideSell {
		best = e.BestAsk
	}
	return best.Decimal, best.Valid
}

// PriceChange is an incremental update to one or more levels.
type PriceChange struct {
	TokenID   string
	Market    string
	Timestamp string
	Changes   []PriceChangeEntry
}

func (*PriceChange) Type() Type { return TypePriceChange }

// LastTrade reports an execution against a token's book.
type LastTrade struct {
	TokenID    string
	Market     string
	Side       domain.Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	FeeRateBps string
	Timestamp  string
}

func (*LastTrade) Type() Type { return TypeLastTrade }

// UserOrder is an order lifecycle update from the authenticated feed.
type UserOrder struct {
	ID        string
	Market    string
	TokenID   string
	Side      domain.Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Status    string
	Timestamp string
}

func (*UserOrder) Type() Type { return TypeUserOrder }

// UserTrade is a fill of one of the user's orders.
type UserTrade struct {
	ID        string
	Market    string
	TokenID   string
	Side      domain.Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Status    string
	Timestamp string
}

func (*UserTrade) Type() Type { return TypeUserTrade }

// LiveEvent is anything from the generic live-data feed, kept as a raw payload.
type LiveEvent struct {
	Kind    string
	Payload map[string]any
}

func (*LiveEvent) Type() Type { return TypeLive }
