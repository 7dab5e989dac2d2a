package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// TradingClient is the boundary to the exchange SDK. Signing and settlement live behind it.
type TradingClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]Order, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	ProxyBalance(ctx context.Context) (decimal.Decimal, error)
}

// MarketMetadata resolves human slugs to tradable tokens.
// ResolveSlug tries the slug as an event first, then as a market.
type MarketMetadata interface {
	ResolveSlug(ctx context.Context, slug string) (SlugResolution, error)
	ResolveEvent(ctx context.Context, slug string) (SlugResolution, error)
	ResolveMarket(ctx context.Context, slug string) (SlugResolution, error)
}

// Credentials authenticate the user and live-data feeds.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Valid reports whether all parts are present.
func (c *Credentials) Valid() bool {
	return c != nil && c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}
