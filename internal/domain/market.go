package domain

import "github.com/shopspring/decimal"

// TokenOutcome pairs a tradable token with its outcome label.
type TokenOutcome struct {
	TokenID    string `json:"token_id"`
	Outcome    string `json:"outcome"`
	MarketSlug string `json:"market_slug"`
	// LastPrice is the outcome price the metadata service reported, if any.
	LastPrice decimal.NullDecimal `json:"last_price"`
}

// SlugResolution is the metadata service's answer for an event or market slug.
type SlugResolution struct {
	Kind   string         `json:"type"` // "event" or "market"
	Slug   string         `json:"slug"`
	Title  string         `json:"title"`
	Tokens []TokenOutcome `json:"tokens"`
}

// TokenIDs returns the token ids in resolution order.
func (r SlugResolution) TokenIDs() []string {
	ids := make([]string, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		ids = append(ids, t.TokenID)
	}
	return ids
}

// TokenToMarket maps every token id to its owning market slug.
func (r SlugResolution) TokenToMarket() map[string]string {
	m := make(map[string]string, len(r.Tokens))
	for _, t := range r.Tokens {
		m[t.TokenID] = t.MarketSlug
	}
	return m
}
