package domain

import (
	"strings"
	"time"
)

// ActiveTokens is the persisted record of the current market subscription.
// There is at most one row (ID 1).
type ActiveTokens struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	MarketSlug string    `json:"market_slug"`
	TokenIDs   string    `json:"-"` // comma separated, subscription order
	YesToken   string    `json:"yes_token,omitempty"`
	NoToken    string    `json:"no_token,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewActiveTokens builds the record; YES/NO labels are only set for exactly two tokens.
func NewActiveTokens(tokenIDs []string, marketSlug string) *ActiveTokens {
	rec := &ActiveTokens{
		ID:         1,
		MarketSlug: marketSlug,
		TokenIDs:   strings.Join(tokenIDs, ","),
		UpdatedAt:  time.Now(),
	}
	if len(tokenIDs) == 2 {
		rec.YesToken = tokenIDs[0]
		rec.NoToken = tokenIDs[1]
	}
	return rec
}

// Tokens splits the stored token list.
func (a *ActiveTokens) Tokens() []string {
	if a.TokenIDs == "" {
		return nil
	}
	return strings.Split(a.TokenIDs, ",")
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
