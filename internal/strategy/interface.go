package strategy

import (
	"fmt"
	"strings"

	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

// Kind selects a compiled-in strategy.
type Kind string

const (
	KindGeneric  Kind = "generic"
	KindFootball Kind = "football"
)

// ParseKind accepts a profile's strategy name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindGeneric, "":
		return KindGeneric, true
	case KindFootball, "football_ml":
		return KindFootball, true
	default:
		return "", false
	}
}

// Limits are the profile caps every strategy honours.
type Limits struct {
	MaxProbability decimal.NullDecimal
	MaxShares      decimal.NullDecimal
}

// Strategy gates and sizes a quick buy. It is called from the command worker only.
type Strategy interface {
	Kind() Kind

	// PreExecutionCheck returns a non-empty reason when the buy must not proceed.
	PreExecutionCheck(outcome domain.Outcome, price decimal.Decimal) (ok bool, reason string)

	// MaxProbability is the highest price the strategy will pay, if it has one.
	MaxProbability(outcome domain.Outcome, price decimal.Decimal) (decimal.Decimal, bool)

	// MaxShares caps the order size, if the strategy has a cap.
	MaxShares(outcome domain.Outcome, price decimal.Decimal) (decimal.Decimal, bool)

	// PostExecutionHook observes a completed buy.
	PostExecutionHook(outcome domain.Outcome, price, shares decimal.Decimal)

	// Describe renders the strategy state for the quickbuy summary.
	Describe() string
}

// New returns the strategy for kind.
func New(kind Kind, limits Limits) (Strategy, error) {
	switch kind {
	case KindGeneric:
		return NewGeneric(limits), nil
	case KindFootball:
		return NewFootball(limits), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

func checkPrice(price decimal.Decimal) (bool, string) {
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return false, fmt.Sprintf("price %s outside (0, 1)", price)
	}
	return true, ""
}
