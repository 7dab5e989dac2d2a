package strategy

import (
	"fmt"
	"strings"

	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

// Generic applies only the profile caps.
type Generic struct {
	limits     Limits
	executions int
}

// NewGeneric creates a generic strategy.
func NewGeneric(limits Limits) *Generic {
	return &Generic{limits: limits}
}

func (g *Generic) Kind() Kind { return KindGeneric }

func (g *Generic) PreExecutionCheck(_ domain.Outcome, price decimal.Decimal) (bool, string) {
	return checkPrice(price)
}

func (g *Generic) MaxProbability(domain.Outcome, decimal.Decimal) (decimal.Decimal, bool) {
	return g.limits.MaxProbability.Decimal, g.limits.MaxProbability.Valid
}

func (g *Generic) MaxShares(domain.Outcome, decimal.Decimal) (decimal.Decimal, bool) {
	return g.limits.MaxShares.Decimal, g.limits.MaxShares.Valid
}

func (g *Generic) PostExecutionHook(domain.Outcome, decimal.Decimal, decimal.Decimal) {
	g.executions++
}

func (g *Generic) Describe() string {
	var b strings.Builder
	b.WriteString("Strategy: generic\n")
	if g.limits.MaxProbability.Valid {
		fmt.Fprintf(&b, "  Max probability: %s\n", g.limits.MaxProbability.Decimal)
	}
	if g.limits.MaxShares.Valid {
		fmt.Fprintf(&b, "  Max shares: %s\n", g.limits.MaxShares.Decimal)
	}
	fmt.Fprintf(&b, "  Executions this session: %d", g.executions)
	return b.String()
}
