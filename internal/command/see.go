package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/domain"
)

const seeUsage = "Usage: 'see slug <slug>', 'see event <slug>' or 'see market <slug>'"

// handleSee shows what a slug resolves to without subscribing.
func (h *Handlers) handleSee(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	if len(req.Parts) < 3 {
		return dispatch.Fail(seeUsage + "\nExample: see slug lal-vil-bet-2025-10-18"), nil
	}
	if h.deps.Metadata == nil {
		return dispatch.Fail("Market metadata service not available"), nil
	}

	kind := strings.ToLower(req.Arg(1))
	slug := strings.Join(req.Parts[2:], " ")

	var (
		res domain.SlugResolution
		err error
	)
	switch kind {
	case "slug":
		res, err = h.deps.Metadata.ResolveSlug(ctx, slug)
	case "event":
		res, err = h.deps.Metadata.ResolveEvent(ctx, slug)
	case "market":
		res, err = h.deps.Metadata.ResolveMarket(ctx, slug)
	default:
		return dispatch.Fail(fmt.Sprintf("Unknown see subcommand: %s\n%s", kind, seeUsage)), nil
	}

	if errors.Is(err, domain.ErrSlugNotFound) {
		if kind == "slug" {
			return dispatch.Fail(fmt.Sprintf("Slug '%s' not found as either event or market", slug)), nil
		}
		return dispatch.Fail(fmt.Sprintf("%s not found: %s", capitalize(kind), slug)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s %q: %w", kind, slug, err)
	}

	h.logger.Info("slug looked up", slog.String("slug", slug), slog.String("type", res.Kind), slog.Int("tokens", len(res.Tokens)))

	msg := formatResolution(res)
	if kind == "slug" {
		msg = fmt.Sprintf("[Detected as %s]\n%s", strings.ToUpper(res.Kind), msg)
	}
	return dispatch.OK(msg).WithData(map[string]any{"resolution": res}), nil
}

// formatResolution renders one row per token, showing the market slug on the
// first row of each market.
func formatResolution(res domain.SlugResolution) string {
	rule := strings.Repeat("=", 96)
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(res.Kind), res.Title)
	fmt.Fprintf(&b, "Slug: %s\n", res.Slug)
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%-40s | %-8s | %-24s | %s\n", "Market Slug", "Outcome", "Token ID", "Last Price")
	b.WriteString(strings.Repeat("-", 96) + "\n")

	prev := ""
	for _, t := range res.Tokens {
		market := ""
		if t.MarketSlug != prev {
			market = t.MarketSlug
			prev = t.MarketSlug
		}
		price := "N/A"
		if t.LastPrice.Valid {
			price = "$" + t.LastPrice.Decimal.StringFixed(3)
		}
		fmt.Fprintf(&b, "%-40s | %-8s | %-24s | %s\n", market, t.Outcome, shortToken(t.TokenID), price)
	}
	b.WriteString(rule)
	return b.String()
}
