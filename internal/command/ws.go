package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/domain"
	"pm_terminal/internal/feed"
)

func (h *Handlers) handleWS(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	if len(req.Parts) < 2 {
		return dispatch.Fail("Usage: 'ws sub [token_ids...|slug]', 'ws user', 'ws off' or 'ws status'"), nil
	}
	if h.deps.Feed == nil {
		return dispatch.Fail("WebSocket manager not initialized"), nil
	}

	switch sub := strings.ToLower(req.Arg(1)); sub {
	case "sub":
		return h.wsSubscribe(ctx, req.Parts[2:])
	case "user":
		return h.wsUser(ctx)
	case "off":
		return h.wsOff(ctx)
	case "status":
		return h.wsStatus(), nil
	default:
		return dispatch.Fail(fmt.Sprintf("Unknown ws subcommand: %s. Use 'ws sub', 'ws user', 'ws off' or 'ws status'", sub)), nil
	}
}

// isTokenList reports whether arg is made of numeric token ids, optionally comma separated.
func isTokenList(arg string) bool {
	s := strings.ReplaceAll(arg, ",", "")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitTokens splits comma separated ids and drops duplicates, keeping first-seen order.
func splitTokens(args []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range args {
		for _, t := range strings.Split(a, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func (h *Handlers) wsSubscribe(ctx context.Context, args []string) (*dispatch.Result, error) {
	var (
		tokenIDs      []string
		slug          string
		tokenToMarket map[string]string
	)

	switch {
	case len(args) == 0:
		rec, err := h.loadActiveTokens(ctx)
		if err != nil {
			return nil, err
		}
		if rec == nil || len(rec.Tokens()) == 0 {
			return dispatch.Fail("No saved tokens. Usage: ws sub <token_ids...|slug>"), nil
		}
		tokenIDs, slug = rec.Tokens(), rec.MarketSlug

	case isTokenList(args[0]):
		tokenIDs = splitTokens(args)

	default:
		slug = args[0]
		if h.deps.Metadata == nil {
			return dispatch.Fail("Market metadata service not available"), nil
		}
		res, err := h.deps.Metadata.ResolveSlug(ctx, slug)
		if errors.Is(err, domain.ErrSlugNotFound) {
			return dispatch.Fail(fmt.Sprintf("Slug not found: %s", slug)), nil
		}
		if err != nil {
			return nil, fmt.Errorf("lookup slug %q: %w", slug, err)
		}
		tokenIDs = splitTokens(res.TokenIDs())
		tokenToMarket = res.TokenToMarket()
		if len(tokenIDs) == 0 {
			return dispatch.Fail(fmt.Sprintf("No tokens found for slug '%s'", slug)), nil
		}
	}

	if h.deps.Feed.IsConnected() {
		h.deps.Feed.DisconnectAll()
	}

	// Fresh books exist before any feed message can arrive, whether or not a
	// transport is available.
	h.deps.Books.Reset(tokenIDs...)
	if len(tokenToMarket) > 0 {
		h.deps.Books.SetMarketSlugs(tokenToMarket)
	}
	if err := h.deps.Feed.ConnectMarket(ctx, tokenIDs, h.deps.Market); err != nil {
		return nil, fmt.Errorf("connect market: %w", err)
	}

	if h.deps.Tokens != nil {
		if err := h.deps.Tokens.SaveActiveTokens(ctx, domain.NewActiveTokens(tokenIDs, slug)); err != nil {
			h.logger.Warn("failed to save active tokens", slog.Any("error", err))
		}
	}

	if h.deps.QuickBuy != nil {
		yes, no := "", ""
		if len(tokenIDs) > 0 {
			yes = tokenIDs[0]
		}
		if len(tokenIDs) > 1 {
			no = tokenIDs[1]
		}
		h.deps.QuickBuy.SetTokens(yes, no)
	}

	h.logger.Info("market subscription", slog.Int("tokens", len(tokenIDs)), slog.String("slug", slug))

	msg := fmt.Sprintf("WebSocket connected to %d token(s)", len(tokenIDs))
	data := map[string]any{"token_ids": tokenIDs}
	if slug != "" {
		msg += fmt.Sprintf(" [%s]", slug)
		data["market_slug"] = slug
	}
	return dispatch.OK(msg).WithData(data), nil
}

func (h *Handlers) loadActiveTokens(ctx context.Context) (*domain.ActiveTokens, error) {
	if h.deps.Tokens == nil {
		return nil, nil
	}
	rec, err := h.deps.Tokens.LoadActiveTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active tokens: %w", err)
	}
	return rec, nil
}

func (h *Handlers) wsUser(ctx context.Context) (*dispatch.Result, error) {
	var markets []string
	if rec, err := h.loadActiveTokens(ctx); err == nil && rec != nil && rec.MarketSlug != "" {
		markets = []string{rec.MarketSlug}
	}
	err := h.deps.Feed.ConnectUser(ctx, markets, h.deps.User)
	if errors.Is(err, domain.ErrMissingCredentials) {
		return dispatch.Fail("User feed requires API credentials (PM_API_KEY, PM_API_SECRET, PM_API_PASSPHRASE)"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("connect user: %w", err)
	}
	return dispatch.OK("User feed connecting"), nil
}

func (h *Handlers) wsOff(ctx context.Context) (*dispatch.Result, error) {
	if !h.deps.Feed.IsConnected() && h.deps.Books.Len() == 0 {
		return dispatch.Fail("WebSocket not connected"), nil
	}

	h.deps.Feed.DisconnectAll()
	h.deps.Books.Clear()

	if h.deps.Tokens != nil {
		if err := h.deps.Tokens.DeleteActiveTokens(ctx); err != nil {
			h.logger.Warn("failed to delete active tokens", slog.Any("error", err))
		}
	}
	if h.deps.QuickBuy != nil {
		h.deps.QuickBuy.SetTokens("", "")
	}
	return dispatch.OK("WebSocket disconnected - UI data cleared").WithData(map[string]any{"clear_ui": true}), nil
}

func (h *Handlers) wsStatus() *dispatch.Result {
	st := h.deps.Feed.Status()
	msg := fmt.Sprintf("WebSocket: connected=%t\n  - Market: %t\n  - User: %t\n  - Live Data: %t\n  - Books: %d",
		h.deps.Feed.IsConnected(), st[feed.CategoryMarket], st[feed.CategoryUser], st[feed.CategoryLive], h.deps.Books.Len())
	data := map[string]any{
		"market":    st[feed.CategoryMarket],
		"user":      st[feed.CategoryUser],
		"live_data": st[feed.CategoryLive],
		"tokens":    h.deps.Books.Tokens(),
	}
	return dispatch.OK(msg).WithData(data)
}
