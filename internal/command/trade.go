package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

// maxListedOrders bounds the orders list output.
const maxListedOrders = 10

func (h *Handlers) handleBuy(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return h.placeOrder(ctx, req, domain.SideBuy)
}

func (h *Handlers) handleSell(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return h.placeOrder(ctx, req, domain.SideSell)
}

// resolveToken maps YES/NO to the session or quickbuy tokens. Anything else is
// taken as a token id.
func (h *Handlers) resolveToken(req *dispatch.Request, target string) (string, string, error) {
	outcome, ok := domain.ParseOutcome(target)
	if !ok {
		if !isTokenList(target) || strings.Contains(target, ",") {
			return "", "", fmt.Errorf("side must be YES, NO or a token id")
		}
		return target, shortToken(target), nil
	}

	key := "yes_token"
	if outcome == domain.OutcomeNo {
		key = "no_token"
	}
	token := req.Param(key)
	if token == "" && h.deps.QuickBuy != nil {
		yes, no := h.deps.QuickBuy.Tokens()
		token = yes
		if outcome == domain.OutcomeNo {
			token = no
		}
	}
	if token == "" {
		return "", "", fmt.Errorf("no %s token found in session. Please select a market first", outcome)
	}
	return token, string(outcome), nil
}

func (h *Handlers) placeOrder(ctx context.Context, req *dispatch.Request, side domain.Side) (*dispatch.Result, error) {
	verb := strings.ToLower(string(side))
	if len(req.Parts) < 4 {
		return dispatch.Fail(fmt.Sprintf("Usage: %s <YES|NO|token_id> <price> <size>", verb)), nil
	}
	if h.deps.Client == nil {
		return dispatch.Fail("Trading client not available"), nil
	}

	token, label, err := h.resolveToken(req, req.Arg(1))
	if err != nil {
		return dispatch.Fail(capitalize(err.Error())), nil
	}
	price, err := decimal.NewFromString(req.Arg(2))
	if err != nil || !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return dispatch.Fail(fmt.Sprintf("Invalid price: %s (must be between 0 and 1)", req.Arg(2))), nil
	}
	size, err := decimal.NewFromString(req.Arg(3))
	if err != nil || !size.IsPositive() {
		return dispatch.Fail(fmt.Sprintf("Invalid size: %s", req.Arg(3))), nil
	}

	order, err := h.deps.Client.PlaceOrder(ctx, domain.OrderRequest{TokenID: token, Side: side, Price: price, Size: size})
	if errors.Is(err, domain.ErrInsufficientBalance) {
		return dispatch.Fail(fmt.Sprintf("%s order failed: %v", capitalize(verb), err)), nil
	}
	if err != nil {
		h.deps.Metrics.RecordError()
		return nil, fmt.Errorf("%s order: %w", verb, err)
	}
	h.deps.Metrics.RecordOrderPlaced(string(side))

	h.logger.Info("order placed",
		slog.String("side", string(side)),
		slog.String("token", token),
		slog.String("price", price.String()),
		slog.String("size", size.String()),
		slog.String("origin", req.Origin))

	msg := fmt.Sprintf("%s order placed: %s @ %s x %s (ID: %s)", capitalize(verb), label, price, size, order.ID)
	return dispatch.OK(msg).WithData(map[string]any{"order": order}), nil
}

func (h *Handlers) handleBalance(ctx context.Context, _ *dispatch.Request) (*dispatch.Result, error) {
	if h.deps.Client == nil {
		return dispatch.Fail("Trading client not available"), nil
	}
	bal, err := h.deps.Client.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return dispatch.OK(fmt.Sprintf("Balance: $%s USDC", bal.StringFixed(2))).
		WithData(map[string]any{"balance": bal, "currency": "USDC"}), nil
}

func (h *Handlers) handleOrders(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	if len(req.Parts) < 2 {
		return dispatch.Fail("Usage: orders [list|cancel] <args>"), nil
	}
	if h.deps.Client == nil {
		return dispatch.Fail("Trading client not available"), nil
	}

	switch sub := strings.ToLower(req.Arg(1)); sub {
	case "list":
		orders, err := h.deps.Client.OpenOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("open orders: %w", err)
		}
		if len(orders) == 0 {
			return dispatch.OK("No open orders"), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Open Orders (%d):\n", len(orders))
		for i, o := range orders {
			if i == maxListedOrders {
				fmt.Fprintf(&b, "... and %d more\n", len(orders)-maxListedOrders)
				break
			}
			fmt.Fprintf(&b, "%d. %s | %s | $%s x %s | %s\n", i+1, o.ID, o.Side, o.Price.StringFixed(4), o.Size.StringFixed(2), o.Status)
		}
		return dispatch.OK(strings.TrimRight(b.String(), "\n")).WithData(map[string]any{"orders": orders}), nil

	case "cancel":
		target := req.Arg(2)
		if target == "" {
			return dispatch.Fail("Usage: orders cancel <order_id> or orders cancel all"), nil
		}
		if strings.EqualFold(target, "all") {
			return h.cancelAll(ctx)
		}
		if err := h.deps.Client.CancelOrder(ctx, target); err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return dispatch.Fail(fmt.Sprintf("Order not found: %s", target)), nil
			}
			return nil, fmt.Errorf("cancel order: %w", err)
		}
		return dispatch.OK(fmt.Sprintf("Order cancelled: %s", target)), nil

	default:
		return dispatch.Fail(fmt.Sprintf("Unknown orders subcommand: %s. Use: list or cancel", sub)), nil
	}
}

func (h *Handlers) cancelAll(ctx context.Context) (*dispatch.Result, error) {
	orders, err := h.deps.Client.OpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	var (
		cancelled int
		errs      []error
	)
	for _, o := range orders {
		if err := h.deps.Client.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.ID, err))
			continue
		}
		cancelled++
	}
	if len(errs) > 0 {
		h.logger.Warn("some cancels failed", slog.Any("error", errors.Join(errs...)))
		return dispatch.Fail(fmt.Sprintf("Cancelled %d of %d order(s)", cancelled, len(orders))), nil
	}
	return dispatch.OK(fmt.Sprintf("Cancelled %d order(s)", cancelled)), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
