// Package request holds the read-mostly wallet and order queries served by
// the request dispatcher.
package request

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	TypeBalance      = "balance"
	TypeProxyBalance = "proxy_balance"
	TypeOpenOrders   = "open_orders"

	DefaultCacheTTL = 30 * time.Second
)

type cachedBalance struct {
	amount decimal.Decimal
	at     time.Time
}

// Handlers serves balance and order queries from a trading client.
type Handlers struct {
	client  domain.TradingClient
	address string
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedBalance
}

// Option configures Handlers.
type Option func(*Handlers)

// WithCacheTTL sets how long a fetched balance is served from cache.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Handlers) {
		if d > 0 {
			h.ttl = d
		}
	}
}

// WithAddress labels balances with the funder address.
func WithAddress(addr string) Option {
	return func(h *Handlers) { h.address = addr }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates the request table.
func New(client domain.TradingClient, opts ...Option) *Handlers {
	h := &Handlers{
		client: client,
		ttl:    DefaultCacheTTL,
		logger: slog.Default(),
		now:    time.Now,
		cache:  make(map[string]cachedBalance),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(slog.String("component", "requests"))
	return h
}

// Register installs every request type on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.RegisterHandler(TypeBalance, h.handleBalance)
	d.RegisterHandler(TypeProxyBalance, h.handleProxyBalance)
	d.RegisterHandler(TypeOpenOrders, h.handleOpenOrders)
}

// DispatcherOptions are the options the request dispatcher needs: whole
// operation keys and the request-specific unknown handler.
func DispatcherOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithKeyFunc(dispatch.WholeOperation),
		dispatch.WithUnknownHandler(Unknown),
	}
}

// Unknown reports an unregistered request type.
func Unknown(_ context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return dispatch.Fail(fmt.Sprintf("Unknown request type: %s", strings.TrimSpace(req.Operation))), nil
}

func (h *Handlers) handleBalance(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return h.balance(ctx, req, TypeBalance, "Balance", func(ctx context.Context) (decimal.Decimal, error) {
		return h.client.Balance(ctx)
	})
}

func (h *Handlers) handleProxyBalance(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return h.balance(ctx, req, TypeProxyBalance, "Proxy balance", func(ctx context.Context) (decimal.Decimal, error) {
		return h.client.ProxyBalance(ctx)
	})
}

func (h *Handlers) balance(ctx context.Context, req *dispatch.Request, key, label string,
	fetch func(context.Context) (decimal.Decimal, error)) (*dispatch.Result, error) {
	if h.client == nil {
		return dispatch.Fail("Trading client not available"), nil
	}

	if useCache(req) {
		h.mu.Lock()
		c, ok := h.cache[key]
		h.mu.Unlock()
		if ok && h.now().Sub(c.at) < h.ttl {
			return dispatch.OK(label+" loaded from cache").WithData(h.balanceData(c, true)), nil
		}
	}

	amount, err := fetch(ctx)
	if err != nil {
		h.logger.Error("balance fetch failed", slog.String("type", key), slog.Any("error", err))
		return dispatch.Fail(fmt.Sprintf("Failed to get %s: %v", strings.ToLower(label), err)), nil
	}

	c := cachedBalance{amount: amount, at: h.now()}
	h.mu.Lock()
	h.cache[key] = c
	h.mu.Unlock()

	h.logger.Info("balance fetched", slog.String("type", key), slog.String("usdc", amount.StringFixed(2)))
	return dispatch.OK(label+" fetched successfully").WithData(h.balanceData(c, false)), nil
}

func (h *Handlers) balanceData(c cachedBalance, fromCache bool) map[string]any {
	addr := h.address
	if addr == "" {
		addr = "Unknown"
	}
	return map[string]any{
		"usdc_balance": c.amount,
		"address":      addr,
		"timestamp":    c.at.UTC().Format(time.RFC3339),
		"from_cache":   fromCache,
	}
}

// useCache defaults to true; it accepts a bool or a string parameter.
func useCache(req *dispatch.Request) bool {
	switch v := req.Params["use_cache"].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err != nil || b
	default:
		return true
	}
}

func (h *Handlers) handleOpenOrders(ctx context.Context, _ *dispatch.Request) (*dispatch.Result, error) {
	if h.client == nil {
		return dispatch.Fail("Trading client not available"), nil
	}
	orders, err := h.client.OpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	return dispatch.OK(fmt.Sprintf("%d open order(s)", len(orders))).
		WithData(map[string]any{"orders": orders, "count": len(orders)}), nil
}
