package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pm_terminal/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fill records a simulated execution.
type Fill struct {
	OrderID string
	TokenID string
	Side    domain.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	At      time.Time
}

// PaperClient simulates the trading client in memory. Buys fill immediately
// against the cash balance; sells rest until cancelled and hold the sold
// position.
type PaperClient struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
	orders    map[string]domain.Order
	fills     []Fill
	logger    *slog.Logger
	now       func() time.Time
}

// NewPaperClient creates a paper account holding initialCash USDC.
func NewPaperClient(initialCash decimal.Decimal, logger *slog.Logger) *PaperClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaperClient{
		cash:      initialCash,
		positions: make(map[string]decimal.Decimal),
		orders:    make(map[string]domain.Order),
		logger:    logger.With(slog.String("component", "paper")),
		now:       time.Now,
	}
}

var _ domain.TradingClient = (*PaperClient)(nil)

func (p *PaperClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if req.TokenID == "" {
		return domain.Order{}, fmt.Errorf("%w: token id required", domain.ErrUnknownToken)
	}
	if !req.Price.IsPositive() || req.Price.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Order{}, fmt.Errorf("price %s outside (0, 1]", req.Price)
	}
	if !req.Size.IsPositive() {
		return domain.Order{}, fmt.Errorf("size must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order := domain.Order{
		ID:        uuid.NewString(),
		TokenID:   req.TokenID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		CreatedAt: p.now(),
	}

	switch req.Side {
	case domain.SideBuy:
		cost := req.Price.Mul(req.Size)
		if cost.GreaterThan(p.cash) {
			return domain.Order{}, fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientBalance, cost.StringFixed(2), p.cash.StringFixed(2))
		}
		p.cash = p.cash.Sub(cost)
		p.positions[req.TokenID] = p.positions[req.TokenID].Add(req.Size)
		order.Status = domain.OrderStatusMatched
		p.fills = append(p.fills, Fill{OrderID: order.ID, TokenID: req.TokenID, Side: req.Side, Price: req.Price, Size: req.Size, At: order.CreatedAt})

	case domain.SideSell:
		held := p.positions[req.TokenID]
		if req.Size.GreaterThan(held) {
			return domain.Order{}, fmt.Errorf("%w: selling %s of %s held", domain.ErrInsufficientBalance, req.Size, held)
		}
		p.positions[req.TokenID] = held.Sub(req.Size)
		order.Status = domain.OrderStatusLive

	default:
		return domain.Order{}, fmt.Errorf("unknown side %q", req.Side)
	}

	p.orders[order.ID] = order
	p.logger.Info("paper order",
		slog.String("id", order.ID),
		slog.String("side", string(order.Side)),
		slog.String("price", order.Price.String()),
		slog.String("size", order.Size.String()),
		slog.String("status", order.Status))
	return order, nil
}

func (p *PaperClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok || !order.IsOpen() {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if order.Side == domain.SideSell {
		p.positions[order.TokenID] = p.positions[order.TokenID].Add(order.Size)
	}
	order.Status = domain.OrderStatusCancelled
	p.orders[orderID] = order
	return nil
}

func (p *PaperClient) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *PaperClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

// ProxyBalance is the same account in paper mode.
func (p *PaperClient) ProxyBalance(ctx context.Context) (decimal.Decimal, error) {
	return p.Balance(ctx)
}

// Position returns the shares held of tokenID.
func (p *PaperClient) Position(tokenID string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[tokenID]
}

// Fills returns a copy of every simulated fill.
func (p *PaperClient) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}
