package quickbuy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/infra"

	"github.com/shopspring/decimal"
)

// PendingAutoSell is a sell scheduled to follow a quick buy.
type PendingAutoSell struct {
	OrderID  string
	TokenID  string
	Size     decimal.Decimal
	Deadline time.Time
}

// Executor performs a due auto-sell.
type Executor func(ctx context.Context, sell PendingAutoSell)

type pendingEntry struct {
	PendingAutoSell
	timer *time.Timer
}

// Scheduler holds one cancellable timer per buy order.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	exec    Executor
	logger  *slog.Logger
	metrics *infra.Metrics
}

// NewScheduler creates a scheduler that runs exec when a deadline passes.
func NewScheduler(exec Executor, logger *slog.Logger, metrics *infra.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pending: make(map[string]*pendingEntry),
		exec:    exec,
		logger:  logger.With(slog.String("component", "autosell")),
		metrics: metrics,
	}
}

// Schedule arranges a sell of size tokenID after delay. A second schedule for
// the same order replaces the first.
func (s *Scheduler) Schedule(orderID, tokenID string, size decimal.Decimal, delay time.Duration) PendingAutoSell {
	entry := &pendingEntry{PendingAutoSell: PendingAutoSell{
		OrderID:  orderID,
		TokenID:  tokenID,
		Size:     size,
		Deadline: time.Now().Add(delay),
	}}

	s.mu.Lock()
	if prev, ok := s.pending[orderID]; ok {
		prev.timer.Stop()
	}
	s.pending[orderID] = entry
	entry.timer = time.AfterFunc(delay, func() { s.fire(entry) })
	s.mu.Unlock()

	s.logger.Info("auto-sell scheduled", slog.String("order", orderID), slog.Duration("delay", delay))
	return entry.PendingAutoSell
}

func (s *Scheduler) fire(entry *pendingEntry) {
	s.mu.Lock()
	cur, ok := s.pending[entry.OrderID]
	if !ok || cur != entry {
		s.mu.Unlock()
		return
	}
	delete(s.pending, entry.OrderID)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("auto-sell executor panic", slog.String("order", entry.OrderID), slog.Any("panic", r))
		}
	}()

	s.logger.Info("auto-sell due", slog.String("order", entry.OrderID), slog.String("token", entry.TokenID))
	s.metrics.RecordAutoSell()
	if s.exec != nil {
		s.exec(context.Background(), entry.PendingAutoSell)
	}
}

// Cancel stops a pending auto-sell. Cancelling one that already fired or was
// already cancelled returns an error wrapping domain.ErrNoPendingAutoSell.
func (s *Scheduler) Cancel(orderID string) (string, error) {
	s.mu.Lock()
	entry, ok := s.pending[orderID]
	if ok {
		entry.timer.Stop()
		delete(s.pending, orderID)
	}
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w for order %s", domain.ErrNoPendingAutoSell, orderID)
	}
	s.logger.Info("auto-sell cancelled", slog.String("order", orderID))
	return fmt.Sprintf("Cancelled auto-sell for order %s", orderID), nil
}

// Pending returns the scheduled sells ordered by deadline.
func (s *Scheduler) Pending() []PendingAutoSell {
	s.mu.Lock()
	out := make([]PendingAutoSell, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.PendingAutoSell)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}
