package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pm_terminal/internal/command"
	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/event"
	"pm_terminal/internal/execution"
	"pm_terminal/internal/feed"
	"pm_terminal/internal/infra"
	"pm_terminal/internal/infra/gamma"
	"pm_terminal/internal/infra/storage"
	"pm_terminal/internal/orderbook"
	"pm_terminal/internal/quickbuy"
	"pm_terminal/internal/request"
)

// OriginAutoSell tags commands submitted by the auto-sell scheduler.
const OriginAutoSell = "autosell"

const autoSellWait = 30 * time.Second

// Bootstrap orchestrates the application startup sequence and owns every
// long-lived component.
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Metrics *infra.Metrics

	// Transport overrides the websocket transport when set before Initialize.
	Transport feed.Transport

	Storage  *storage.Storage
	Books    *orderbook.Store
	Feed     *feed.Manager
	Metadata *gamma.Client
	Trading  *execution.PaperClient
	AutoSell *quickbuy.Scheduler
	QuickBuy *quickbuy.Manager
	Commands *dispatch.Dispatcher
	Requests *dispatch.Dispatcher
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(cfg *infra.Config, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{Config: cfg, Logger: logger, Metrics: infra.NewMetrics()}
}

// Initialize builds and wires every component. Dispatchers start on first submit.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg := b.Config
	log := b.Logger
	log.Info("🚀 Bootstrapping PM Terminal...")

	// 1. Storage
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	log.Info("✅ Database initialized")

	// 2. Books and feeds
	b.Books = orderbook.NewStore(log)
	if b.Transport == nil {
		ws := feed.NewWSTransport(log, b.Metrics)
		ws.PingInterval = cfg.PingInterval()
		ws.ReadTimeout = cfg.ReadTimeout()
		b.Transport = ws
	}
	b.Feed = feed.NewManager(b.Books, b.Transport, cfg.FeedCredentials(),
		feed.WithLogger(log),
		feed.WithMetrics(b.Metrics),
		feed.WithBufferSize(cfg.Feed.BufferSize),
		feed.WithURLs(feed.URLs{
			Market:   cfg.Feed.MarketURL,
			User:     cfg.Feed.UserURL,
			LiveData: cfg.Feed.LiveDataURL,
		}),
	)

	// 3. External services
	b.Metadata = gamma.NewClient(
		gamma.WithBaseURL(cfg.Gamma.BaseURL),
		gamma.WithTimeout(time.Duration(cfg.Gamma.TimeoutMS)*time.Millisecond),
		gamma.WithRateLimit(cfg.Gamma.RequestsPerSecond, cfg.Gamma.Burst),
		gamma.WithLogger(log),
	)
	b.Trading = execution.NewPaperClient(cfg.Paper.InitialBalance, log)
	log.Info("✅ Paper trading client ready", slog.String("balance", cfg.Paper.InitialBalance.String()))

	// 4. Quick buy and auto-sell
	b.AutoSell = quickbuy.NewScheduler(b.executeAutoSell, log, b.Metrics)
	qb, err := quickbuy.NewManager(ctx, quickbuy.Options{
		Profiles:  b.Storage,
		Client:    b.Trading,
		Books:     b.Books,
		Scheduler: b.AutoSell,
		Logger:    log,
		Metrics:   b.Metrics,
	})
	if err != nil {
		return err
	}
	b.QuickBuy = qb

	// 5. Dispatchers
	b.Commands = dispatch.New("commands",
		dispatch.WithQueueSize(cfg.Dispatch.CommandQueueSize),
		dispatch.WithLogger(log),
		dispatch.WithMetrics(b.Metrics),
	)
	command.New(command.Deps{
		Feed:     b.Feed,
		Books:    b.Books,
		Metadata: b.Metadata,
		Client:   b.Trading,
		Tokens:   b.Storage,
		QuickBuy: b.QuickBuy,
		Market:   b.marketCallbacks(),
		User:     b.userCallbacks(),
		Logger:   log,
		Metrics:  b.Metrics,
	}).Register(b.Commands)

	reqOpts := append(request.DispatcherOptions(),
		dispatch.WithQueueSize(cfg.Dispatch.RequestQueueSize),
		dispatch.WithLogger(log),
		dispatch.WithMetrics(b.Metrics),
	)
	b.Requests = dispatch.New("requests", reqOpts...)
	request.New(b.Trading,
		request.WithCacheTTL(time.Duration(cfg.Dispatch.BalanceCacheSec)*time.Second),
		request.WithAddress(cfg.Credentials.FunderAddress),
		request.WithLogger(log),
	).Register(b.Requests)

	log.Info("✅ Dispatchers ready",
		slog.Any("commands", b.Commands.Handlers()),
		slog.Any("requests", b.Requests.Handlers()))
	return nil
}

func (b *Bootstrap) marketCallbacks() feed.MarketCallbacks {
	logBook := func(kind string) func(orderbook.View) {
		return func(v orderbook.View) {
			if !b.Logger.Enabled(context.Background(), slog.LevelDebug) {
				return
			}
			attrs := []any{slog.String("kind", kind), slog.String("token", v.TokenID),
				slog.Int("bids", len(v.Bids)), slog.Int("asks", len(v.Asks))}
			if mid, ok := v.Mid(); ok {
				attrs = append(attrs, slog.String("mid", mid.String()))
			}
			b.Logger.Debug("book update", attrs...)
		}
	}
	return feed.MarketCallbacks{
		OnBook:        logBook("book"),
		OnPriceChange: logBook("price_change"),
		OnLastTrade:   logBook("last_trade"),
	}
}

func (b *Bootstrap) userCallbacks() feed.UserCallbacks {
	return feed.UserCallbacks{
		OnOrder: func(o *event.UserOrder) {
			b.Logger.Info("user order", slog.String("id", o.ID), slog.String("status", o.Status))
		},
		OnTrade: func(t *event.UserTrade) {
			b.Logger.Info("user trade", slog.String("id", t.ID), slog.String("price", t.Price.String()), slog.String("size", t.Size.String()))
		},
	}
}

// executeAutoSell turns a due auto-sell into a sell command at the best bid.
func (b *Bootstrap) executeAutoSell(ctx context.Context, ps quickbuy.PendingAutoSell) {
	price := quickbuy.FallbackPrice
	if v, ok := b.Books.Get(ps.TokenID); ok && v.BestBid != nil && v.BestBid.Price.IsPositive() {
		price = v.BestBid.Price
	}

	cmd := fmt.Sprintf("sell %s %s %s", ps.TokenID, price, ps.Size)
	fut := b.Commands.Submit(ctx, OriginAutoSell, cmd, nil, map[string]any{"buy_order_id": ps.OrderID})

	waitCtx, cancel := context.WithTimeout(ctx, autoSellWait)
	defer cancel()
	resp, err := fut.Wait(waitCtx)
	if err != nil {
		b.Logger.Error("auto-sell did not complete", slog.String("order", ps.OrderID), slog.Any("error", err))
		return
	}
	if !resp.Success {
		b.Logger.Error("auto-sell failed", slog.String("order", ps.OrderID), slog.String("message", resp.Message))
		return
	}
	b.Logger.Info("auto-sell placed", slog.String("order", ps.OrderID), slog.String("message", resp.Message))
}

// RestoreSubscription resubscribes to the tokens saved by the last 'ws sub'.
func (b *Bootstrap) RestoreSubscription(ctx context.Context) {
	rec, err := b.Storage.LoadActiveTokens(ctx)
	if err != nil {
		b.Logger.Warn("failed to load saved subscription", slog.Any("error", err))
		return
	}
	if rec == nil || len(rec.Tokens()) == 0 {
		return
	}

	b.Logger.Info("🔄 Restoring saved subscription", slog.Int("tokens", len(rec.Tokens())), slog.String("slug", rec.MarketSlug))
	resp, err := b.Commands.Submit(ctx, "startup", "ws sub", nil, nil).Wait(ctx)
	if err != nil {
		return
	}
	if !resp.Success {
		b.Logger.Warn("restore failed", slog.String("message", resp.Message))
	}
}

// Shutdown stops the dispatchers, the feeds, pending auto-sells and storage.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	var errs []error

	if b.AutoSell != nil {
		b.AutoSell.Stop()
	}
	for _, d := range []*dispatch.Dispatcher{b.Commands, b.Requests} {
		if d == nil {
			continue
		}
		if err := d.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", d.Name(), err))
		}
	}
	if b.Feed != nil {
		b.Feed.DisconnectAll()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}

	b.Logger.Info("👋 Shutdown complete")
	return errors.Join(errs...)
}
