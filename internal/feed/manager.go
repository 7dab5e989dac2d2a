package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/event"
	"pm_terminal/internal/infra"
	"pm_terminal/internal/orderbook"
)

const defaultBufferSize = 1024

// URLs are the websocket endpoints per feed category.
type URLs struct {
	Market   string
	User     string
	LiveData string
}

// MarketCallbacks receive a view of every book a market message mutated.
type MarketCallbacks struct {
	OnBook        func(orderbook.View)
	OnPriceChange func(orderbook.View)
	OnLastTrade   func(orderbook.View)
}

// UserCallbacks receive the authenticated user's order and trade updates.
type UserCallbacks struct {
	OnOrder func(*event.UserOrder)
	OnTrade func(*event.UserTrade)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics counts decoded and dropped messages.
func WithMetrics(metrics *infra.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithURLs overrides the feed endpoints.
func WithURLs(u URLs) Option {
	return func(m *Manager) { m.urls = u }
}

// WithBufferSize bounds each connection's message channel.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

type connection struct {
	category Category
	gen      uint64
	cancel   context.CancelFunc
	closed   atomic.Bool
	done     chan struct{}
}

// Manager owns up to one connection per Category. Each connection runs a
// reader goroutine (the transport) and a demultiplexer goroutine that applies
// book events to the store and fans out to callbacks.
type Manager struct {
	store      *orderbook.Store
	transport  Transport
	creds      *domain.Credentials
	urls       URLs
	bufferSize int
	logger     *slog.Logger
	metrics    *infra.Metrics

	// applyMu orders store mutations against DisconnectAll.
	applyMu sync.RWMutex
	gen     atomic.Uint64

	mu        sync.Mutex
	conns     map[Category]*connection
	connected map[Category]bool
}

// NewManager creates a manager. A nil transport makes market and live-data
// connects logged no-ops.
func NewManager(store *orderbook.Store, transport Transport, creds *domain.Credentials, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		transport:  transport,
		creds:      creds,
		bufferSize: defaultBufferSize,
		logger:     slog.Default(),
		conns:      make(map[Category]*connection),
		connected: map[Category]bool{
			CategoryMarket: false,
			CategoryUser:   false,
			CategoryLive:   false,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "feed"))
	return m
}

// Store returns the order book store the manager writes into.
func (m *Manager) Store() *orderbook.Store { return m.store }

// ConnectMarket subscribes to the market feed for tokenIDs, replacing any
// previous market connection. Every token has a fresh empty book before this
// returns, so nothing from an earlier connection survives.
func (m *Manager) ConnectMarket(ctx context.Context, tokenIDs []string, cb MarketCallbacks) error {
	if m.transport == nil {
		m.logger.Warn("market feed unavailable: no transport", slog.Int("tokens", len(tokenIDs)))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked(CategoryMarket)
	m.store.Reset(tokenIDs...)

	sub := Subscription{
		Category: CategoryMarket,
		URL:      m.urls.Market,
		Message: map[string]any{
			"type":       "market",
			"assets_ids": tokenIDs,
		},
	}
	m.startLocked(ctx, sub, func(c *connection, raw []byte) { m.handleMarket(c, raw, cb) })
	m.logger.Info("market feed connecting", slog.Int("tokens", len(tokenIDs)))
	return nil
}

// ConnectUser subscribes to the authenticated user feed.
func (m *Manager) ConnectUser(ctx context.Context, markets []string, cb UserCallbacks) error {
	if m.transport == nil {
		m.logger.Warn("user feed unavailable: no transport")
		return nil
	}
	if !m.creds.Valid() {
		return domain.ErrMissingCredentials
	}
	if markets == nil {
		markets = []string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked(CategoryUser)
	sub := Subscription{
		Category: CategoryUser,
		URL:      m.urls.User,
		Message: map[string]any{
			"type":    "user",
			"markets": markets,
			"auth": map[string]string{
				"apiKey":     m.creds.APIKey,
				"secret":     m.creds.Secret,
				"passphrase": m.creds.Passphrase,
			},
		},
	}
	m.startLocked(ctx, sub, func(_ *connection, raw []byte) { m.handleUser(raw, cb) })
	m.logger.Info("user feed connecting", slog.Int("markets", len(markets)))
	return nil
}

// ConnectLiveData subscribes to the generic live-data feed.
func (m *Manager) ConnectLiveData(ctx context.Context, subscriptions []map[string]any, onEvent func(*event.LiveEvent)) error {
	if m.transport == nil {
		m.logger.Warn("live data feed unavailable: no transport")
		return nil
	}

	msg := map[string]any{
		"action":        "subscribe",
		"subscriptions": subscriptions,
	}
	if m.creds.Valid() {
		msg["clob_auth"] = map[string]string{
			"key":        m.creds.APIKey,
			"secret":     m.creds.Secret,
			"passphrase": m.creds.Passphrase,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked(CategoryLive)
	sub := Subscription{Category: CategoryLive, URL: m.urls.LiveData, Message: msg}
	m.startLocked(ctx, sub, func(_ *connection, raw []byte) { m.handleLive(raw, onEvent) })
	m.logger.Info("live data feed connecting", slog.Int("subscriptions", len(subscriptions)))
	return nil
}

// DisconnectAll marks every category disconnected, stops all connections and
// clears the store in one step. Messages still in flight are discarded.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyMu.Lock()
	m.gen.Add(1)
	for cat := range m.connected {
		m.connected[cat] = false
	}
	for cat, c := range m.conns {
		c.closed.Store(true)
		c.cancel()
		delete(m.conns, cat)
	}
	m.store.Clear()
	m.applyMu.Unlock()

	m.logger.Info("all feeds disconnected")
}

// IsConnected reports whether any category is marked connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ok := range m.connected {
		if ok {
			return true
		}
	}
	return false
}

// Status returns the last-known state per category.
func (m *Manager) Status() map[Category]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Category]bool, len(m.connected))
	for k, v := range m.connected {
		out[k] = v
	}
	return out
}

func (m *Manager) teardownLocked(cat Category) {
	c, ok := m.conns[cat]
	if !ok {
		return
	}
	c.closed.Store(true)
	c.cancel()
	delete(m.conns, cat)
	m.connected[cat] = false
}

func (m *Manager) startLocked(ctx context.Context, sub Subscription, handle func(*connection, []byte)) {
	// Connections outlive the request that opened them.
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &connection{
		category: sub.Category,
		gen:      m.gen.Load(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.conns[sub.Category] = c
	m.connected[sub.Category] = true

	msgs := make(chan []byte, m.bufferSize)

	go func() {
		defer close(msgs)
		err := m.transport.Stream(cctx, sub, func(raw []byte) {
			select {
			case msgs <- raw:
			case <-cctx.Done():
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("feed stream stopped", slog.String("feed", string(sub.Category)), slog.Any("error", err))
		}
		m.markStopped(c)
	}()

	go func() {
		defer close(c.done)
		for raw := range msgs {
			if m.stale(c) {
				m.metrics.RecordDropped(string(c.category), "disconnected")
				continue
			}
			handle(c, raw)
		}
	}()
}

func (m *Manager) markStopped(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.conns[c.category]; ok && cur == c {
		delete(m.conns, c.category)
		m.connected[c.category] = false
	}
}

func (m *Manager) stale(c *connection) bool {
	return c.closed.Load() || c.gen != m.gen.Load()
}

func (m *Manager) decode(cat Category, raw []byte) []event.Event {
	events, err := event.Decode(raw)
	if err != nil {
		reason := "decode"
		if errors.Is(err, event.ErrUnknownType) {
			reason = "unknown_type"
		}
		m.metrics.RecordDropped(string(cat), reason)
		m.logger.Warn("feed decode failed", slog.String("feed", string(cat)), slog.Any("error", err))
	}
	return events
}

func (m *Manager) handleMarket(c *connection, raw []byte, cb MarketCallbacks) {
	events := m.decode(CategoryMarket, raw)

	for _, ev := range events {
		m.applyMu.RLock()
		if m.stale(c) {
			m.applyMu.RUnlock()
			return
		}
		views, err := m.store.Apply(ev)
		m.applyMu.RUnlock()

		if err != nil {
			m.metrics.RecordDropped(string(CategoryMarket), "unroutable")
			m.logger.Warn("market event dropped", slog.String("type", string(ev.Type())), slog.Any("error", err))
			continue
		}
		m.metrics.RecordFeedMessage(string(CategoryMarket))

		var fn func(orderbook.View)
		switch ev.(type) {
		case *event.BookSnapshot:
			fn = cb.OnBook
		case *event.PriceChange:
			fn = cb.OnPriceChange
		case *event.LastTrade:
			fn = cb.OnLastTrade
		default:
			m.logger.Debug("ignoring non-book event on market feed", slog.String("type", string(ev.Type())))
		}
		for _, v := range views {
			m.safeCall(func() { fn(v) }, fn == nil)
		}
	}
}

func (m *Manager) handleUser(raw []byte, cb UserCallbacks) {
	for _, ev := range m.decode(CategoryUser, raw) {
		m.metrics.RecordFeedMessage(string(CategoryUser))
		switch e := ev.(type) {
		case *event.UserOrder:
			m.safeCall(func() { cb.OnOrder(e) }, cb.OnOrder == nil)
		case *event.UserTrade:
			m.safeCall(func() { cb.OnTrade(e) }, cb.OnTrade == nil)
		default:
			m.logger.Debug("ignoring event on user feed", slog.String("type", string(ev.Type())))
		}
	}
}

func (m *Manager) handleLive(raw []byte, onEvent func(*event.LiveEvent)) {
	for _, ev := range m.decode(CategoryLive, raw) {
		live, ok := ev.(*event.LiveEvent)
		if !ok {
			continue
		}
		m.metrics.RecordFeedMessage(string(CategoryLive))
		m.safeCall(func() { onEvent(live) }, onEvent == nil)
	}
}

func (m *Manager) safeCall(fn func(), skip bool) {
	if skip {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("feed callback panic", slog.Any("panic", r))
		}
	}()
	fn()
}
