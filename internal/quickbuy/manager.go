package quickbuy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/infra"
	"pm_terminal/internal/orderbook"
	"pm_terminal/internal/strategy"

	"github.com/shopspring/decimal"
)

// ProfilesKey is the config key the profile set is stored under.
const ProfilesKey = "quickbuy_profiles"

// FallbackPrice is used when the book has no ask.
var FallbackPrice = decimal.RequireFromString("0.50")

// ErrNotFootball is returned by football commands when the active strategy is another kind.
var ErrNotFootball = errors.New("active profile does not use the football strategy")

// ProfileStore persists the profile document. *storage.Storage satisfies it.
type ProfileStore interface {
	SaveConfig(ctx context.Context, key, value string) error
	LoadConfig(ctx context.Context, key string) (string, bool, error)
}

// Options configures a Manager.
type Options struct {
	Profiles  ProfileStore
	Client    domain.TradingClient
	Books     *orderbook.Store
	Scheduler *Scheduler
	Logger    *slog.Logger
	Metrics   *infra.Metrics
}

// Manager owns the quick-buy profiles, the active strategy and the YES/NO
// tokens of the current market.
type Manager struct {
	mu       sync.RWMutex
	set      ProfileSet
	strategy strategy.Strategy
	yesToken string
	noToken  string

	profiles  ProfileStore
	client    domain.TradingClient
	books     *orderbook.Store
	scheduler *Scheduler
	logger    *slog.Logger
	metrics   *infra.Metrics
}

// NewManager loads the persisted profiles, falling back to the defaults.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		profiles:  opts.Profiles,
		client:    opts.Client,
		books:     opts.Books,
		scheduler: opts.Scheduler,
		logger:    logger.With(slog.String("component", "quickbuy")),
		metrics:   opts.Metrics,
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	set := defaultProfileSet()

	if m.profiles != nil {
		raw, ok, err := m.profiles.LoadConfig(ctx, ProfilesKey)
		if err != nil {
			return fmt.Errorf("load quickbuy profiles: %w", err)
		}
		if ok {
			var stored ProfileSet
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				m.logger.Warn("stored profiles unreadable, using defaults", slog.Any("error", err))
			} else if len(stored.Profiles) > 0 {
				set = stored
			}
		}
	}
	if _, ok := set.Profiles[set.Active]; !ok {
		set.Active = set.names()[0]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set
	return m.rebuildLocked()
}

func (m *Manager) rebuildLocked() error {
	p := m.set.Profiles[m.set.Active]
	s, err := strategy.New(p.Strategy, p.limits())
	if err != nil {
		return err
	}
	m.strategy = s
	return nil
}

func (m *Manager) saveLocked(ctx context.Context) error {
	if m.profiles == nil {
		return nil
	}
	raw, err := json.Marshal(m.set)
	if err != nil {
		return err
	}
	if err := m.profiles.SaveConfig(ctx, ProfilesKey, string(raw)); err != nil {
		return fmt.Errorf("save quickbuy profiles: %w", err)
	}
	return nil
}

// Active returns the active profile key and its settings.
func (m *Manager) Active() (string, Profile) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Active, m.set.Profiles[m.set.Active]
}

// Strategy returns the active strategy.
func (m *Manager) Strategy() strategy.Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

// SetTokens records the YES and NO token of the subscribed market.
func (m *Manager) SetTokens(yes, no string) {
	m.mu.Lock()
	m.yesToken, m.noToken = yes, no
	m.mu.Unlock()
}

// Tokens returns the YES and NO token.
func (m *Manager) Tokens() (yes, no string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.yesToken, m.noToken
}

// ListProfiles renders every profile, marking the active one.
func (m *Manager) ListProfiles() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Quick-buy profiles:\n")
	for _, key := range m.set.names() {
		p := m.set.Profiles[key]
		marker := " "
		if key == m.set.Active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s (%s) strategy=%s amount=%g%% auto_sell=%t\n",
			marker, key, p.Name, p.Strategy, p.AmountPercent, p.AutoSell)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SwitchProfile activates an existing profile.
func (m *Manager) SwitchProfile(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.set.Profiles[key]
	if !ok {
		return "", fmt.Errorf("profile '%s' not found. Available: %s", key, strings.Join(m.set.names(), ", "))
	}
	prev := m.set.Active
	m.set.Active = key
	if err := m.rebuildLocked(); err != nil {
		m.set.Active = prev
		return "", err
	}
	if err := m.saveLocked(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Switched to profile: %s (%s)", key, p.Name), nil
}

// CreateProfile adds a profile copied from base, or from the defaults when base is empty.
func (m *Manager) CreateProfile(ctx context.Context, key, base string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("profile name must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.set.Profiles[key]; exists {
		return "", fmt.Errorf("profile '%s' already exists", key)
	}
	p := DefaultProfile(key)
	if base != "" {
		src, ok := m.set.Profiles[base]
		if !ok {
			return "", fmt.Errorf("profile '%s' not found. Available: %s", base, strings.Join(m.set.names(), ", "))
		}
		p = src
		p.Name = key
	}
	p.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	m.set.Profiles[key] = p

	if err := m.saveLocked(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created profile: %s", key), nil
}

// UpdateProperty sets one property of the active profile.
func (m *Manager) UpdateProperty(ctx context.Context, prop, value string) (string, error) {
	prop = strings.ToLower(strings.TrimSpace(prop))

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.set.Profiles[m.set.Active]
	stored, err := p.setProperty(prop, value)
	if err != nil {
		return "", err
	}
	p.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	old := m.set.Profiles[m.set.Active]
	m.set.Profiles[m.set.Active] = p

	// Keep the football match state when only limits change.
	if prop == "strategy" || prop == "max_probability" || prop == "max_shares" {
		if err := m.rebuildLocked(); err != nil {
			m.set.Profiles[m.set.Active] = old
			return "", err
		}
	}
	if err := m.saveLocked(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %s = %s", prop, stored), nil
}

// Summary renders the active profile, the tokens, the strategy state and pending auto-sells.
func (m *Manager) Summary() string {
	key, p := m.Active()
	yes, no := m.Tokens()
	s := m.Strategy()

	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s (%s)\n", key, p.Name)
	fmt.Fprintf(&b, "  strategy=%s amount=%g%% auto_sell=%t auto_sell_time=%ds\n",
		p.Strategy, p.AmountPercent, p.AutoSell, p.AutoSellTime)
	fmt.Fprintf(&b, "  shortcuts: yes=%s no=%s\n", p.ShortcutYes, p.ShortcutNo)
	fmt.Fprintf(&b, "  max_probability=%s max_shares=%s\n", optionalString(p.MaxProbability), optionalString(p.MaxShares))
	fmt.Fprintf(&b, "Tokens: YES=%s NO=%s\n", orNone(yes), orNone(no))
	b.WriteString(s.Describe())
	if m.scheduler != nil {
		for _, ps := range m.scheduler.Pending() {
			fmt.Fprintf(&b, "\nAuto-sell pending: order=%s size=%s in %s",
				ps.OrderID, ps.Size, time.Until(ps.Deadline).Round(time.Second))
		}
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Football returns the active football strategy.
func (m *Manager) Football() (*strategy.Football, error) {
	f, ok := m.Strategy().(*strategy.Football)
	if !ok {
		return nil, ErrNotFootball
	}
	return f, nil
}

// Execution is the outcome of a quick buy.
type Execution struct {
	Order    domain.Order
	Outcome  domain.Outcome
	Amount   decimal.Decimal
	AutoSell *PendingAutoSell
}

// Message renders the execution for the terminal.
func (e Execution) Message() string {
	msg := fmt.Sprintf("Quick buy %s: %s shares @ %s ($%s) order %s",
		e.Outcome, e.Order.Size, e.Order.Price, e.Amount.StringFixed(2), e.Order.ID)
	if e.AutoSell != nil {
		msg += fmt.Sprintf(", auto-sell in %s", time.Until(e.AutoSell.Deadline).Round(time.Second))
	}
	return msg
}

// Execute buys outcome with the active profile. balance overrides the proxy
// balance lookup when valid.
func (m *Manager) Execute(ctx context.Context, outcome domain.Outcome, balance decimal.NullDecimal) (Execution, error) {
	if m.client == nil {
		return Execution{}, errors.New("trading client not available")
	}

	yes, no := m.Tokens()
	tokenID := yes
	if outcome == domain.OutcomeNo {
		tokenID = no
	}
	if tokenID == "" {
		return Execution{}, fmt.Errorf("%w: %s token not available; subscribe first with 'ws sub <market-slug>'", domain.ErrUnknownToken, outcome)
	}

	price := FallbackPrice
	if m.books != nil {
		if v, ok := m.books.Get(tokenID); ok && v.BestAsk != nil && v.BestAsk.Price.IsPositive() {
			price = v.BestAsk.Price
		}
	}

	_, profile := m.Active()
	s := m.Strategy()

	if ok, reason := s.PreExecutionCheck(outcome, price); !ok {
		return Execution{}, fmt.Errorf("strategy check failed: %s", reason)
	}
	if maxP, ok := s.MaxProbability(outcome, price); ok && price.GreaterThan(maxP) {
		return Execution{}, fmt.Errorf("price %s exceeds strategy max %s", price, maxP)
	}

	funds := balance.Decimal
	if !balance.Valid {
		var err error
		funds, err = m.client.ProxyBalance(ctx)
		if err != nil {
			return Execution{}, fmt.Errorf("fetch balance: %w", err)
		}
	}

	amount := funds.Mul(decimal.NewFromFloat(profile.AmountPercent)).Div(decimal.NewFromInt(100)).RoundDown(2)
	if !amount.IsPositive() {
		return Execution{}, fmt.Errorf("amount to spend is zero (balance %s)", funds.StringFixed(2))
	}

	shares := amount.Div(price).RoundDown(2)
	if maxS, ok := s.MaxShares(outcome, price); ok && shares.GreaterThan(maxS) {
		shares = maxS
	}
	if !shares.IsPositive() {
		return Execution{}, errors.New("order size rounds to zero shares")
	}

	order, err := m.client.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: tokenID,
		Side:    domain.SideBuy,
		Price:   price,
		Size:    shares,
	})
	if err != nil {
		m.metrics.RecordError()
		return Execution{}, fmt.Errorf("place order: %w", err)
	}
	m.metrics.RecordOrderPlaced(string(domain.SideBuy))
	s.PostExecutionHook(outcome, price, shares)

	exec := Execution{Order: order, Outcome: outcome, Amount: price.Mul(shares)}
	if profile.AutoSell && m.scheduler != nil {
		ps := m.scheduler.Schedule(order.ID, tokenID, shares, time.Duration(profile.AutoSellTime)*time.Second)
		exec.AutoSell = &ps
	}

	m.logger.Info("quick buy executed",
		slog.String("outcome", string(outcome)),
		slog.String("order", order.ID),
		slog.String("price", price.String()),
		slog.String("shares", shares.String()))
	return exec, nil
}

// CancelAutoSell stops the auto-sell scheduled for orderID.
func (m *Manager) CancelAutoSell(orderID string) (string, error) {
	if m.scheduler == nil {
		return "", fmt.Errorf("%w for order %s", domain.ErrNoPendingAutoSell, orderID)
	}
	return m.scheduler.Cancel(orderID)
}

// Pending returns the scheduled auto-sells.
func (m *Manager) Pending() []PendingAutoSell {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Pending()
}
