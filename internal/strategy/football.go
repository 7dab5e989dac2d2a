package strategy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

// Team is the side of a match being tracked.
type Team string

const (
	TeamHome Team = "home"
	TeamAway Team = "away"
)

const regulationMinutes = 90

var (
	tiedMax   = decimal.RequireFromString("0.50")
	leadBase  = decimal.RequireFromString("0.60")
	leadStep  = decimal.RequireFromString("0.10")
	clockGain = decimal.RequireFromString("0.30")
	ceiling   = decimal.RequireFromString("0.97")
)

// MatchState is the live score and clock entered by the operator.
type MatchState struct {
	mu sync.Mutex

	home, away int
	minute     int
	injury     int
	side       Team
	startedAt  time.Time // zero when the timer is stopped
	now        func() time.Time
}

// SetScore records the current score.
func (m *MatchState) SetScore(home, away int) error {
	if home < 0 || away < 0 {
		return fmt.Errorf("score must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.home, m.away = home, away
	return nil
}

// SetTime records the match minute and injury time, resetting a running timer's origin.
func (m *MatchState) SetTime(minute, injury int) error {
	if minute < 0 || minute > 130 || injury < 0 {
		return fmt.Errorf("invalid match time %d+%d", minute, injury)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minute, m.injury = minute, injury
	if !m.startedAt.IsZero() {
		m.startedAt = m.now()
	}
	return nil
}

// SetSide chooses which team YES refers to.
func (m *MatchState) SetSide(side string) error {
	t := Team(strings.ToLower(strings.TrimSpace(side)))
	if t != TeamHome && t != TeamAway {
		return fmt.Errorf("side must be 'home' or 'away'")
	}
	m.mu.Lock()
	m.side = t
	m.mu.Unlock()
	return nil
}

// StartTimer advances the minute with the wall clock.
func (m *MatchState) StartTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt.IsZero() {
		m.startedAt = m.now()
	}
}

// StopTimer freezes the clock at the current minute.
func (m *MatchState) StopTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minute = m.currentMinuteLocked()
	m.startedAt = time.Time{}
}

// Running reports whether the timer is on.
func (m *MatchState) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.startedAt.IsZero()
}

// Minute returns the current match minute.
func (m *MatchState) Minute() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentMinuteLocked()
}

func (m *MatchState) currentMinuteLocked() int {
	if m.startedAt.IsZero() {
		return m.minute
	}
	return m.minute + int(m.now().Sub(m.startedAt)/time.Minute)
}

// lead is the tracked team's goal difference. ok is false until a side is chosen.
func (m *MatchState) lead() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.side {
	case TeamHome:
		return m.home - m.away, true
	case TeamAway:
		return m.away - m.home, true
	default:
		return 0, false
	}
}

// Football prices a buy from the score line and the clock: YES backs the
// tracked team, NO backs against it.
type Football struct {
	limits Limits
	State  *MatchState
	trades int
}

// NewFootball creates a football strategy with an empty match state.
func NewFootball(limits Limits) *Football {
	return &Football{
		limits: limits,
		State:  &MatchState{now: time.Now},
	}
}

func (f *Football) Kind() Kind { return KindFootball }

func (f *Football) outcomeLead(outcome domain.Outcome) (int, bool) {
	lead, ok := f.State.lead()
	if !ok {
		return 0, false
	}
	if outcome == domain.OutcomeNo {
		lead = -lead
	}
	return lead, true
}

func (f *Football) PreExecutionCheck(outcome domain.Outcome, price decimal.Decimal) (bool, string) {
	if ok, reason := checkPrice(price); !ok {
		return false, reason
	}
	lead, ok := f.outcomeLead(outcome)
	if !ok {
		return false, "tracked side not set (quickbuy football side <home|away>)"
	}
	if lead < 0 {
		return false, fmt.Sprintf("%s is behind by %d", outcome, -lead)
	}
	return true, ""
}

// MaxProbability grows with the lead and with the clock. A level game caps
// at 0.50 and decays as time runs out.
func (f *Football) MaxProbability(outcome domain.Outcome, _ decimal.Decimal) (decimal.Decimal, bool) {
	lead, ok := f.outcomeLead(outcome)
	if !ok {
		return decimal.Zero, false
	}
	minute := min(f.State.Minute(), regulationMinutes)
	progress := decimal.NewFromInt(int64(minute)).Div(decimal.NewFromInt(regulationMinutes))

	var maxProb decimal.Decimal
	switch {
	case lead <= 0:
		maxProb = tiedMax.Sub(progress.Mul(decimal.RequireFromString("0.15")))
	default:
		maxProb = leadBase.
			Add(leadStep.Mul(decimal.NewFromInt(int64(lead - 1)))).
			Add(clockGain.Mul(progress))
	}
	maxProb = decimal.Min(maxProb, ceiling)

	if f.limits.MaxProbability.Valid {
		maxProb = decimal.Min(maxProb, f.limits.MaxProbability.Decimal)
	}
	return maxProb.Round(4), true
}

func (f *Football) MaxShares(domain.Outcome, decimal.Decimal) (decimal.Decimal, bool) {
	return f.limits.MaxShares.Decimal, f.limits.MaxShares.Valid
}

func (f *Football) PostExecutionHook(domain.Outcome, decimal.Decimal, decimal.Decimal) {
	f.trades++
}

func (f *Football) Describe() string {
	s := f.State
	s.mu.Lock()
	home, away, side := s.home, s.away, s.side
	running := !s.startedAt.IsZero()
	minute := s.currentMinuteLocked()
	s.mu.Unlock()

	if side == "" {
		side = "not set"
	}
	timer := "stopped"
	if running {
		timer = "running"
	}
	return fmt.Sprintf("Strategy: football\n  Score: %d-%d\n  Minute: %d' (timer %s)\n  Tracking: %s\n  Trades this match: %d",
		home, away, minute, timer, side, f.trades)
}
