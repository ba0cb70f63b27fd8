// Package risk tracks realized P&L over daily, weekly and monthly windows
// and halts trading when a loss limit is breached.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
)

// settledRetention bounds how long settlement keys are remembered. Positions
// resolve within days, so a key older than this can no longer recur.
const settledRetention = 90 * 24 * time.Hour

var (
	ErrHalted               = fmt.Errorf("trading halted: %w", domain.ErrRiskLimitBreach)
	ErrCooldown             = errors.New("loss cooldown active")
	ErrTradeTooLarge        = errors.New("trade above maximum position")
	ErrTradeTooSmall        = errors.New("trade below minimum position")
	ErrTooCloseToResolution = errors.New("too close to resolution")
	ErrMonthlyNeedsForce    = errors.New("monthly halt requires a forced clear")
)

// Config holds loss limits (fractions of bankroll) and per-trade bounds.
type Config struct {
	DailyLossPct         float64
	WeeklyLossPct        float64
	MonthlyLossPct       float64
	Cooldown             time.Duration
	MinPosition          float64
	MaxPosition          float64
	MinHoursToResolution float64
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		DailyLossPct:         0.10,
		WeeklyLossPct:        0.25,
		MonthlyLossPct:       0.40,
		Cooldown:             30 * time.Minute,
		MinPosition:          1,
		MaxPosition:          10,
		MinHoursToResolution: 12,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithListener registers a callback for every halt or recovery transition.
// It runs outside the manager's lock.
func WithListener(fn func(domain.RiskStatus)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// WithStore persists the state after every mutation.
func WithStore(store ports.StateStore) Option {
	return func(m *Manager) { m.store = store }
}

// Manager is the single writer of RiskState. All methods are safe for
// concurrent use.
type Manager struct {
	cfg       Config
	bankroll  float64
	now       func() time.Time
	listeners []func(domain.RiskStatus)
	store     ports.StateStore

	mu      sync.Mutex
	state domain.RiskState
	fills map[string]bool
}

// New creates a Manager whose loss limits are measured against bankroll.
func New(cfg Config, bankroll float64, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		bankroll: bankroll,
		now:      time.Now,
		fills:    make(map[string]bool),
	}
	for _, o := range opts {
		o(m)
	}
	now := m.now()
	m.state.DailyStart = DayStart(now)
	m.state.WeeklyStart = WeekStart(now)
	m.state.MonthlyStart = MonthStart(now)
	return m
}

// Restore replaces the state with a persisted snapshot, then rolls any
// windows that ended while the process was down.
func (m *Manager) Restore(s domain.RiskState) {
	m.mu.Lock()
	m.state = s.Clone()
	m.state.Halted = s.Reason != domain.HaltNone
	m.mu.Unlock()
	m.Rollover(m.now())
}

// Snapshot returns a copy of the state.
func (m *Manager) Snapshot() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Settled reports whether a settlement with this key was already applied,
// including before a restart.
func (m *Manager) Settled(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state.Settled[key]
	return ok
}

// RecordSettlement adds realized pnl to every window. It is idempotent per
// key and reports whether this call applied it.
func (m *Manager) RecordSettlement(key string, pnl float64, at time.Time) bool {
	m.mu.Lock()
	if _, ok := m.state.Settled[key]; ok {
		m.mu.Unlock()
		return false
	}
	m.markSettledLocked(key, at)

	events, _ := m.rolloverLocked(at)
	s := &m.state
	s.DailyPnL += pnl
	s.WeeklyPnL += pnl
	s.MonthlyPnL += pnl
	s.TotalPnL += pnl
	switch {
	case pnl < 0:
		s.LastLossAt = at.UTC()
		s.Losses++
		s.ConsecutiveLosses++
	case pnl > 0:
		s.Wins++
		s.ConsecutiveLosses = 0
	}
	if ev, ok := m.evaluateLocked(at); ok {
		events = append(events, ev)
	}
	snap := m.state.Clone()
	m.mu.Unlock()

	m.after(snap, events)
	return true
}

// RecordFill counts an executed order towards today's trades.
func (m *Manager) RecordFill(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fills[orderID] {
		return
	}
	m.fills[orderID] = true
	m.state.DailyTrades++
}

// CanTrade reports whether a new trade may start: no halt and no cooldown.
// Windows that ended before now are rolled first.
func (m *Manager) CanTrade(now time.Time) error {
	m.Rollover(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Halted {
		return fmt.Errorf("%w: %s", ErrHalted, m.state.Reason)
	}
	if until := m.cooldownUntilLocked(); now.Before(until) {
		return fmt.Errorf("%w until %s", ErrCooldown, until.Format(time.RFC3339))
	}
	return nil
}

// ValidateTrade checks structural per-trade bounds. It ignores the halt state.
func (m *Manager) ValidateTrade(size float64, resolution, now time.Time) error {
	switch {
	case size > m.cfg.MaxPosition:
		return fmt.Errorf("%w: %.2f > %.2f", ErrTradeTooLarge, size, m.cfg.MaxPosition)
	case size < m.cfg.MinPosition:
		return fmt.Errorf("%w: %.2f < %.2f", ErrTradeTooSmall, size, m.cfg.MinPosition)
	}
	if hours := resolution.Sub(now).Hours(); hours < m.cfg.MinHoursToResolution {
		return fmt.Errorf("%w: %.1fh", ErrTooCloseToResolution, hours)
	}
	return nil
}

// Rollover resets every window whose boundary has passed. Safe to call
// repeatedly; each boundary is applied once.
func (m *Manager) Rollover(now time.Time) {
	m.mu.Lock()
	events, rolled := m.rolloverLocked(now)
	snap := m.state.Clone()
	m.mu.Unlock()
	if rolled {
		m.after(snap, events)
	}
}

// ResetDaily rolls the daily window if its boundary has passed.
func (m *Manager) ResetDaily(now time.Time) { m.reset(now, m.resetDailyLocked) }

// ResetWeekly rolls the weekly window if its boundary has passed.
func (m *Manager) ResetWeekly(now time.Time) { m.reset(now, m.resetWeeklyLocked) }

// ResetMonthly rolls the monthly window if its boundary has passed. A
// monthly halt survives it.
func (m *Manager) ResetMonthly(now time.Time) { m.reset(now, m.resetMonthlyLocked) }

func (m *Manager) reset(now time.Time, fn func(time.Time) (domain.RiskStatus, bool, bool)) {
	m.mu.Lock()
	ev, cleared, rolled := fn(now)
	snap := m.state.Clone()
	m.mu.Unlock()
	if !rolled {
		return
	}
	var events []domain.RiskStatus
	if cleared {
		events = append(events, ev)
	}
	m.after(snap, events)
}

// Halt stops trading on operator request.
func (m *Manager) Halt(detail string) {
	m.halt(domain.HaltManual, detail)
}

// HaltOperational stops trading after an operational failure such as an
// insufficient balance.
func (m *Manager) HaltOperational(detail string) {
	m.halt(domain.HaltOperational, detail)
}

func (m *Manager) halt(reason domain.HaltReason, detail string) {
	m.mu.Lock()
	ev, ok := m.setHaltLocked(reason, detail, m.now())
	snap := m.state.Clone()
	m.mu.Unlock()
	if ok {
		m.after(snap, []domain.RiskStatus{ev})
	}
}

// Clear lifts the current halt. A monthly halt is only cleared with force,
// and a loss window that is still breached halts again.
func (m *Manager) Clear(force bool) error {
	m.mu.Lock()
	if !m.state.Halted {
		m.mu.Unlock()
		return nil
	}
	if m.state.Reason == domain.HaltMonthly && !force {
		m.mu.Unlock()
		return ErrMonthlyNeedsForce
	}
	now := m.now()
	events := []domain.RiskStatus{m.clearLocked("cleared by operator")}
	rolled, _ := m.rolloverLocked(now)
	events = append(events, rolled...)
	// A window breached while another halt was in place still holds.
	if ev, ok := m.evaluateWindowsLocked(now, !force); ok {
		events = append(events, ev)
	}
	snap := m.state.Clone()
	m.mu.Unlock()

	m.after(snap, events)
	return nil
}

// Metrics summarizes the risk posture.
func (m *Manager) Metrics() domain.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked()
}

// Halted reports the current halt reason.
func (m *Manager) Halted() (bool, domain.HaltReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Halted, m.state.Reason
}

func (m *Manager) rolloverLocked(now time.Time) (events []domain.RiskStatus, rolled bool) {
	for _, fn := range []func(time.Time) (domain.RiskStatus, bool, bool){
		m.resetDailyLocked, m.resetWeeklyLocked, m.resetMonthlyLocked,
	} {
		ev, cleared, ok := fn(now)
		if cleared {
			events = append(events, ev)
		}
		rolled = rolled || ok
	}
	return events, rolled
}

func (m *Manager) resetDailyLocked(now time.Time) (domain.RiskStatus, bool, bool) {
	start := DayStart(now)
	if !start.After(m.state.DailyStart) {
		return domain.RiskStatus{}, false, false
	}
	m.state.DailyStart = start
	m.state.DailyPnL = 0
	m.state.DailyTrades = 0
	slog.Info("risk: daily window reset", "start", start.Format(time.DateOnly))
	if m.state.Reason == domain.HaltDaily {
		return m.clearLocked("daily window reset"), true, true
	}
	return domain.RiskStatus{}, false, true
}

func (m *Manager) resetWeeklyLocked(now time.Time) (domain.RiskStatus, bool, bool) {
	start := WeekStart(now)
	if !start.After(m.state.WeeklyStart) {
		return domain.RiskStatus{}, false, false
	}
	m.state.WeeklyStart = start
	m.state.WeeklyPnL = 0
	slog.Info("risk: weekly window reset", "start", start.Format(time.DateOnly))
	if m.state.Reason == domain.HaltWeekly {
		return m.clearLocked("weekly window reset"), true, true
	}
	return domain.RiskStatus{}, false, true
}

func (m *Manager) resetMonthlyLocked(now time.Time) (domain.RiskStatus, bool, bool) {
	start := MonthStart(now)
	if !start.After(m.state.MonthlyStart) {
		return domain.RiskStatus{}, false, false
	}
	m.state.MonthlyStart = start
	m.state.MonthlyPnL = 0
	slog.Info("risk: monthly window reset", "start", start.Format(time.DateOnly), "halted", m.state.Reason == domain.HaltMonthly)
	return domain.RiskStatus{}, false, true
}

// evaluateLocked halts on the most severe breached window.
func (m *Manager) evaluateLocked(now time.Time) (domain.RiskStatus, bool) {
	return m.evaluateWindowsLocked(now, true)
}

// evaluateWindowsLocked is evaluateLocked with the monthly window optional;
// a forced clear overrides the monthly breach until the next settlement.
func (m *Manager) evaluateWindowsLocked(now time.Time, monthly bool) (domain.RiskStatus, bool) {
	windows := []struct {
		reason domain.HaltReason
		pnl    float64
		pct    float64
	}{
		{domain.HaltMonthly, m.state.MonthlyPnL, m.cfg.MonthlyLossPct},
		{domain.HaltWeekly, m.state.WeeklyPnL, m.cfg.WeeklyLossPct},
		{domain.HaltDaily, m.state.DailyPnL, m.cfg.DailyLossPct},
	}
	for _, w := range windows {
		if w.reason == domain.HaltMonthly && !monthly {
			continue
		}
		limit := -m.bankroll * w.pct
		if w.pnl <= limit {
			detail := fmt.Sprintf("%s loss %.2f breached limit %.2f", w.reason, w.pnl, limit)
			return m.setHaltLocked(w.reason, detail, now)
		}
	}
	return domain.RiskStatus{}, false
}

// setHaltLocked halts with reason unless an equal or more severe halt is
// already in place.
func (m *Manager) setHaltLocked(reason domain.HaltReason, detail string, now time.Time) (domain.RiskStatus, bool) {
	if m.state.Halted && m.state.Reason.Severity() >= reason.Severity() {
		return domain.RiskStatus{}, false
	}
	m.state.Halted = true
	m.state.Reason = reason
	m.state.Detail = detail
	m.state.HaltedAt = now.UTC()
	slog.Warn("risk: trading halted", "reason", reason, "detail", detail)
	return domain.RiskStatus{
		Halted:  true,
		Reason:  reason,
		Window:  reason,
		Detail:  detail,
		Metrics: m.metricsLocked(),
	}, true
}

func (m *Manager) clearLocked(detail string) domain.RiskStatus {
	prev := m.state.Reason
	m.state.Halted = false
	m.state.Reason = domain.HaltNone
	m.state.Detail = ""
	m.state.HaltedAt = time.Time{}
	slog.Info("risk: trading resumed", "previous", prev, "detail", detail)
	return domain.RiskStatus{
		Halted:  false,
		Reason:  domain.HaltNone,
		Window:  prev,
		Detail:  detail,
		Metrics: m.metricsLocked(),
	}
}

// markSettledLocked records key and drops keys older than settledRetention.
func (m *Manager) markSettledLocked(key string, at time.Time) {
	if m.state.Settled == nil {
		m.state.Settled = make(map[string]time.Time)
	}
	cutoff := at.Add(-settledRetention)
	for k, t := range m.state.Settled {
		if t.Before(cutoff) {
			delete(m.state.Settled, k)
		}
	}
	m.state.Settled[key] = at.UTC()
}

func (m *Manager) cooldownUntilLocked() time.Time {
	if m.state.LastLossAt.IsZero() {
		return time.Time{}
	}
	return m.state.LastLossAt.Add(m.cfg.Cooldown)
}

func (m *Manager) metricsLocked() domain.RiskMetrics {
	s := m.state
	out := domain.RiskMetrics{
		Daily:             m.window(s.DailyPnL, m.cfg.DailyLossPct),
		Weekly:            m.window(s.WeeklyPnL, m.cfg.WeeklyLossPct),
		Monthly:           m.window(s.MonthlyPnL, m.cfg.MonthlyLossPct),
		TotalPnL:          s.TotalPnL,
		Halted:            s.Halted,
		Reason:            s.Reason,
		Detail:            s.Detail,
		CooldownUntil:     m.cooldownUntilLocked(),
		DailyTrades:       s.DailyTrades,
		Wins:              s.Wins,
		Losses:            s.Losses,
		ConsecutiveLosses: s.ConsecutiveLosses,
	}
	if n := s.Wins + s.Losses; n > 0 {
		out.WinRate = float64(s.Wins) / float64(n)
	}
	return out
}

func (m *Manager) window(pnl, pct float64) domain.WindowMetrics {
	limit := -m.bankroll * pct
	w := domain.WindowMetrics{PnL: pnl, Limit: limit, Buffer: pnl - limit}
	if limit < 0 && pnl < 0 {
		w.PctUsed = pnl / limit
	}
	return w
}

// after persists the snapshot and notifies listeners. Called without mu.
func (m *Manager) after(snap domain.RiskState, events []domain.RiskStatus) {
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.SaveRiskState(ctx, snap); err != nil {
			slog.Warn("risk: persist state failed", "err", err)
		}
		cancel()
	}
	for _, ev := range events {
		for _, fn := range m.listeners {
			fn(ev)
		}
	}
}
