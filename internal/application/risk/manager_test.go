package risk_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday.
var wed = time.Date(2026, 1, 14, 15, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []domain.RiskStatus
}

func (r *recorder) listen(ev domain.RiskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newManager(t *testing.T, opts ...risk.Option) *risk.Manager {
	t.Helper()
	opts = append([]risk.Option{risk.WithClock(func() time.Time { return wed })}, opts...)
	return risk.New(risk.DefaultConfig(), 1000, opts...)
}

func TestWindows(t *testing.T) {
	sun := time.Date(2026, 1, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), risk.WeekStart(sun))
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), risk.WeekStart(time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), risk.DayStart(wed))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), risk.MonthStart(wed))
}

func TestWeeklyHalt_ClearsOnlyAtWeeklyBoundary(t *testing.T) {
	rec := &recorder{}
	m := newManager(t, risk.WithListener(rec.listen))

	m.RecordSettlement("p1", -260, wed)
	halted, reason := m.Halted()
	require.True(t, halted)
	assert.Equal(t, domain.HaltWeekly, reason, "weekly outranks the daily breach")

	thu := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	err := m.CanTrade(thu)
	assert.ErrorIs(t, err, risk.ErrHalted)
	assert.ErrorIs(t, err, domain.ErrRiskLimitBreach)

	sun := time.Date(2026, 1, 18, 23, 59, 59, 0, time.UTC)
	assert.ErrorIs(t, m.CanTrade(sun), risk.ErrHalted)

	mon := time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, m.CanTrade(mon))

	require.Len(t, rec.events, 2)
	assert.True(t, rec.events[0].Halted)
	assert.Equal(t, domain.HaltWeekly, rec.events[0].Window)
	assert.False(t, rec.events[1].Halted)
	assert.Equal(t, domain.HaltWeekly, rec.events[1].Window)
}

func TestDailyHalt_ClearsAtNextDailyReset(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("p1", -150, wed)

	_, reason := m.Halted()
	assert.Equal(t, domain.HaltDaily, reason)

	assert.ErrorIs(t, m.CanTrade(time.Date(2026, 1, 14, 23, 59, 0, 0, time.UTC)), risk.ErrHalted)

	m.ResetDaily(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	halted, _ := m.Halted()
	assert.False(t, halted)
	assert.Equal(t, 0.0, m.Snapshot().DailyPnL)
	assert.InDelta(t, -150, m.Snapshot().WeeklyPnL, 1e-9)
}

func TestResetDaily_IsIdempotent(t *testing.T) {
	m := newManager(t)
	next := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	m.ResetDaily(next)
	m.RecordSettlement("p1", -5, next.Add(time.Hour))
	m.ResetDaily(next.Add(2 * time.Hour))
	assert.InDelta(t, -5, m.Snapshot().DailyPnL, 1e-9)
}

func TestMonthlyHalt_NeverAutoClears(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("p1", -450, wed)

	_, reason := m.Halted()
	require.Equal(t, domain.HaltMonthly, reason)

	later := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	m.Rollover(later)
	assert.ErrorIs(t, m.CanTrade(later), risk.ErrHalted)
	assert.Equal(t, 0.0, m.Snapshot().MonthlyPnL)

	assert.ErrorIs(t, m.Clear(false), risk.ErrMonthlyNeedsForce)
	require.NoError(t, m.Clear(true))
	assert.NoError(t, m.CanTrade(later))
}

func TestClear_KeepsWindowBreachedUnderManualHalt(t *testing.T) {
	rec := &recorder{}
	m := newManager(t, risk.WithListener(rec.listen))
	m.Halt("operator pause")
	m.RecordSettlement("p1", -300, wed)
	_, reason := m.Halted()
	require.Equal(t, domain.HaltManual, reason)

	require.NoError(t, m.Clear(false))
	halted, reason := m.Halted()
	assert.True(t, halted)
	assert.Equal(t, domain.HaltWeekly, reason)
	assert.ErrorIs(t, m.CanTrade(wed.Add(time.Hour)), risk.ErrHalted)

	last := rec.events[len(rec.events)-1]
	assert.True(t, last.Halted)
	assert.Equal(t, domain.HaltWeekly, last.Window)
}

func TestClear_MonthlyBreachUnderManualHaltNeedsForce(t *testing.T) {
	m := newManager(t)
	m.Halt("operator pause")
	m.RecordSettlement("p1", -450, wed)

	require.NoError(t, m.Clear(false))
	_, reason := m.Halted()
	require.Equal(t, domain.HaltMonthly, reason)

	assert.ErrorIs(t, m.Clear(false), risk.ErrMonthlyNeedsForce)
	require.NoError(t, m.Clear(true))
	_, reason = m.Halted()
	assert.Equal(t, domain.HaltWeekly, reason, "force overrides only the monthly window")
}

func TestCooldown_AfterLoss(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("p1", -5, wed)

	halted, _ := m.Halted()
	assert.False(t, halted)
	assert.ErrorIs(t, m.CanTrade(wed.Add(10*time.Minute)), risk.ErrCooldown)
	assert.NoError(t, m.CanTrade(wed.Add(31*time.Minute)))
}

func TestCooldown_NotTriggeredByWin(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("p1", 5, wed)
	assert.NoError(t, m.CanTrade(wed.Add(time.Minute)))
}

func TestValidateTrade_IndependentOfHalt(t *testing.T) {
	m := newManager(t)
	res := wed.Add(48 * time.Hour)

	assert.NoError(t, m.ValidateTrade(5, res, wed))
	assert.ErrorIs(t, m.ValidateTrade(10.5, res, wed), risk.ErrTradeTooLarge)
	assert.ErrorIs(t, m.ValidateTrade(0.5, res, wed), risk.ErrTradeTooSmall)
	assert.ErrorIs(t, m.ValidateTrade(5, wed.Add(6*time.Hour), wed), risk.ErrTooCloseToResolution)

	m.Halt("maintenance")
	assert.NoError(t, m.ValidateTrade(5, res, wed))
	assert.ErrorIs(t, m.ValidateTrade(11, res, wed), risk.ErrTradeTooLarge)
}

func TestHalt_SeverityOnlyUpgrades(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("p1", -110, wed)
	_, reason := m.Halted()
	require.Equal(t, domain.HaltDaily, reason)

	m.RecordSettlement("p2", -150, wed.Add(time.Hour))
	_, reason = m.Halted()
	assert.Equal(t, domain.HaltWeekly, reason)

	m.Halt("operator")
	_, reason = m.Halted()
	assert.Equal(t, domain.HaltManual, reason)

	m.RecordSettlement("p3", -1, wed.Add(2*time.Hour))
	_, reason = m.Halted()
	assert.Equal(t, domain.HaltManual, reason, "weekly does not downgrade a manual halt")
}

func TestManualHalt_SurvivesWindowResets(t *testing.T) {
	m := newManager(t)
	m.Halt("operator")
	m.Rollover(time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC))
	halted, reason := m.Halted()
	assert.True(t, halted)
	assert.Equal(t, domain.HaltManual, reason)
	require.NoError(t, m.Clear(false))
}

func TestRecordSettlement_Idempotent(t *testing.T) {
	m := newManager(t)
	assert.True(t, m.RecordSettlement("p1", -20, wed))
	assert.False(t, m.RecordSettlement("p1", -20, wed))
	assert.InDelta(t, -20, m.Snapshot().TotalPnL, 1e-9)
	assert.Equal(t, 1, m.Snapshot().Losses)
}

func TestMetrics(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("w1", 8, wed)
	m.RecordSettlement("l1", -50, wed)
	m.RecordFill("o1")
	m.RecordFill("o1")

	mt := m.Metrics()
	assert.InDelta(t, -100, mt.Daily.Limit, 1e-9)
	assert.InDelta(t, -42, mt.Daily.PnL, 1e-9)
	assert.InDelta(t, 58, mt.Daily.Buffer, 1e-9)
	assert.InDelta(t, 0.42, mt.Daily.PctUsed, 1e-9)
	assert.Equal(t, 1, mt.Wins)
	assert.Equal(t, 1, mt.Losses)
	assert.Equal(t, 1, mt.ConsecutiveLosses)
	assert.InDelta(t, 0.5, mt.WinRate, 1e-9)
	assert.Equal(t, 1, mt.DailyTrades)
	assert.Equal(t, wed.Add(30*time.Minute), mt.CooldownUntil)
}

type memStore struct {
	mu    sync.Mutex
	saved []domain.RiskState
}

func (s *memStore) SaveRiskState(_ context.Context, st domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, st)
	return nil
}

func (s *memStore) LoadRiskState(context.Context) (domain.RiskState, bool, error) {
	return domain.RiskState{}, false, errors.New("not implemented")
}
func (s *memStore) SavePosition(context.Context, domain.Position) error { return nil }
func (s *memStore) DeletePosition(context.Context, string) error { return nil }
func (s *memStore) LoadPositions(context.Context) ([]domain.Position, error) { return nil, nil }

func TestStore_PersistsAndRestoresMonthlyHalt(t *testing.T) {
	store := &memStore{}
	m := newManager(t, risk.WithStore(store))
	m.RecordSettlement("p1", -450, wed)

	require.NotEmpty(t, store.saved)
	last := store.saved[len(store.saved)-1]
	assert.Equal(t, domain.HaltMonthly, last.Reason)

	restarted := newManager(t)
	restarted.Restore(last)
	assert.ErrorIs(t, restarted.CanTrade(wed.Add(48*time.Hour)), risk.ErrHalted)
}

func TestStore_SettledKeysSurviveRestart(t *testing.T) {
	store := &memStore{}
	m := newManager(t, risk.WithStore(store))
	require.True(t, m.RecordSettlement("p1", -20, wed))

	last := store.saved[len(store.saved)-1]
	restarted := newManager(t)
	restarted.Restore(last)
	assert.True(t, restarted.Settled("p1"))
	assert.False(t, restarted.RecordSettlement("p1", -20, wed.Add(time.Hour)))
	assert.InDelta(t, -20, restarted.Snapshot().TotalPnL, 1e-9)
	assert.Equal(t, 1, restarted.Snapshot().Losses)
}

func TestSettledKeys_ExpireAfterRetention(t *testing.T) {
	m := newManager(t)
	m.RecordSettlement("old", 1, wed)
	m.RecordSettlement("new", 1, wed.Add(91*24*time.Hour))
	assert.False(t, m.Settled("old"))
	assert.True(t, m.Settled("new"))
}
