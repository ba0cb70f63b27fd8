package ledger_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/application/ledger"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.Add(time.Duration(n) * 24 * time.Hour) }

func pos(id, cluster string, d int, size float64) domain.Position {
	return domain.Position{ID: id, OrderID: "o-" + id, MarketID: "mkt-" + id, Cluster: cluster, Resolution: day(d), Size: size}
}

// spread builds n positions of size each in one cluster on consecutive days.
func spread(cluster string, n int, size float64) []domain.Position {
	out := make([]domain.Position, n)
	for i := range out {
		out[i] = pos(fmt.Sprintf("%s-%d", cluster, i), cluster, i+1, size)
	}
	return out
}

func candidate(cluster string, d int, size float64) domain.TradeCandidate {
	return domain.TradeCandidate{
		MarketID:     "cand",
		Cluster:      cluster,
		Location:     "NOWHERE",
		Resolution:   day(d),
		ProposedSize: size,
		Side:         domain.SideYes,
	}
}

func newLedger(positions ...domain.Position) *ledger.Ledger {
	l := ledger.New(ledger.DefaultConfig())
	l.Restore(positions)
	return l
}

func assertMonotonic(t *testing.T, a ledger.Allowance, proposed float64) {
	t.Helper()
	prev := proposed
	for _, s := range a.Trail {
		assert.GreaterOrEqual(t, s.Allowance, 0.0, "check %s", s.Check)
		assert.LessOrEqual(t, s.Allowance, prev+1e-12, "check %s increased allowance", s.Check)
		prev = s.Allowance
	}
	assert.GreaterOrEqual(t, a.Size, 0.0)
}

func TestAllowance_EmptyPortfolio(t *testing.T) {
	l := newLedger()
	a := l.Allowance(candidate(domain.ClusterUSNortheast, 1, 10), 200)

	require.True(t, a.Allowed)
	assert.InDelta(t, 10, a.Size, 1e-9)
	assert.Empty(t, a.Applied)
	assert.Len(t, a.Trail, 5)
	assertMonotonic(t, a, 10)
}

func TestAllowance_TotalCapReached(t *testing.T) {
	l := newLedger(spread(domain.ClusterUSNortheast, 3, 50)...)
	a := l.Allowance(candidate(domain.ClusterUSSoutheast, 9, 10), 200)

	assert.False(t, a.Allowed)
	assert.Equal(t, 0.0, a.Size)
	assert.Equal(t, []ledger.Check{ledger.CheckTotal}, a.Applied)
}

func TestAllowance_ClusterCap(t *testing.T) {
	l := newLedger(
		pos("a", domain.ClusterUSNortheast, 1, 60),
		pos("b", domain.ClusterWesternEurope, 2, 40),
	)

	rejected := l.Allowance(candidate(domain.ClusterUSNortheast, 3, 10), 1000)
	assert.False(t, rejected.Allowed)
	assert.Contains(t, rejected.Applied, ledger.CheckCluster)

	// New cluster: room = 100*0.30 - 0 = 30.
	ok := l.Allowance(candidate(domain.ClusterUSSoutheast, 3, 50), 1000)
	require.True(t, ok.Allowed)
	assert.InDelta(t, 30, ok.Size, 1e-9)
	assert.Contains(t, ok.Applied, ledger.CheckCluster)
	assertMonotonic(t, ok, 50)
}

func TestAllowance_ClusterFromLocation(t *testing.T) {
	l := newLedger(
		pos("a", domain.ClusterUSNortheast, 1, 60),
		pos("b", domain.ClusterWesternEurope, 2, 40),
	)
	c := candidate("", 3, 10)
	c.Location = "BOSTON_LOGAN"
	a := l.Allowance(c, 1000)
	assert.False(t, a.Allowed)
	assert.Contains(t, a.Applied, ledger.CheckCluster)
}

func TestAllowance_SameDayCap(t *testing.T) {
	l := newLedger(
		pos("a", domain.ClusterUSNortheast, 1, 10),
		pos("b", domain.ClusterWesternEurope, 2, 10),
	)

	// Same day as "a": room = 20*0.40 - 10 < 0.
	rejected := l.Allowance(candidate(domain.ClusterUSSoutheast, 1, 10), 1000)
	assert.False(t, rejected.Allowed)
	assert.Contains(t, rejected.Applied, ledger.CheckSameDay)

	// New day: cluster room 6, date room 8 → 6.
	ok := l.Allowance(candidate(domain.ClusterUSSoutheast, 3, 10), 1000)
	require.True(t, ok.Allowed)
	assert.InDelta(t, 6, ok.Size, 1e-9)
	assertMonotonic(t, ok, 10)
}

func TestAllowance_DiversityGateCapsAtHalf(t *testing.T) {
	// 350 deployed in one cluster, cap 750.
	l := newLedger(spread(domain.ClusterUSNortheast, 5, 70)...)

	a := l.Allowance(candidate("", 6, 100), 1000)
	require.True(t, a.Allowed)
	assert.InDelta(t, 25, a.Size, 1e-9) // 750*0.5 - 350
	assert.Contains(t, a.Applied, ledger.CheckDiversity50)
	assertMonotonic(t, a, 100)
}

func TestAllowance_DiversityGateRejectsPastHalf(t *testing.T) {
	l := newLedger(spread(domain.ClusterUSNortheast, 5, 76)...)

	a := l.Allowance(candidate("", 6, 10), 1000)
	assert.False(t, a.Allowed)
	assert.Contains(t, a.Applied, ledger.CheckDiversity50)
}

func TestAllowance_NewClusterExemptFromDiversityGate(t *testing.T) {
	l := newLedger(spread(domain.ClusterUSNortheast, 5, 70)...)

	a := l.Allowance(candidate(domain.ClusterUSSoutheast, 6, 100), 1000)
	require.True(t, a.Allowed)
	assert.InDelta(t, 100, a.Size, 1e-9)
	assert.NotContains(t, a.Applied, ledger.CheckDiversity50)
}

func TestAllowance_SecondClusterAllowedNearFullDeployment(t *testing.T) {
	// 740 of a 750 cap (74% of bankroll), all in one cluster.
	l := newLedger(spread(domain.ClusterUSNortheast, 10, 74)...)

	a := l.Allowance(candidate(domain.ClusterWesternEurope, 11, 10), 1000)
	require.True(t, a.Allowed, a.Reason)
	assert.InDelta(t, 10, a.Size, 1e-9)
	assert.NotContains(t, a.Applied, ledger.CheckDiversity50)
	assert.NotContains(t, a.Applied, ledger.CheckDiversity75)
	assertMonotonic(t, a, 10)
}

func TestAllowance_SeventyFiveGate(t *testing.T) {
	// Two clusters held (< 3), 520 deployed of 750.
	positions := append(spread(domain.ClusterUSNortheast, 4, 65), spread(domain.ClusterWesternEurope, 4, 65)...)
	for i := range positions[4:] {
		positions[4+i].Resolution = day(10 + i)
	}
	l := newLedger(positions...)

	a := l.Allowance(candidate("", 20, 100), 1000)
	require.True(t, a.Allowed, a.Reason)
	assert.InDelta(t, 750*0.75-520, a.Size, 1e-9)
	assert.Contains(t, a.Applied, ledger.CheckDiversity75)
	assertMonotonic(t, a, 100)
}

func TestAllowance_BelowMinimumViableSize(t *testing.T) {
	l := newLedger(spread(domain.ClusterUSNortheast, 1, 149.5)...)
	a := l.Allowance(candidate(domain.ClusterUSSoutheast, 5, 10), 200)

	assert.False(t, a.Allowed)
	assert.Equal(t, 0.0, a.Size)
	assert.Contains(t, a.Applied, ledger.CheckMinSize)
}

func TestAllowance_NegativeProposalPanics(t *testing.T) {
	l := newLedger()
	assert.Panics(t, func() { l.Allowance(candidate("", 1, -1), 200) })
}

func TestReserve_ConcurrentSameClusterBooksOnce(t *testing.T) {
	l := newLedger()
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, a := l.Reserve(candidate(domain.ClusterUSNortheast, 1, 10), 200, func(x float64) float64 { return x })
			if a.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
				assert.NotEmpty(t, r.ID)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.InDelta(t, 10, l.Reserved(), 1e-9)
}

func TestReserve_FitAboveAllowancePanics(t *testing.T) {
	l := newLedger()
	assert.Panics(t, func() {
		l.Reserve(candidate("", 1, 10), 200, func(x float64) float64 { return x + 1 })
	})
}

func TestReserve_ZeroFitIsNotAllowed(t *testing.T) {
	l := newLedger()
	r, a := l.Reserve(candidate("", 1, 10), 200, func(float64) float64 { return 0 })
	assert.False(t, a.Allowed)
	assert.Empty(t, r.ID)
	assert.Equal(t, 0.0, l.Reserved())
}

func TestSettle_PartialFillIsIdempotent(t *testing.T) {
	l := newLedger()
	r, a := l.Reserve(candidate(domain.ClusterUSNortheast, 1, 10), 200, func(x float64) float64 { return x })
	require.True(t, a.Allowed)

	order := domain.Order{ID: "ord-1", MarketID: "cand", Filled: 6, FilledShares: 12, Status: domain.OrderCanceled}
	p, applied := l.Settle(r.ID, order, base)
	require.True(t, applied)
	assert.InDelta(t, 6, p.Size, 1e-9)
	assert.InDelta(t, 0.5, p.Price, 1e-9)
	assert.Equal(t, domain.ClusterUSNortheast, p.Cluster)

	_, applied = l.Settle(r.ID, order, base)
	assert.False(t, applied)

	snap := l.Snapshot()
	assert.InDelta(t, 6, snap.TotalExposure, 1e-9)
	assert.Len(t, snap.Positions, 1)
	assert.Equal(t, 0.0, l.Reserved())
}

func TestSettle_NoFillReleasesReservation(t *testing.T) {
	l := newLedger()
	r, _ := l.Reserve(candidate("", 1, 10), 200, func(x float64) float64 { return x })

	_, applied := l.Settle(r.ID, domain.Order{ID: "ord-2", Status: domain.OrderTimedOut}, base)
	assert.True(t, applied)
	assert.Equal(t, 0.0, l.Reserved())
	assert.Equal(t, 0.0, l.Snapshot().TotalExposure)
}

func TestSettle_FilledWithoutReservationPanics(t *testing.T) {
	l := newLedger()
	order := domain.Order{ID: "ord-3", MarketID: "cand", Filled: 5, FilledShares: 10, Status: domain.OrderFilled}
	assert.Panics(t, func() { l.Settle("missing", order, base) })
	assert.Equal(t, 0.0, l.Snapshot().TotalExposure)
}

func TestClose_RemovesPosition(t *testing.T) {
	l := newLedger(pos("a", domain.ClusterUSNortheast, 1, 10))
	p, ok := l.Close("a")
	require.True(t, ok)
	assert.Equal(t, "a", p.ID)
	assert.Equal(t, 0.0, l.Snapshot().TotalExposure)
}

func TestSummary(t *testing.T) {
	l := newLedger(
		pos("a", domain.ClusterUSNortheast, 1, 30),
		pos("b", domain.ClusterWesternEurope, 1, 20),
	)
	s := l.Summary(200)
	assert.InDelta(t, 150, s.MaxExposure, 1e-9)
	assert.InDelta(t, 50.0/150.0, s.ExposurePct, 1e-9)
	assert.Equal(t, 2, s.UniqueClusters)
	require.Len(t, s.Clusters, 2)
	assert.Equal(t, domain.ClusterUSNortheast, s.Clusters[0].Key)
	assert.InDelta(t, 15, s.Clusters[0].Limit, 1e-9)
	require.Len(t, s.Dates, 1)
	assert.InDelta(t, 50, s.Dates[0].Current, 1e-9)
}
