package edge_test

import (
	"math"
	"testing"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/application/edge"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)

func estimate(p, agreement float64) domain.ProbabilityEstimate {
	return domain.ProbabilityEstimate{MarketID: "m1", Consensus: p, Agreement: agreement}
}

func criteria(hoursOut, liquidity float64) domain.MarketCriteria {
	return domain.MarketCriteria{
		ID:         "m1",
		Comparison: domain.CompareGTE,
		Liquidity:  liquidity,
		Resolution: now.Add(time.Duration(hoursOut * float64(time.Hour))),
	}
}

func TestAssess_YesScenario(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	a := ev.Assess("m1", estimate(0.62, 0.9), 0.50)

	assert.InDelta(t, 0.24, a.EdgeYes, 1e-9)
	assert.InDelta(t, -0.24, a.EdgeNo, 1e-9)
	assert.InDelta(t, 0.24, a.Edge, 1e-9)
	assert.Equal(t, domain.SideYes, a.Side)
	assert.InDelta(t, 0.62/0.50-1, a.EV, 1e-9)
	assert.Equal(t, domain.TierHigh, a.Tier)
	assert.False(t, a.Clamped)
}

func TestAssess_NoSide(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	a := ev.Assess("m1", estimate(0.30, 0.7), 0.45)

	assert.Equal(t, domain.SideNo, a.Side)
	assert.InDelta(t, 0.70/0.55-1, a.EdgeNo, 1e-9)
	assert.InDelta(t, a.EdgeNo, a.Edge, 1e-12)
	assert.InDelta(t, 0.70/0.55-1, a.EV, 1e-9)
	assert.InDelta(t, 0.55, a.EntryPrice(), 1e-12)
	assert.Equal(t, domain.TierMedium, a.Tier)
}

func TestAssess_FairPriceHasNoSide(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	a := ev.Assess("m1", estimate(0.5, 1), 0.5)
	assert.Equal(t, domain.SideNone, a.Side)
	assert.Equal(t, 0.0, a.EV)
}

func TestAssess_NeverBothSides(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	for p := 0.01; p < 1; p += 0.07 {
		for m := 0.01; m < 1; m += 0.05 {
			a := ev.Assess("m1", estimate(p, 1), m)
			switch a.Side {
			case domain.SideYes:
				assert.Greater(t, a.EdgeYes, a.EdgeNo)
			case domain.SideNo:
				assert.Greater(t, a.EdgeNo, a.EdgeYes)
			}
			assert.Equal(t, math.Max(a.EdgeYes, a.EdgeNo), a.Edge)
		}
	}
}

func TestEdges_NearZeroPriceClampsToSentinel(t *testing.T) {
	yes, no, clamped := edge.Edges(0.4, 0)
	assert.True(t, clamped)
	assert.Equal(t, edge.Sentinel, yes)
	assert.False(t, math.IsInf(yes, 0))
	assert.InDelta(t, -0.4, no, 1e-9)

	yes, no, clamped = edge.Edges(0.4, 1)
	assert.True(t, clamped)
	assert.Equal(t, edge.Sentinel, no)
	assert.InDelta(t, -0.6, yes, 1e-9)
}

func TestTier_Boundaries(t *testing.T) {
	assert.Equal(t, domain.TierHigh, edge.Tier(0.15, 0.8))
	assert.Equal(t, domain.TierMedium, edge.Tier(0.149, 0.8))
	assert.Equal(t, domain.TierMedium, edge.Tier(0.08, 0.6))
	assert.Equal(t, domain.TierLow, edge.Tier(0.5, 0.59))
	assert.Equal(t, domain.TierLow, edge.Tier(0.079, 0.99))
}

func TestGate_Reasons(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())

	cases := []struct {
		name   string
		p, m   float64
		agree  float64
		hours  float64
		liq    float64
		reason edge.Reason
	}{
		{"accepted", 0.62, 0.50, 0.9, 48, 5000, edge.ReasonNone},
		{"no side", 0.50, 0.50, 0.9, 48, 5000, edge.ReasonNoSide},
		{"edge below min", 0.52, 0.50, 0.9, 48, 5000, edge.ReasonEdgeBelowMin},
		{"edge above max", 0.90, 0.50, 0.9, 48, 5000, edge.ReasonEdgeAboveMax},
		{"low agreement", 0.62, 0.50, 0.5, 48, 5000, edge.ReasonLowAgreement},
		{"low liquidity", 0.62, 0.50, 0.9, 48, 999, edge.ReasonLowLiquidity},
		{"too soon", 0.62, 0.50, 0.9, 11, 5000, edge.ReasonTooSoon},
		{"too far", 0.62, 0.50, 0.9, 7*24 + 1, 5000, edge.ReasonTooFar},
		{"expired", 0.62, 0.50, 0.9, -1, 5000, edge.ReasonMarketExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := ev.Assess("m1", estimate(tc.p, tc.agree), tc.m)
			d := ev.Gate(criteria(tc.hours, tc.liq), a, now)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.reason == edge.ReasonNone, d.Accepted())
		})
	}
}

func TestGate_EdgeAboveMaxRaisesAlert(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	a := ev.Assess("m1", estimate(0.9, 0.95), 0.5)
	d := ev.Gate(criteria(48, 5000), a, now)

	require.NotNil(t, d.Alert)
	assert.Equal(t, domain.AlertEdgeAnomaly, d.Alert.Kind)
	assert.Equal(t, "m1", d.Alert.MarketID)
	assert.InDelta(t, 0.8, d.Alert.Value, 1e-9)
}

func TestGate_ClampedPriceIsAnomaly(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	a := ev.Assess("m1", estimate(0.4, 0.95), 1e-9)
	require.True(t, a.Clamped)
	d := ev.Gate(criteria(48, 5000), a, now)
	assert.Equal(t, edge.ReasonEdgeAboveMax, d.Reason)
	assert.NotNil(t, d.Alert)
}

func TestGate_InvalidPrice(t *testing.T) {
	ev := edge.NewEvaluator(edge.DefaultConfig())
	a := ev.Assess("m1", estimate(0.4, 0.95), 0)
	assert.Equal(t, edge.ReasonInvalidPrice, ev.Gate(criteria(48, 5000), a, now).Reason)
}
