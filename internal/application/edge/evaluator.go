// Package edge compares forecast probabilities against market prices and
// gates trade entry.
package edge

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

const (
	// Sentinel replaces an edge or EV that would otherwise be unbounded.
	Sentinel = 1e6
	// minPrice is the smallest price treated as a real quote.
	minPrice = 1e-6

	highAgreement   = 0.8
	highEdge        = 0.15
	mediumAgreement = 0.6
	mediumEdge      = 0.08
)

// Reason names why a candidate failed the entry gate.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNoSide        Reason = "no_side"
	ReasonEdgeBelowMin  Reason = "edge_below_min"
	ReasonEdgeAboveMax  Reason = "edge_above_max"
	ReasonLowAgreement  Reason = "low_agreement"
	ReasonLowLiquidity  Reason = "low_liquidity"
	ReasonTooSoon       Reason = "too_close_to_resolution"
	ReasonTooFar        Reason = "too_far_from_resolution"
	ReasonInvalidPrice  Reason = "invalid_price"
	ReasonMarketExpired Reason = "market_expired"
)

// Config holds the entry criteria.
type Config struct {
	MinEdge      float64
	MaxEdge      float64
	MinAgreement float64
	MinLiquidity float64
	MinHours     float64
	MaxDays      float64
}

// DefaultConfig returns the production entry criteria.
func DefaultConfig() Config {
	return Config{
		MinEdge:      0.05,
		MaxEdge:      0.50,
		MinAgreement: 0.60,
		MinLiquidity: 1000,
		MinHours:     12,
		MaxDays:      7,
	}
}

// Decision is the gate outcome. Alert is set for rejected candidates an
// operator should look at.
type Decision struct {
	Reason Reason
	Alert  *domain.Alert
}

// Accepted reports whether the candidate passed every condition.
func (d Decision) Accepted() bool { return d.Reason == ReasonNone }

// Evaluator assesses and gates opportunities.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Edges returns the one-sided edges p/m-1 and (1-p)/(1-m)-1. A side whose
// price is near zero gets Sentinel and sets clamped.
func Edges(p, m float64) (yes, no float64, clamped bool) {
	if m <= minPrice {
		yes, clamped = Sentinel, true
	} else {
		yes = math.Min(p/m-1, Sentinel)
	}
	if 1-m <= minPrice {
		no, clamped = Sentinel, true
	} else {
		no = math.Min((1-p)/(1-m)-1, Sentinel)
	}
	return yes, no, clamped
}

// ExpectedValue is p*(1/price)-1 per dollar staked.
func ExpectedValue(p, price float64) float64 {
	if price <= minPrice {
		return Sentinel
	}
	return math.Min(p/price-1, Sentinel)
}

// Tier buckets an assessment by edge and model agreement.
func Tier(edge, agreement float64) domain.Tier {
	switch {
	case agreement >= highAgreement && edge >= highEdge:
		return domain.TierHigh
	case agreement >= mediumAgreement && edge >= mediumEdge:
		return domain.TierMedium
	}
	return domain.TierLow
}

// Assess combines the estimate with the YES price m.
func (e *Evaluator) Assess(marketID string, est domain.ProbabilityEstimate, m float64) domain.EdgeAssessment {
	p := est.Consensus
	yes, no, clamped := Edges(p, m)

	a := domain.EdgeAssessment{
		MarketID:     marketID,
		ForecastProb: p,
		MarketPrice:  m,
		EdgeYes:      yes,
		EdgeNo:       no,
		Edge:         math.Max(yes, no),
		Side:         domain.SideNone,
		Agreement:    est.Agreement,
		Clamped:      clamped,
	}

	switch {
	case yes > 0 && yes > no:
		a.Side = domain.SideYes
	case no > 0 && no > yes:
		a.Side = domain.SideNo
	}
	if a.Side != domain.SideNone {
		a.EV = ExpectedValue(a.WinProb(), a.EntryPrice())
	}
	a.Tier = Tier(a.Edge, a.Agreement)
	return a
}

// Gate applies the entry criteria in a fixed order and names the first
// failing condition.
func (e *Evaluator) Gate(c domain.MarketCriteria, a domain.EdgeAssessment, now time.Time) Decision {
	if a.MarketPrice <= 0 || a.MarketPrice >= 1 {
		return Decision{Reason: ReasonInvalidPrice}
	}
	if a.Side == domain.SideNone {
		return Decision{Reason: ReasonNoSide}
	}
	if a.Edge < e.cfg.MinEdge {
		return Decision{Reason: ReasonEdgeBelowMin}
	}
	if a.Edge > e.cfg.MaxEdge {
		return Decision{
			Reason: ReasonEdgeAboveMax,
			Alert: &domain.Alert{
				Kind:     domain.AlertEdgeAnomaly,
				MarketID: c.ID,
				Message: fmt.Sprintf("edge %.2f above max %.2f (forecast %.3f, price %.3f): possible data anomaly",
					a.Edge, e.cfg.MaxEdge, a.ForecastProb, a.MarketPrice),
				Value: a.Edge,
			},
		}
	}
	if a.Agreement < e.cfg.MinAgreement {
		return Decision{Reason: ReasonLowAgreement}
	}
	if c.Liquidity < e.cfg.MinLiquidity {
		return Decision{Reason: ReasonLowLiquidity}
	}
	hours := c.HoursToResolution(now)
	if hours <= 0 {
		return Decision{Reason: ReasonMarketExpired}
	}
	if hours < e.cfg.MinHours {
		return Decision{Reason: ReasonTooSoon}
	}
	if hours > e.cfg.MaxDays*24 {
		return Decision{Reason: ReasonTooFar}
	}
	return Decision{}
}
