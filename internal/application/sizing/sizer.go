// Package sizing turns an edge assessment into a dollar stake with
// fractional Kelly, bounded by per-trade limits and the ledger allowance.
package sizing

import (
	"math"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Reasons a stake came out at zero.
const (
	ReasonNoEdge       = "no_edge"
	ReasonBelowMinimum = "below_minimum"
	ReasonBadBankroll  = "bad_bankroll"
)

// Config holds the sizing parameters.
type Config struct {
	KellyFraction  float64 // multiplier on full Kelly
	MaxPositionPct float64 // hard cap as a fraction of bankroll
	MinPosition    float64
	MaxPosition    float64
}

// DefaultConfig returns quarter Kelly, 5% per trade, $1..$10.
func DefaultConfig() Config {
	return Config{
		KellyFraction:  0.25,
		MaxPositionPct: 0.05,
		MinPosition:    1,
		MaxPosition:    10,
	}
}

// Result is a sizing outcome before the ledger allowance is applied.
type Result struct {
	Size     float64
	Kelly    float64 // full Kelly fraction
	Fraction float64 // fraction of bankroll after multiplier and cap
	Reason   string  // set when Size is zero
}

// Sizer computes stakes. It is stateless.
type Sizer struct {
	cfg Config
}

// New creates a Sizer.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// KellyFraction is f* = (b·p - q)/b with b = (1-price)/price, clamped to [0,1].
func KellyFraction(p, price float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	b := (1 - price) / price
	f := (b*p - (1 - p)) / b
	return math.Max(0, math.Min(1, f))
}

// OptimalKelly estimates the full Kelly fraction from realized statistics:
// p - q/(avgWin/avgLoss), floored at zero.
func OptimalKelly(winRate, avgWin, avgLoss float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	return math.Max(0, winRate-(1-winRate)/b)
}

// Round2 rounds half away from zero to cents.
func Round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// floor2 truncates to cents so the result never exceeds x.
func floor2(x float64) float64 {
	return decimal.NewFromFloat(x).Truncate(2).InexactFloat64()
}

// Size stakes the assessment's favored side against bankroll.
func (s *Sizer) Size(bankroll float64, a domain.EdgeAssessment) Result {
	return s.Stake(bankroll, a.WinProb(), a.EntryPrice())
}

// Stake sizes a bet with win probability p at price.
func (s *Sizer) Stake(bankroll, p, price float64) Result {
	if bankroll <= 0 {
		return Result{Reason: ReasonBadBankroll}
	}
	full := KellyFraction(p, price)
	if full <= 0 {
		return Result{Reason: ReasonNoEdge}
	}

	frac := math.Min(full*s.cfg.KellyFraction, s.cfg.MaxPositionPct)
	size := bankroll * frac
	res := Result{Kelly: full, Fraction: frac}

	if size < s.cfg.MinPosition {
		// Only round up to the minimum when full Kelly would stake at least that much.
		if bankroll*full < s.cfg.MinPosition {
			res.Reason = ReasonBelowMinimum
			return res
		}
		size = s.cfg.MinPosition
	}
	res.Size = Round2(math.Min(size, s.cfg.MaxPosition))
	return res
}

// Fit clamps a stake to the ledger allowance. It is safe to pass to
// ledger.Reserve.
func (s *Sizer) Fit(size float64) func(allowance float64) float64 {
	return func(allowance float64) float64 {
		if size <= allowance {
			return size
		}
		return floor2(allowance)
	}
}
