// Package probability turns ensemble member arrays into smoothed outcome
// probabilities and aggregates them across models.
package probability

import (
	"errors"
	"fmt"
	"math"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

var (
	// ErrNoMembers means there was nothing to count. Callers must skip the
	// market rather than read it as a zero probability.
	ErrNoMembers = errors.New("probability: no ensemble members")
	// ErrNoModels means no model produced a probability.
	ErrNoModels = errors.New("probability: no model probabilities")
)

// Smoothed applies Laplace smoothing: (k+1)/(n+2).
func Smoothed(k, n int) float64 {
	return float64(k+1) / float64(n+2)
}

// Exceedance is the smoothed fraction of members satisfying v <cmp> threshold.
func Exceedance(members []float64, threshold float64, cmp domain.Comparison) (float64, error) {
	if len(members) == 0 {
		return 0, ErrNoMembers
	}
	var match func(float64) bool
	switch cmp {
	case domain.CompareGTE:
		match = func(v float64) bool { return v >= threshold }
	case domain.CompareGT:
		match = func(v float64) bool { return v > threshold }
	case domain.CompareLTE:
		match = func(v float64) bool { return v <= threshold }
	case domain.CompareLT:
		match = func(v float64) bool { return v < threshold }
	default:
		return 0, fmt.Errorf("probability.Exceedance: %w: comparison %q", domain.ErrParseFailure, cmp)
	}
	return Smoothed(count(members, match), len(members)), nil
}

// BracketProbability is the smoothed fraction of members inside b.
func BracketProbability(members []float64, b domain.Bracket) (float64, error) {
	if len(members) == 0 {
		return 0, ErrNoMembers
	}
	return Smoothed(count(members, b.Contains), len(members)), nil
}

// ModelProbability dispatches on the criteria variant. threshold and
// bracket must already be expressed in the members' unit.
func ModelProbability(members []float64, c domain.MarketCriteria) (float64, error) {
	if c.Comparison == domain.CompareBracket {
		return BracketProbability(members, c.Bracket)
	}
	return Exceedance(members, c.Threshold, c.Comparison)
}

// Aggregate returns the weighted mean of per-model probabilities and the
// agreement score max(0, 1 - 2*stdev). Missing weights count as 1; a
// non-positive total weight falls back to equal weighting.
func Aggregate(probs map[string]float64, weights map[string]float64) (consensus, agreement float64, err error) {
	if len(probs) == 0 {
		return 0, 0, ErrNoModels
	}

	weightOf := func(model string) float64 {
		if w, ok := weights[model]; ok {
			return w
		}
		return 1
	}

	var sum, total float64
	for model, p := range probs {
		w := weightOf(model)
		sum += p * w
		total += w
	}
	if total <= 0 {
		sum, total = 0, 0
		for _, p := range probs {
			sum += p
			total++
		}
	}
	consensus = sum / total

	if len(probs) == 1 {
		return consensus, 1, nil
	}
	agreement = 1 - 2*stdev(probs)
	return consensus, math.Max(0, math.Min(1, agreement)), nil
}

func count(members []float64, match func(float64) bool) int {
	k := 0
	for _, v := range members {
		if match(v) {
			k++
		}
	}
	return k
}

// stdev is the sample standard deviation.
func stdev(values map[string]float64) float64 {
	n := float64(len(values))
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / (n - 1))
}
