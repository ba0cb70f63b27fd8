package probability

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// Engine computes ProbabilityEstimates from ensembles.
type Engine struct {
	weights map[string]float64
	now     func() time.Time
}

// NewEngine creates an engine with per-model weights (nil for equal weighting).
func NewEngine(weights map[string]float64) *Engine {
	return &Engine{weights: weights, now: time.Now}
}

// Estimate converts every model's members into a probability for c and
// aggregates them. Models without members are ignored; if none remain the
// result is ErrNoMembers.
func (e *Engine) Estimate(c domain.MarketCriteria, ens domain.Ensemble) (domain.ProbabilityEstimate, error) {
	crit, err := inUnit(c, ens.Unit)
	if err != nil {
		return domain.ProbabilityEstimate{}, fmt.Errorf("probability.Estimate: %w", err)
	}

	models := make([]string, 0, len(ens.Members))
	for m := range ens.Members {
		models = append(models, m)
	}
	sort.Strings(models)

	perModel := make(map[string]float64, len(models))
	members := 0
	for _, m := range models {
		p, err := ModelProbability(ens.Members[m], crit)
		if err != nil {
			if errors.Is(err, ErrNoMembers) {
				slog.Debug("probability: model without members", "market", c.ID, "model", m)
				continue
			}
			return domain.ProbabilityEstimate{}, fmt.Errorf("probability.Estimate: model %s: %w", m, err)
		}
		perModel[m] = p
		members += len(ens.Members[m])
	}
	if len(perModel) == 0 {
		return domain.ProbabilityEstimate{}, ErrNoMembers
	}

	consensus, agreement, err := Aggregate(perModel, e.weights)
	if err != nil {
		return domain.ProbabilityEstimate{}, fmt.Errorf("probability.Estimate: %w", err)
	}

	return domain.ProbabilityEstimate{
		MarketID:   c.ID,
		PerModel:   perModel,
		Consensus:  consensus,
		Agreement:  agreement,
		Members:    members,
		ComputedAt: e.now().UTC(),
	}, nil
}

// inUnit rewrites the threshold or bracket of c into unit u.
func inUnit(c domain.MarketCriteria, u domain.Unit) (domain.MarketCriteria, error) {
	if c.Unit == u || c.Unit == "" || u == "" {
		return c, nil
	}
	var err error
	if c.Comparison == domain.CompareBracket {
		if c.Bracket.Low, err = domain.Convert(c.Bracket.Low, c.Unit, u); err != nil {
			return c, err
		}
		if c.Bracket.High, err = domain.Convert(c.Bracket.High, c.Unit, u); err != nil {
			return c, err
		}
	} else if c.Threshold, err = domain.Convert(c.Threshold, c.Unit, u); err != nil {
		return c, err
	}
	c.Unit = u
	return c, nil
}
