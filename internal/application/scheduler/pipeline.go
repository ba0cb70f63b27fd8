package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/application/execution"
	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// Motivos por los que un mercado no llega a colocar orden en un ciclo.
// Los motivos del evaluador de edge se registran con su propio nombre.
const (
	skipInFlight       = "in_flight"
	skipInactive       = "inactive"
	skipNoEstimate     = "no_estimate"
	skipNoPrice        = "no_price"
	skipHalted         = "risk_halted"
	skipCooldown       = "cooldown"
	skipDiversify      = "diversification"
	skipInvalidTrade   = "invalid_trade"
	skipOrderRejected  = "order_rejected"
	skipOrderTimeout   = "order_timeout"
	skipNoBalance      = "insufficient_balance"
	skipPipelineFailed = "pipeline_error"
	outcomePlaced      = "placed"
)

// runPipeline ejecuta evaluación → sizing → reserva → ejecución para un mercado.
// Mantiene el mercado marcado como in-flight hasta que la orden queda liquidada,
// así un ciclo solapado nunca coloca una segunda orden para el mismo edge.
func (s *Scheduler) runPipeline(ctx context.Context, m domain.MarketCriteria) string {
	if !s.acquire(m.ID) {
		return skipInFlight
	}
	defer s.release(m.ID)

	now := s.now()
	if !m.Active(now) {
		return skipInactive
	}

	est, ok := s.estimate(m.ID)
	if !ok {
		return skipNoEstimate
	}

	mid, err := s.price(ctx, m.YesTokenID)
	if err != nil {
		slog.Debug("pipeline: no price", "market", m.ID, "err", err)
		return skipNoPrice
	}

	a := s.deps.Evaluator.Assess(m.ID, est, mid)
	d := s.deps.Evaluator.Gate(m, a, now)
	if d.Alert != nil {
		slog.Warn("pipeline: edge anomaly", "market", m.ID, "question", m.Question, "edge", a.Edge)
		s.publish(ctx, domain.EventAlert, *d.Alert)
	}
	if !d.Accepted() {
		return string(d.Reason)
	}

	if err := s.deps.Risk.CanTrade(now); err != nil {
		if errors.Is(err, risk.ErrCooldown) {
			return skipCooldown
		}
		return skipHalted
	}

	bankroll := s.Bankroll()
	sized := s.deps.Sizer.Size(bankroll, a)
	if sized.Size <= 0 {
		return sized.Reason
	}

	cand := domain.TradeCandidate{
		ID:           m.ID + ":" + string(a.Side),
		MarketID:     m.ID,
		Question:     m.Question,
		TokenID:      m.TokenFor(a.Side),
		Side:         a.Side,
		Location:     m.Location,
		Cluster:      m.Cluster,
		Resolution:   m.Resolution,
		ProposedSize: sized.Size,
		Price:        a.EntryPrice(),
		Edge:         a.Edge,
		ForecastProb: a.ForecastProb,
		Tier:         a.Tier,
	}
	r, allow := s.deps.Ledger.Reserve(cand, bankroll, s.deps.Sizer.Fit(sized.Size))
	if !allow.Allowed {
		slog.Debug("pipeline: diversification", "market", m.ID, "reason", allow.Reason, "applied", allow.Applied)
		return skipDiversify
	}

	if err := s.deps.Risk.ValidateTrade(r.Size, m.Resolution, now); err != nil {
		s.deps.Ledger.Release(r.ID)
		slog.Warn("pipeline: trade failed validation", "market", m.ID, "size", r.Size, "err", err)
		return skipInvalidTrade
	}

	slog.Info("pipeline: executing",
		"market", m.ID,
		"question", m.Question,
		"side", a.Side,
		"forecast", fmt.Sprintf("%.3f", a.ForecastProb),
		"price", fmt.Sprintf("%.3f", a.EntryPrice()),
		"edge", fmt.Sprintf("%.3f", a.Edge),
		"tier", a.Tier,
		"size", fmt.Sprintf("$%.2f", r.Size),
	)
	_, err = s.deps.Coordinator.Execute(ctx, execution.Request{Candidate: cand, ReservationID: r.ID, Size: r.Size})
	switch {
	case err == nil:
		return outcomePlaced
	case errors.Is(err, domain.ErrOrderTimeout):
		return skipOrderTimeout
	case errors.Is(err, domain.ErrInsufficientBalance):
		return skipNoBalance
	case errors.Is(err, domain.ErrOrderRejected):
		return skipOrderRejected
	}
	slog.Warn("pipeline: execution failed", "market", m.ID, "err", err)
	return skipPipelineFailed
}

// price devuelve el midpoint del token; si no está disponible cae al orderbook.
func (s *Scheduler) price(ctx context.Context, tokenID string) (float64, error) {
	mid, err := s.deps.Prices.Midpoint(ctx, tokenID)
	if err == nil && mid > 0 && mid < 1 {
		return mid, nil
	}
	book, bookErr := s.deps.Prices.OrderBook(ctx, tokenID)
	if bookErr != nil {
		return 0, fmt.Errorf("scheduler.price: midpoint: %v; book: %w", err, bookErr)
	}
	if mid := book.Midpoint(); mid > 0 && mid < 1 {
		return mid, nil
	}
	return 0, fmt.Errorf("scheduler.price: empty book for %s: %w", tokenID, domain.ErrDataUnavailable)
}

// pipelineStats agrega los motivos de descarte de un ciclo para loguear
// una sola línea en vez de una por mercado.
type pipelineStats struct {
	counts map[string]int
	placed int
}

func (s *pipelineStats) record(outcome string) {
	if outcome == outcomePlaced {
		s.placed++
		return
	}
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[outcome]++
}

func (s *pipelineStats) log(total int, elapsed time.Duration) {
	keys := make([]string, 0, len(s.counts))
	for k := range s.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := []any{"markets", total}
	for _, k := range keys {
		attrs = append(attrs, "skip_"+k, s.counts[k])
	}
	attrs = append(attrs, "placed", s.placed, "duration", elapsed.Round(time.Millisecond))
	slog.Info("scan pipeline", attrs...)
}

func (s *pipelineStats) summary(total int, elapsed time.Duration) domain.ScanSummary {
	skipped := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		skipped[k] = v
	}
	return domain.ScanSummary{Markets: total, Placed: s.placed, Skipped: skipped, Duration: elapsed}
}
