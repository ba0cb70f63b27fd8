// Package execution places orders for sized candidates, monitors them to a
// terminal state and settles fills into the ledger and risk manager once.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
	"github.com/shopspring/decimal"
)

const (
	minLimitPrice = 0.01
	maxLimitPrice = 0.99
	fillEpsilon   = 1e-9
)

// Config controls order placement and monitoring.
type Config struct {
	Slippage      float64       // max fraction above mid paid
	PollInterval  time.Duration // status poll cadence
	Timeout       time.Duration // cancel if not filled by then
	CancelTimeout time.Duration // budget for cancel calls during shutdown
}

// DefaultConfig returns 2% slippage, 10s polls and a 5 minute timeout.
func DefaultConfig() Config {
	return Config{
		Slippage:      0.02,
		PollInterval:  10 * time.Second,
		Timeout:       300 * time.Second,
		CancelTimeout: 10 * time.Second,
	}
}

// Ledger is the part of the diversification ledger execution settles into.
type Ledger interface {
	Settle(reservationID string, order domain.Order, at time.Time) (domain.Position, bool)
	Release(reservationID string)
}

// Risk is the part of the risk manager execution reports to.
type Risk interface {
	RecordFill(orderID string)
	HaltOperational(detail string)
}

// Request is a sized, reserved candidate ready to trade.
type Request struct {
	Candidate     domain.TradeCandidate
	ReservationID string
	Size          float64
}

// Result is the terminal outcome of one execution.
type Result struct {
	Order    domain.Order
	Position domain.Position // zero if nothing filled
	Guard    float64         // limit price sent
}

// Stats summarizes orders handled since start.
type Stats struct {
	Total           int                `json:"total"`
	Open            int                `json:"open"`
	Filled          int                `json:"filled"`
	PartiallyFilled int                `json:"partially_filled"`
	Canceled        int                `json:"canceled"`
	TimedOut        int                `json:"timed_out"`
	Rejected        int                `json:"rejected"`
	FillRate        float64            `json:"fill_rate"`
	PendingByMarket map[string]float64 `json:"pending_by_market"`
}

// Coordinator runs executions. Safe for concurrent use; each Execute owns
// its order until it reaches a terminal state.
type Coordinator struct {
	cfg      Config
	exec     ports.OrderExecutor
	ledger   Ledger
	risk     Risk
	recorder ports.TradeRecorder
	store    ports.StateStore
	sink     ports.EventSink
	now      func() time.Time

	mu      sync.Mutex
	open    map[string]domain.Order
	settled map[string]bool
	stats   Stats
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder appends every order state to the trade log.
func WithRecorder(r ports.TradeRecorder) Option { return func(c *Coordinator) { c.recorder = r } }

// WithStore persists positions opened by fills.
func WithStore(s ports.StateStore) Option { return func(c *Coordinator) { c.store = s } }

// WithSink publishes trade signals and alerts.
func WithSink(s ports.EventSink) Option { return func(c *Coordinator) { c.sink = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// New creates a Coordinator.
func New(cfg Config, exec ports.OrderExecutor, ledger Ledger, risk Risk, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		exec:    exec,
		ledger:  ledger,
		risk:    risk,
		now:     time.Now,
		open:    make(map[string]domain.Order),
		settled: make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GuardPrice is mid raised by slippage, rounded to the 0.01 tick and
// clamped to the tradable range.
func GuardPrice(mid, slippage float64) float64 {
	p := decimal.NewFromFloat(mid).Mul(decimal.NewFromFloat(1 + slippage)).Round(2).InexactFloat64()
	return math.Max(minLimitPrice, math.Min(maxLimitPrice, p))
}

// Execute places the order at the guarded price and blocks until it is
// filled, canceled or timed out. The reservation is always settled or
// released before Execute returns.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	cand := req.Candidate
	guard := GuardPrice(cand.Price, c.cfg.Slippage)
	res := Result{Guard: guard}

	id, err := c.exec.Place(ctx, domain.PlaceOrderRequest{
		MarketID: cand.MarketID,
		TokenID:  cand.TokenID,
		Side:     cand.Side,
		Price:    guard,
		Size:     req.Size,
	})
	if err != nil {
		c.ledger.Release(req.ReservationID)
		return res, c.placeFailed(ctx, cand, req.Size, err)
	}

	now := c.now().UTC()
	order := domain.Order{
		ID:        id,
		MarketID:  cand.MarketID,
		TokenID:   cand.TokenID,
		Side:      cand.Side,
		Price:     guard,
		Size:      req.Size,
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.track(order)
	slog.Info("order placed",
		"order", id,
		"market", cand.MarketID,
		"side", cand.Side,
		"price", guard,
		"size", req.Size,
		"edge", cand.Edge,
	)
	c.publish(ctx, domain.EventTradeSignal, domain.TradeSignal{
		OrderID:  id,
		MarketID: cand.MarketID,
		Question: cand.Question,
		Side:     cand.Side,
		Price:    guard,
		Size:     req.Size,
		Edge:     cand.Edge,
		Tier:     cand.Tier,
	})
	c.record(ctx, cand, order)

	final := c.monitor(ctx, order, guard)
	res.Order = final
	res.Position, _ = c.settle(ctx, req.ReservationID, cand, final)

	if final.Status == domain.OrderTimedOut {
		return res, fmt.Errorf("execution.Execute: order %s: %w", id, domain.ErrOrderTimeout)
	}
	return res, nil
}

func (c *Coordinator) placeFailed(ctx context.Context, cand domain.TradeCandidate, size float64, err error) error {
	c.mu.Lock()
	c.stats.Rejected++
	c.mu.Unlock()

	if errors.Is(err, domain.ErrInsufficientBalance) {
		detail := fmt.Sprintf("insufficient balance placing %.2f on %s", size, cand.MarketID)
		c.risk.HaltOperational(detail)
		c.publish(ctx, domain.EventAlert, domain.Alert{
			Kind:     domain.AlertInsufficientBalance,
			MarketID: cand.MarketID,
			Message:  detail,
			Value:    size,
		})
		return fmt.Errorf("execution.Execute: place: %w", err)
	}

	slog.Warn("order rejected", "market", cand.MarketID, "size", size, "err", err)
	c.publish(ctx, domain.EventAlert, domain.Alert{
		Kind:     domain.AlertOrderRejected,
		MarketID: cand.MarketID,
		Message:  err.Error(),
		Value:    size,
	})
	if errors.Is(err, domain.ErrOrderRejected) {
		return fmt.Errorf("execution.Execute: place: %w", err)
	}
	return fmt.Errorf("execution.Execute: place: %w: %v", domain.ErrOrderRejected, err)
}

// monitor polls the order until it is terminal, the timeout fires, the fill
// price drifts past the guard, or ctx is canceled.
func (c *Coordinator) monitor(ctx context.Context, o domain.Order, guard float64) domain.Order {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.cfg.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.cancel(o, "shutdown")
		case <-deadline.C:
			return c.cancel(o, "timeout")
		case <-ticker.C:
			st, err := c.exec.Status(ctx, o.ID)
			if err != nil {
				slog.Warn("order status failed", "order", o.ID, "err", err)
				continue
			}
			o = c.apply(o, st)
			if o.Status.Terminal() {
				return c.finish(o)
			}
			if o.Filled > 0 && o.AvgPrice() > guard+fillEpsilon {
				return c.cancel(o, "slippage")
			}
		}
	}
}

// apply merges an exchange report. Fills never shrink and backward status
// reports are ignored.
func (c *Coordinator) apply(o domain.Order, st domain.Order) domain.Order {
	if st.Filled > o.Filled {
		o.Filled = st.Filled
		o.FilledShares = st.FilledShares
		o.UpdatedAt = c.now().UTC()
	}
	next := st.Status
	switch {
	case next == "" || next == o.Status:
	case !domain.CanTransition(o.Status, next):
		slog.Warn("ignoring order status regression", "order", o.ID, "from", o.Status, "to", next)
	default:
		o.Status = next
		o.UpdatedAt = c.now().UTC()
	}
	c.update(o)
	return o
}

// cancel cancels the unfilled remainder with a fresh context so it still
// runs during shutdown, then fixes the terminal state.
func (c *Coordinator) cancel(o domain.Order, why string) domain.Order {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CancelTimeout)
	defer cancel()

	if _, err := c.exec.Cancel(ctx, o.ID); err != nil {
		slog.Warn("order cancel failed", "order", o.ID, "reason", why, "err", err)
	}
	// Fills can land between the last poll and the cancel.
	if st, err := c.exec.Status(ctx, o.ID); err == nil && st.Filled > o.Filled {
		o.Filled = st.Filled
		o.FilledShares = st.FilledShares
	}

	next := domain.OrderCanceled
	switch {
	case o.Filled >= o.Size-fillEpsilon && o.Size > 0:
		next = domain.OrderFilled
	case o.Filled <= 0 && why == "timeout":
		next = domain.OrderTimedOut
	}
	if o.Status != next {
		if !domain.CanTransition(o.Status, next) {
			panic(fmt.Sprintf("execution: illegal order transition %s -> %s for %s", o.Status, next, o.ID))
		}
		o.Status = next
	}
	o.Reason = why
	o.UpdatedAt = c.now().UTC()
	slog.Info("order closed", "order", o.ID, "status", o.Status, "reason", why, "filled", o.Filled, "size", o.Size)
	return c.finish(o)
}

func (c *Coordinator) finish(o domain.Order) domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, o.ID)
	switch o.Status {
	case domain.OrderFilled:
		c.stats.Filled++
	case domain.OrderCanceled:
		c.stats.Canceled++
		if o.Filled > 0 {
			c.stats.PartiallyFilled++
		}
	case domain.OrderTimedOut:
		c.stats.TimedOut++
	}
	return o
}

// settle applies the terminal order to ledger and risk once per order id.
func (c *Coordinator) settle(ctx context.Context, reservationID string, cand domain.TradeCandidate, o domain.Order) (domain.Position, bool) {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	if c.settled[o.ID] {
		c.mu.Unlock()
		return domain.Position{}, false
	}
	c.settled[o.ID] = true
	c.mu.Unlock()

	p, applied := c.ledger.Settle(reservationID, o, c.now())
	if !applied {
		return domain.Position{}, false
	}
	if o.Filled > 0 {
		c.risk.RecordFill(o.ID)
		if c.store != nil {
			if err := c.store.SavePosition(ctx, p); err != nil {
				slog.Warn("persist position failed", "position", p.ID, "err", err)
			}
		}
	}
	c.record(ctx, cand, o)
	return p, true
}

// CancelOutstanding cancels every order still being monitored. Monitors
// observe ctx cancellation on their own; this covers orders whose monitor
// is stuck in a slow status call.
func (c *Coordinator) CancelOutstanding(ctx context.Context) int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.open))
	for id := range c.open {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		ok, err := c.exec.Cancel(ctx, id)
		if err != nil {
			slog.Warn("cancel outstanding failed", "order", id, "err", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

// Stats returns order statistics.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Open = len(c.open)
	s.PendingByMarket = make(map[string]float64)
	for _, o := range c.open {
		s.PendingByMarket[o.MarketID] += o.Remaining()
	}
	if s.Total > 0 {
		s.FillRate = float64(s.Filled) / float64(s.Total)
	}
	return s
}

// OpenOrders returns the number of orders being monitored.
func (c *Coordinator) OpenOrders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

func (c *Coordinator) track(o domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[o.ID] = o
	c.stats.Total++
}

func (c *Coordinator) update(o domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[o.ID]; ok {
		c.open[o.ID] = o
	}
}

func (c *Coordinator) record(ctx context.Context, cand domain.TradeCandidate, o domain.Order) {
	if c.recorder == nil {
		return
	}
	rec := domain.TradeRecord{
		OrderID:      o.ID,
		MarketID:     o.MarketID,
		Question:     cand.Question,
		TokenID:      o.TokenID,
		Side:         o.Side,
		Price:        o.Price,
		Size:         o.Size,
		Filled:       o.Filled,
		Status:       o.Status,
		Edge:         cand.Edge,
		ForecastProb: cand.ForecastProb,
		Tier:         cand.Tier,
		RecordedAt:   c.now().UTC(),
	}
	if err := c.recorder.RecordTrade(ctx, rec); err != nil {
		slog.Warn("record trade failed", "order", o.ID, "err", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, t domain.EventType, payload any) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(ctx, domain.Event{Type: t, At: c.now().UTC(), Payload: payload})
}
