// Package ledger owns PortfolioState and decides how much exposure a
// candidate trade may add without breaching diversification limits.
package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/google/uuid"
)

// Check names one diversification constraint.
type Check string

const (
	CheckTotal       Check = "total_exposure"
	CheckCluster     Check = "cluster_limit"
	CheckSameDay     Check = "same_day_limit"
	CheckDiversity50 Check = "cluster_diversity_50"
	CheckDiversity75 Check = "cluster_diversity_75"
	CheckMinSize     Check = "min_size"
)

// Config holds the diversification limits.
type Config struct {
	MaxTotalPct      float64 // of bankroll
	MaxClusterPct    float64 // of deployed capital
	MaxSameDayPct    float64 // of deployed capital
	MinClustersFor50 int
	MinClustersFor75 int
	MinPosition      float64
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxTotalPct:      0.75,
		MaxClusterPct:    0.30,
		MaxSameDayPct:    0.40,
		MinClustersFor50: 2,
		MinClustersFor75: 3,
		MinPosition:      1.0,
	}
}

// Step records the allowance after one check ran.
type Step struct {
	Check     Check
	Allowance float64
}

// Allowance is the outcome of the diversification checks.
type Allowance struct {
	Allowed bool
	Size    float64
	Reason  string
	Applied []Check // checks that shrank or rejected the size
	Trail   []Step  // allowance after every check, in order
}

// Reservation holds exposure for a candidate between sizing and settlement.
type Reservation struct {
	ID       string
	MarketID string
	Size     float64
}

// Ledger is the single writer of PortfolioState. All methods are safe for
// concurrent use.
type Ledger struct {
	cfg Config

	mu       sync.Mutex
	state    domain.PortfolioState
	reserved map[string]reservation
	settled  map[string]bool // order id → already applied
}

type reservation struct {
	candidate domain.TradeCandidate
	size      float64
}

// New creates an empty ledger.
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:      cfg,
		state:    domain.NewPortfolioState(),
		reserved: make(map[string]reservation),
		settled:  make(map[string]bool),
	}
}

// Restore loads previously persisted positions. Must run before trading starts.
func (l *Ledger) Restore(positions []domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		l.state.Add(p)
		if p.OrderID != "" {
			l.settled[p.OrderID] = true
		}
	}
}

// Allowance evaluates the candidate against the current state, counting
// outstanding reservations as exposure. It does not reserve anything.
func (l *Ledger) Allowance(c domain.TradeCandidate, bankroll float64) Allowance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evaluate(c, bankroll, l.view())
}

// Reserve evaluates the candidate and, if allowed, holds fit(allowance) of
// exposure under a new reservation. Check and hold happen under one lock so
// concurrent pipelines never book the same room twice. fit must be a pure
// function returning a size in [0, allowance]; a zero size releases nothing
// and reports not allowed.
func (l *Ledger) Reserve(c domain.TradeCandidate, bankroll float64, fit func(allowance float64) float64) (Reservation, Allowance) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.evaluate(c, bankroll, l.view())
	if !a.Allowed {
		return Reservation{}, a
	}

	size := fit(a.Size)
	if size > a.Size+1e-9 {
		panic(fmt.Sprintf("ledger: sized %.4f above allowance %.4f for %s", size, a.Size, c.MarketID))
	}
	if size <= 0 {
		a.Allowed = false
		a.Reason = "sized to zero"
		return Reservation{}, a
	}

	id := uuid.New().String()
	l.reserved[id] = reservation{candidate: c, size: size}
	return Reservation{ID: id, MarketID: c.MarketID, Size: size}, a
}

// Release drops a reservation that will not be executed.
func (l *Ledger) Release(reservationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, reservationID)
}

// Settle converts a reservation into a position for the filled amount and
// releases the rest. It is idempotent per order id and reports whether this
// call applied the settlement.
func (l *Ledger) Settle(reservationID string, order domain.Order, at time.Time) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settled[order.ID] {
		return domain.Position{}, false
	}
	l.settled[order.ID] = true

	r, ok := l.reserved[reservationID]
	delete(l.reserved, reservationID)
	if order.Filled <= 0 {
		return domain.Position{}, true
	}
	if !ok {
		panic(fmt.Sprintf("ledger: filled order %s on %s has no reservation %q", order.ID, order.MarketID, reservationID))
	}

	p := domain.Position{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		MarketID:   order.MarketID,
		TokenID:    order.TokenID,
		Side:       order.Side,
		Cluster:    r.candidate.Cluster,
		Resolution: r.candidate.Resolution,
		Size:       order.Filled,
		Shares:     order.FilledShares,
		Price:      order.AvgPrice(),
		OpenedAt:   at.UTC(),
	}
	if p.Cluster == "" {
		p.Cluster = domain.ClusterFor(r.candidate.Location)
	}
	l.state.Add(p)
	return p, true
}

// Close removes a resolved position.
func (l *Ledger) Close(positionID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Remove(positionID)
}

// Snapshot returns a copy of the settled state (reservations excluded).
func (l *Ledger) Snapshot() domain.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Reserved returns the total exposure held by open reservations.
func (l *Ledger) Reserved() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, r := range l.reserved {
		total += r.size
	}
	return total
}

// view is the settled state plus reservations. Caller holds mu.
func (l *Ledger) view() domain.PortfolioState {
	if len(l.reserved) == 0 {
		return l.state
	}
	v := l.state.Clone()
	for id, r := range l.reserved {
		v.Add(domain.Position{
			ID:         id,
			MarketID:   r.candidate.MarketID,
			Cluster:    clusterOf(r.candidate),
			Resolution: r.candidate.Resolution,
			Size:       r.size,
		})
	}
	return v
}

// evaluate runs the checks in order; each can only shrink the allowance.
func (l *Ledger) evaluate(c domain.TradeCandidate, bankroll float64, s domain.PortfolioState) Allowance {
	if c.ProposedSize < 0 {
		panic(fmt.Sprintf("ledger: negative proposed size %.4f for %s", c.ProposedSize, c.MarketID))
	}

	res := Allowance{Size: c.ProposedSize}
	step := func(check Check, limit float64) {
		before := res.Size
		res.Size = math.Min(res.Size, limit)
		if res.Size < 0 {
			panic(fmt.Sprintf("ledger: allowance went negative (%.4f) at %s for %s", res.Size, check, c.MarketID))
		}
		if res.Size < before {
			res.Applied = append(res.Applied, check)
		}
		res.Trail = append(res.Trail, Step{Check: check, Allowance: res.Size})
	}
	reject := func(check Check, reason string) Allowance {
		res.Allowed = false
		res.Size = 0
		res.Reason = reason
		res.Applied = append(res.Applied, check)
		res.Trail = append(res.Trail, Step{Check: check, Allowance: 0})
		return res
	}

	// 1. Total exposure cap.
	maxTotal := bankroll * l.cfg.MaxTotalPct
	remaining := maxTotal - s.TotalExposure
	if remaining <= 0 {
		return reject(CheckTotal, "maximum total exposure reached")
	}
	step(CheckTotal, remaining)

	// 2. Cluster cap, relative to deployed capital.
	cluster := clusterOf(c)
	if cluster != "" && s.TotalExposure > 0 {
		room := s.TotalExposure*l.cfg.MaxClusterPct - s.ClusterExposure[cluster]
		if room <= 0 {
			return reject(CheckCluster, fmt.Sprintf("cluster %s at maximum exposure", cluster))
		}
		step(CheckCluster, room)
	} else {
		step(CheckCluster, res.Size)
	}

	// 3. Same-day resolution cap.
	date := domain.DateKey(c.Resolution)
	if s.TotalExposure > 0 {
		room := s.TotalExposure*l.cfg.MaxSameDayPct - s.DateExposure[date]
		if room <= 0 {
			return reject(CheckSameDay, fmt.Sprintf("same-day resolution limit reached for %s", date))
		}
		step(CheckSameDay, room)
	} else {
		step(CheckSameDay, res.Size)
	}

	// 4. Minimum cluster diversity before deploying past 50% / 75% of the cap.
	held := s.Clusters()
	_, alreadyHeld := held[cluster]
	addsNew := cluster != "" && !alreadyHeld
	gates := []struct {
		check   Check
		level   float64
		minimum int
	}{
		{CheckDiversity50, 0.50, l.cfg.MinClustersFor50},
		{CheckDiversity75, 0.75, l.cfg.MinClustersFor75},
	}
	for _, g := range gates {
		deployed := 0.0
		if maxTotal > 0 {
			deployed = (s.TotalExposure + res.Size) / maxTotal
		}
		if deployed <= g.level || len(held) >= g.minimum || addsNew {
			step(g.check, res.Size)
			continue
		}
		room := maxTotal*g.level - s.TotalExposure
		if room <= 0 {
			return reject(g.check, fmt.Sprintf("need positions in %d clusters before exceeding %.0f%% deployment", g.minimum, g.level*100))
		}
		step(g.check, room)
	}

	// 5. Minimum viable size.
	if res.Size < l.cfg.MinPosition {
		return reject(CheckMinSize, "remaining capacity below minimum position size")
	}

	res.Allowed = true
	res.Reason = "diversification check passed"
	return res
}

func clusterOf(c domain.TradeCandidate) string {
	if c.Cluster != "" {
		return c.Cluster
	}
	return domain.ClusterFor(c.Location)
}
