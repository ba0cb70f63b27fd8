package domain

import "time"

// TradeCandidate is a proposed trade awaiting diversification and risk clearance.
type TradeCandidate struct {
	ID           string
	MarketID     string
	Question     string
	TokenID      string
	Side         Side
	Location     string
	Cluster      string
	Resolution   time.Time
	ProposedSize float64
	Price        float64 // entry price on Side
	Edge         float64
	ForecastProb float64
	Tier         Tier
}

// Position is exposure that settled from a filled (or partially filled) order.
type Position struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	MarketID   string    `json:"market_id"`
	TokenID    string    `json:"token_id"`
	Side       Side      `json:"side"`
	Cluster    string    `json:"cluster,omitempty"`
	Resolution time.Time `json:"resolution"`
	Size       float64   `json:"size"`   // USDC cost
	Shares     float64   `json:"shares"` // tokens held
	Price      float64   `json:"price"`  // average fill price
	OpenedAt   time.Time `json:"opened_at"`
}

// PortfolioState is the aggregate exposure view. Aggregates always equal
// the sums over Positions; mutate only through Add and Remove.
type PortfolioState struct {
	TotalExposure   float64            `json:"total_exposure"`
	ClusterExposure map[string]float64 `json:"cluster_exposure"`
	DateExposure    map[string]float64 `json:"date_exposure"`
	Positions       []Position         `json:"positions"`
}

// NewPortfolioState returns an empty state.
func NewPortfolioState() PortfolioState {
	return PortfolioState{
		ClusterExposure: make(map[string]float64),
		DateExposure:    make(map[string]float64),
	}
}

// Add records a position in the aggregates.
func (s *PortfolioState) Add(p Position) {
	if s.ClusterExposure == nil {
		s.ClusterExposure = make(map[string]float64)
	}
	if s.DateExposure == nil {
		s.DateExposure = make(map[string]float64)
	}
	s.Positions = append(s.Positions, p)
	s.TotalExposure += p.Size
	if p.Cluster != "" {
		s.ClusterExposure[p.Cluster] += p.Size
	}
	s.DateExposure[DateKey(p.Resolution)] += p.Size
}

// Remove drops the position with the given id. It reports false if absent.
func (s *PortfolioState) Remove(id string) (Position, bool) {
	for i, p := range s.Positions {
		if p.ID != id {
			continue
		}
		s.Positions = append(s.Positions[:i], s.Positions[i+1:]...)
		s.TotalExposure -= p.Size
		if p.Cluster != "" {
			s.ClusterExposure[p.Cluster] -= p.Size
			if s.ClusterExposure[p.Cluster] <= 1e-9 {
				delete(s.ClusterExposure, p.Cluster)
			}
		}
		key := DateKey(p.Resolution)
		s.DateExposure[key] -= p.Size
		if s.DateExposure[key] <= 1e-9 {
			delete(s.DateExposure, key)
		}
		if s.TotalExposure < 1e-9 {
			s.TotalExposure = 0
		}
		return p, true
	}
	return Position{}, false
}

// Clusters returns the set of clusters currently held.
func (s PortfolioState) Clusters() map[string]struct{} {
	out := make(map[string]struct{}, len(s.ClusterExposure))
	for _, p := range s.Positions {
		if p.Cluster != "" {
			out[p.Cluster] = struct{}{}
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s PortfolioState) Clone() PortfolioState {
	c := PortfolioState{
		TotalExposure:   s.TotalExposure,
		ClusterExposure: make(map[string]float64, len(s.ClusterExposure)),
		DateExposure:    make(map[string]float64, len(s.DateExposure)),
		Positions:       append([]Position(nil), s.Positions...),
	}
	for k, v := range s.ClusterExposure {
		c.ClusterExposure[k] = v
	}
	for k, v := range s.DateExposure {
		c.DateExposure[k] = v
	}
	return c
}
