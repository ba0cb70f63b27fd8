package domain

import "time"

// ForecastRequest identifies one ensemble fetch.
type ForecastRequest struct {
	Location  string
	Latitude  float64
	Longitude float64
	Timezone  string
	Date      time.Time
	Variable  Variable
	Unit      Unit
	Models    []string
}

// Key identifies requests that yield the same ensemble.
func (r ForecastRequest) Key() string {
	return r.Location + "|" + DateKey(r.Date) + "|" + string(r.Variable) + "|" + string(r.Unit)
}

// Ensemble holds per-model member values reduced to the target date
// (daily max for temperature, daily sum for precipitation).
type Ensemble struct {
	Location  string               `json:"location"`
	Date      time.Time            `json:"date"`
	Variable  Variable             `json:"variable"`
	Unit      Unit                 `json:"unit"`
	Members   map[string][]float64 `json:"members"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// Size returns the total member count across models.
func (e Ensemble) Size() int {
	n := 0
	for _, m := range e.Members {
		n += len(m)
	}
	return n
}

// ProbabilityEstimate is the aggregated forecast probability for one market.
// Estimates are replaced on refresh, never edited.
type ProbabilityEstimate struct {
	MarketID   string             `json:"market_id"`
	PerModel   map[string]float64 `json:"per_model"`
	Consensus  float64            `json:"consensus"`
	Agreement  float64            `json:"agreement"`
	Members    int                `json:"members"`
	ComputedAt time.Time          `json:"computed_at"`
}
