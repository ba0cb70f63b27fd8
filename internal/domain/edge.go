package domain

// Side of a binary market.
type Side string

const (
	SideYes  Side = "YES"
	SideNo   Side = "NO"
	SideNone Side = "NONE"
)

// Tier is the confidence bucket of an assessment.
type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
)

// EdgeAssessment compares the forecast against the market price.
type EdgeAssessment struct {
	MarketID     string  `json:"market_id"`
	ForecastProb float64 `json:"forecast_prob"`
	MarketPrice  float64 `json:"market_price"` // YES price
	EdgeYes      float64 `json:"edge_yes"`
	EdgeNo       float64 `json:"edge_no"`
	Edge         float64 `json:"edge"` // max(EdgeYes, EdgeNo)
	EV           float64 `json:"ev"`   // per dollar staked on Side
	Side         Side    `json:"side"`
	Tier         Tier    `json:"tier"`
	Agreement    float64 `json:"agreement"`
	Clamped      bool    `json:"clamped"` // a near-zero price hit the sentinel
}

// EntryPrice is the token price paid on the recommended side.
func (a EdgeAssessment) EntryPrice() float64 {
	if a.Side == SideNo {
		return 1 - a.MarketPrice
	}
	return a.MarketPrice
}

// WinProb is the forecast probability that the recommended side wins.
func (a EdgeAssessment) WinProb() float64 {
	if a.Side == SideNo {
		return 1 - a.ForecastProb
	}
	return a.ForecastProb
}
