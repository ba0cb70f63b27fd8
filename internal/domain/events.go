package domain

import "time"

// EventType names what an Event carries.
type EventType string

const (
	EventPortfolioSnapshot EventType = "portfolio_snapshot"
	EventTradeSignal       EventType = "trade_signal"
	EventRiskStatus        EventType = "risk_status"
	EventAlert             EventType = "alert"
	EventScanSummary       EventType = "scan_summary"
)

// Event is the envelope published to the notification layer.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// PortfolioSnapshot is published on every portfolio sync.
type PortfolioSnapshot struct {
	Bankroll        float64            `json:"bankroll"`
	TotalExposure   float64            `json:"total_exposure"`
	ClusterExposure map[string]float64 `json:"cluster_exposure"`
	DateExposure    map[string]float64 `json:"date_exposure"`
	Positions       int                `json:"positions"`
	OpenOrders      int                `json:"open_orders"`
	DailyPnL        float64            `json:"daily_pnl"`
	WeeklyPnL       float64            `json:"weekly_pnl"`
	MonthlyPnL      float64            `json:"monthly_pnl"`
	TotalPnL        float64            `json:"total_pnl"`
	Halted          bool               `json:"halted"`
}

// TradeSignal is published when an order is placed.
type TradeSignal struct {
	OrderID  string  `json:"order_id"`
	MarketID string  `json:"market_id"`
	Question string  `json:"question"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Edge     float64 `json:"edge"`
	Tier     Tier    `json:"tier"`
}

// RiskStatus is published on every halt or recovery transition.
type RiskStatus struct {
	Halted  bool        `json:"halted"`
	Reason  HaltReason  `json:"reason"`
	Window  HaltReason  `json:"window"` // breached or recovered window
	Detail  string      `json:"detail"`
	Metrics RiskMetrics `json:"metrics"`
}

// AlertKind classifies alerts.
type AlertKind string

const (
	AlertEdgeAnomaly         AlertKind = "edge_anomaly"
	AlertInsufficientBalance AlertKind = "insufficient_balance"
	AlertOrderRejected       AlertKind = "order_rejected"
)

// Alert flags a rejected-but-notable candidate or an operational problem.
type Alert struct {
	Kind     AlertKind `json:"kind"`
	MarketID string    `json:"market_id,omitempty"`
	Message  string    `json:"message"`
	Value    float64   `json:"value,omitempty"`
}

// ScanSummary aggregates one opportunity scan.
type ScanSummary struct {
	Markets  int            `json:"markets"`
	Placed   int            `json:"placed"`
	Skipped  map[string]int `json:"skipped"`
	Duration time.Duration  `json:"duration"`
}
