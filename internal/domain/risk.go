package domain

import (
	"maps"
	"time"
)

// HaltReason tags why trading is halted.
type HaltReason string

const (
	HaltNone        HaltReason = ""
	HaltDaily       HaltReason = "DAILY"
	HaltWeekly      HaltReason = "WEEKLY"
	HaltMonthly     HaltReason = "MONTHLY"
	HaltManual      HaltReason = "MANUAL"
	HaltOperational HaltReason = "OPERATIONAL"
)

// Severity orders reasons; a more severe breach replaces a milder one.
func (r HaltReason) Severity() int {
	switch r {
	case HaltDaily:
		return 1
	case HaltWeekly:
		return 2
	case HaltManual, HaltOperational:
		return 3
	case HaltMonthly:
		return 4
	}
	return 0
}

// RiskState is the rolling risk posture. Halted is true iff Reason != HaltNone.
type RiskState struct {
	DailyPnL          float64    `json:"daily_pnl"`
	WeeklyPnL         float64    `json:"weekly_pnl"`
	MonthlyPnL        float64    `json:"monthly_pnl"`
	TotalPnL          float64    `json:"total_pnl"`
	DailyStart        time.Time  `json:"daily_start"`
	WeeklyStart       time.Time  `json:"weekly_start"`
	MonthlyStart      time.Time  `json:"monthly_start"`
	Halted            bool       `json:"halted"`
	Reason            HaltReason `json:"reason"`
	Detail            string     `json:"detail,omitempty"`
	HaltedAt          time.Time  `json:"halted_at"`
	LastLossAt        time.Time  `json:"last_loss_at"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	DailyTrades       int        `json:"daily_trades"`
	Wins              int        `json:"wins"`
	Losses            int        `json:"losses"`

	// Settled maps settlement keys already applied to the time they were
	// applied. Persisted so a restart never counts a resolution twice.
	Settled map[string]time.Time `json:"settled,omitempty"`
}

// Clone returns a copy that shares no maps with s.
func (s RiskState) Clone() RiskState {
	if s.Settled != nil {
		s.Settled = maps.Clone(s.Settled)
	}
	return s
}

// WindowMetrics describes one loss window against its limit.
type WindowMetrics struct {
	PnL     float64 `json:"pnl"`
	Limit   float64 `json:"limit"` // negative
	Buffer  float64 `json:"buffer"`
	PctUsed float64 `json:"pct_used"`
}

// RiskMetrics is a read-only summary of the risk posture.
type RiskMetrics struct {
	Daily             WindowMetrics `json:"daily"`
	Weekly            WindowMetrics `json:"weekly"`
	Monthly           WindowMetrics `json:"monthly"`
	TotalPnL          float64       `json:"total_pnl"`
	Halted            bool          `json:"halted"`
	Reason            HaltReason    `json:"reason"`
	Detail            string        `json:"detail,omitempty"`
	CooldownUntil     time.Time     `json:"cooldown_until"`
	DailyTrades       int           `json:"daily_trades"`
	Wins              int           `json:"wins"`
	Losses            int           `json:"losses"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	WinRate           float64       `json:"win_rate"`
}
