package domain

import "time"

// OrderStatus is the lifecycle state of an execution attempt.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderTimedOut        OrderStatus = "TIMED_OUT"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderTimedOut
}

// CanTransition reports whether from → to is a legal, forward move.
// PARTIALLY_FILLED → PARTIALLY_FILLED is allowed for additional fills.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderPending:
		return to == OrderPartiallyFilled || to == OrderFilled || to == OrderCanceled || to == OrderTimedOut
	case OrderPartiallyFilled:
		return to == OrderPartiallyFilled || to == OrderFilled || to == OrderCanceled
	}
	return false
}

// Order is an in-flight buy of an outcome token.
type Order struct {
	ID           string      `json:"id"`
	MarketID     string      `json:"market_id"`
	TokenID      string      `json:"token_id"`
	Side         Side        `json:"side"`
	Price        float64     `json:"price"`  // limit price
	Size         float64     `json:"size"`   // USDC
	Filled       float64     `json:"filled"` // USDC filled
	FilledShares float64     `json:"filled_shares"`
	Status       OrderStatus `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining is the unfilled USDC amount.
func (o Order) Remaining() float64 {
	if r := o.Size - o.Filled; r > 0 {
		return r
	}
	return 0
}

// FillPct is the filled fraction of the order size.
func (o Order) FillPct() float64 {
	if o.Size <= 0 {
		return 0
	}
	return o.Filled / o.Size
}

// AvgPrice is the average price paid per share.
func (o Order) AvgPrice() float64 {
	if o.FilledShares <= 0 {
		return 0
	}
	return o.Filled / o.FilledShares
}

// PlaceOrderRequest is a limit buy submitted to an executor.
type PlaceOrderRequest struct {
	MarketID string
	TokenID  string
	Side     Side
	Price    float64
	Size     float64 // USDC
}

// Holding is an executor-reported token balance.
type Holding struct {
	TokenID  string  `json:"token_id"`
	Shares   float64 `json:"shares"`
	AvgPrice float64 `json:"avg_price"`
}

// TradeRecord is the append-only audit row for an order.
type TradeRecord struct {
	OrderID      string      `json:"order_id"`
	MarketID     string      `json:"market_id"`
	Question     string      `json:"question"`
	TokenID      string      `json:"token_id"`
	Side         Side        `json:"side"`
	Price        float64     `json:"price"`
	Size         float64     `json:"size"`
	Filled       float64     `json:"filled"`
	Status       OrderStatus `json:"status"`
	Edge         float64     `json:"edge"`
	ForecastProb float64     `json:"forecast_prob"`
	Tier         Tier        `json:"tier"`
	RecordedAt   time.Time   `json:"recorded_at"`
}
