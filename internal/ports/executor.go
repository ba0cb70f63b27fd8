package ports

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// OrderExecutor places, cancels, and monitors orders.
type OrderExecutor interface {
	// Place submits a limit buy and returns the order id.
	// Funding shortfalls wrap domain.ErrInsufficientBalance; exchange-side
	// validation failures wrap domain.ErrOrderRejected.
	Place(ctx context.Context, req domain.PlaceOrderRequest) (string, error)

	// Status returns the current state of an order as seen by the exchange.
	Status(ctx context.Context, orderID string) (domain.Order, error)

	// Cancel cancels the unfilled remainder. It reports whether the
	// order was still open.
	Cancel(ctx context.Context, orderID string) (bool, error)

	// Positions returns current token holdings.
	Positions(ctx context.Context) ([]domain.Holding, error)

	// Balance returns the available USDC balance.
	Balance(ctx context.Context) (float64, error)
}

// Redeemer settles tokens of resolved markets back into cash.
type Redeemer interface {
	// Redeem pays out shares at $1 each when won and drops the holding
	// either way. It returns the USDC credited.
	Redeem(ctx context.Context, tokenID string, shares float64, won bool) (float64, error)
}
