package ports

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// PriceFeed obtiene precios de tokens del CLOB.
type PriceFeed interface {
	// Midpoint devuelve el precio medio en (0,1) o un error
	// que envuelve domain.ErrDataUnavailable.
	Midpoint(ctx context.Context, tokenID string) (float64, error)

	// OrderBook devuelve bids/asks del token; se usa como fallback
	// cuando Midpoint no está disponible.
	OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
}
