package ports

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// MarketCriteriaFeed descubre mercados de clima ya parseados.
type MarketCriteriaFeed interface {
	// Discover devuelve los mercados activos con criterios estructurados.
	// Es idempotente; los mercados que no se pueden parsear se omiten.
	Discover(ctx context.Context) ([]domain.MarketCriteria, error)
}
