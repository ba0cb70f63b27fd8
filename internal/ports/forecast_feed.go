package ports

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// ForecastFeed obtiene ensembles de pronóstico por modelo.
type ForecastFeed interface {
	// Fetch devuelve los miembros del ensemble reducidos a la fecha pedida.
	// Si no hay datos devuelve un error que envuelve domain.ErrDataUnavailable,
	// nunca un ensemble vacío.
	Fetch(ctx context.Context, req domain.ForecastRequest) (domain.Ensemble, error)
}
