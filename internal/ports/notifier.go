package ports

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// EventSink recibe los eventos expuestos a la capa de notificación
// (consola, websocket, métricas).
type EventSink interface {
	// Publish no debe bloquear el pipeline; las implementaciones lentas
	// descartan o encolan.
	Publish(ctx context.Context, ev domain.Event)
}
