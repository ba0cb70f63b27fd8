package notify

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
)

// Multi reparte cada evento a varios sinks en orden.
type Multi []ports.EventSink

// NewMulti descarta los sinks nil para que el wiring opcional sea sencillo.
func NewMulti(sinks ...ports.EventSink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Publish implementa ports.EventSink.
func (m Multi) Publish(ctx context.Context, ev domain.Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}
