package storage

import (
	"context"
	"errors"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
)

// Recorders escribe cada trade en todos los recorders configurados. Un fallo
// en uno no impide escribir en los demás.
type Recorders []ports.TradeRecorder

// RecordTrade implementa ports.TradeRecorder.
func (rs Recorders) RecordTrade(ctx context.Context, rec domain.TradeRecord) error {
	var errs []error
	for _, r := range rs {
		if err := r.RecordTrade(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
