package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/weatherbot/internal/application/ledger"
	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
)

// RestoreState carga el estado persistido antes de arrancar: primero el
// riesgo, después las posiciones abiertas. Una posición cuya liquidación ya
// consta en el estado de riesgo (el borrado falló o el proceso cayó entre
// ambos pasos) se borra del store en vez de volver al ledger.
func RestoreState(ctx context.Context, store ports.StateStore, led *ledger.Ledger, rm *risk.Manager) ([]domain.Position, error) {
	st, ok, err := store.LoadRiskState(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler.RestoreState: risk state: %w", err)
	}
	if ok {
		rm.Restore(st)
	}

	positions, err := store.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler.RestoreState: positions: %w", err)
	}
	open := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if !rm.Settled(p.ID) {
			open = append(open, p)
			continue
		}
		slog.Warn("restore: dropping already settled position", "position", p.ID, "market", p.MarketID)
		if err := store.DeletePosition(ctx, p.ID); err != nil {
			slog.Warn("restore: delete position failed", "position", p.ID, "err", err)
		}
	}
	led.Restore(open)
	return open, nil
}
