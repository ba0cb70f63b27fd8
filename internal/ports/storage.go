package ports

import (
	"context"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// TradeRecorder persiste el historial de trades. Solo append.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, rec domain.TradeRecord) error
}

// StateStore persiste el estado de riesgo y las posiciones abiertas
// para sobrevivir a reinicios.
type StateStore interface {
	SaveRiskState(ctx context.Context, state domain.RiskState) error
	// LoadRiskState devuelve false si nunca se guardó un estado.
	LoadRiskState(ctx context.Context) (domain.RiskState, bool, error)

	SavePosition(ctx context.Context, p domain.Position) error
	DeletePosition(ctx context.Context, id string) error
	LoadPositions(ctx context.Context) ([]domain.Position, error)
}
