package storage

// postgres.go: copia del historial de trades en PostgreSQL para análisis
// compartido. SQLite sigue siendo la fuente del estado de riesgo y posiciones;
// aquí solo se escribe el log append-only.

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS weather_trades (
    id            BIGSERIAL PRIMARY KEY,
    order_id      TEXT        NOT NULL,
    market_id     TEXT        NOT NULL,
    question      TEXT,
    token_id      TEXT        NOT NULL,
    side          TEXT        NOT NULL,
    price         NUMERIC     NOT NULL,
    size          NUMERIC     NOT NULL,
    filled        NUMERIC     NOT NULL DEFAULT 0,
    status        TEXT        NOT NULL,
    edge          NUMERIC     NOT NULL DEFAULT 0,
    forecast_prob NUMERIC     NOT NULL DEFAULT 0,
    tier          TEXT,
    recorded_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_trades_order ON weather_trades(order_id);
`

// PostgresRecorder implementa ports.TradeRecorder sobre un pool de pgx.
// Los importes se guardan como NUMERIC para no arrastrar error de float.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder conecta al DSN dado y aplica el schema.
func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgresRecorder: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresRecorder: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresRecorder: apply schema: %w", err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

// Close libera el pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}

// RecordTrade inserta el registro con importes exactos.
func (r *PostgresRecorder) RecordTrade(ctx context.Context, rec domain.TradeRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO weather_trades (order_id, market_id, question, token_id, side, price, size,
		                             filled, status, edge, forecast_prob, tier, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9,
		         $10::NUMERIC, $11::NUMERIC, $12, $13)`,
		rec.OrderID, rec.MarketID, rec.Question, rec.TokenID, string(rec.Side),
		numeric(rec.Price), numeric(rec.Size), numeric(rec.Filled), string(rec.Status),
		numeric(rec.Edge), numeric(rec.ForecastProb), string(rec.Tier), rec.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.PostgresRecorder.RecordTrade: %s: %w", rec.OrderID, err)
	}
	return nil
}

// numeric redondea a 6 decimales (la precisión de USDC) y devuelve el literal.
func numeric(v float64) string {
	return decimal.NewFromFloat(v).Round(6).String()
}
