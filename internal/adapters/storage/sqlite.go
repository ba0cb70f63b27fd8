package storage

// sqlite.go: historial de trades y estado para sobrevivir reinicios.
//
//   - `trades`: append-only, una fila por transición relevante de una orden.
//   - `risk_state`: una sola fila (id=1) con el RiskState serializado.
//   - `positions`: posiciones abiertas; se borran al liquidarse.
//   - `scans`: resumen por ciclo de escaneo, con prune a 30 días al arrancar.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id      TEXT    NOT NULL,
    market_id     TEXT    NOT NULL,
    question      TEXT,
    token_id      TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    price         REAL    NOT NULL,
    size          REAL    NOT NULL,
    filled        REAL    NOT NULL DEFAULT 0,
    status        TEXT    NOT NULL,
    edge          REAL    NOT NULL DEFAULT 0,
    forecast_prob REAL    NOT NULL DEFAULT 0,
    tier          TEXT,
    recorded_at   TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_state (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    state      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id         TEXT PRIMARY KEY,
    order_id   TEXT NOT NULL,
    market_id  TEXT NOT NULL,
    token_id   TEXT NOT NULL,
    side       TEXT NOT NULL,
    cluster    TEXT,
    resolution TEXT NOT NULL,
    size       REAL NOT NULL,
    shares     REAL NOT NULL,
    price      REAL NOT NULL,
    opened_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    scanned_at  TEXT    NOT NULL,
    markets     INTEGER NOT NULL DEFAULT 0,
    placed      INTEGER NOT NULL DEFAULT 0,
    skipped     TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_at    ON trades(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_scans_at     ON scans(scanned_at DESC);
`

const retentionScans = 30 * 24 * time.Hour

// SQLiteStorage implementa ports.TradeRecorder y ports.StateStore usando
// SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia escaneos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RecordTrade añade una fila al historial de trades.
func (s *SQLiteStorage) RecordTrade(ctx context.Context, rec domain.TradeRecord) error {
	at := rec.RecordedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (order_id, market_id, question, token_id, side, price, size,
		                    filled, status, edge, forecast_prob, tier, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.MarketID, rec.Question, rec.TokenID, string(rec.Side),
		rec.Price, rec.Size, rec.Filled, string(rec.Status),
		rec.Edge, rec.ForecastProb, string(rec.Tier), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordTrade: %s: %w", rec.OrderID, err)
	}
	return nil
}

// RecentTrades devuelve los últimos limit trades, más recientes primero.
func (s *SQLiteStorage) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, market_id, COALESCE(question, ''), token_id, side, price, size,
		       filled, status, edge, forecast_prob, COALESCE(tier, ''), recorded_at
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentTrades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			r                  domain.TradeRecord
			side, status, tier string
			at                 string
		)
		if err := rows.Scan(&r.OrderID, &r.MarketID, &r.Question, &r.TokenID, &side,
			&r.Price, &r.Size, &r.Filled, &status, &r.Edge, &r.ForecastProb, &tier, &at); err != nil {
			return nil, fmt.Errorf("storage.RecentTrades: scan: %w", err)
		}
		r.Side = domain.Side(side)
		r.Status = domain.OrderStatus(status)
		r.Tier = domain.Tier(tier)
		r.RecordedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRiskState reemplaza el snapshot de riesgo.
func (s *SQLiteStorage) SaveRiskState(ctx context.Context, state domain.RiskState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskState: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_state (id, state, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(b), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskState: %w", err)
	}
	return nil
}

// LoadRiskState devuelve el último snapshot guardado, o false si no hay ninguno.
func (s *SQLiteStorage) LoadRiskState(ctx context.Context) (domain.RiskState, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM risk_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RiskState{}, false, nil
	}
	if err != nil {
		return domain.RiskState{}, false, fmt.Errorf("storage.LoadRiskState: %w", err)
	}
	var st domain.RiskState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.RiskState{}, false, fmt.Errorf("storage.LoadRiskState: unmarshal: %w", err)
	}
	return st, true, nil
}

// SavePosition inserta o reemplaza una posición abierta.
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, order_id, market_id, token_id, side, cluster,
		                       resolution, size, shares, price, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  size = excluded.size, shares = excluded.shares, price = excluded.price`,
		p.ID, p.OrderID, p.MarketID, p.TokenID, string(p.Side), p.Cluster,
		formatTime(p.Resolution), p.Size, p.Shares, p.Price, formatTime(p.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %s: %w", p.ID, err)
	}
	return nil
}

// DeletePosition borra una posición liquidada. Borrar una inexistente no es error.
func (s *SQLiteStorage) DeletePosition(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage.DeletePosition: %s: %w", id, err)
	}
	return nil
}

// LoadPositions devuelve las posiciones abiertas ordenadas por apertura.
func (s *SQLiteStorage) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, market_id, token_id, side, COALESCE(cluster, ''),
		       resolution, size, shares, price, opened_at
		FROM positions ORDER BY opened_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                 domain.Position
			side, res, opened string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.MarketID, &p.TokenID, &side, &p.Cluster,
			&res, &p.Size, &p.Shares, &p.Price, &opened); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: scan: %w", err)
		}
		p.Side = domain.Side(side)
		p.Resolution = parseTime(res)
		p.OpenedAt = parseTime(opened)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveScan persiste el resumen de un ciclo de escaneo.
func (s *SQLiteStorage) SaveScan(ctx context.Context, at time.Time, sum domain.ScanSummary) error {
	skipped, err := json.Marshal(sum.Skipped)
	if err != nil {
		return fmt.Errorf("storage.SaveScan: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (scanned_at, markets, placed, skipped, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		formatTime(at), sum.Markets, sum.Placed, string(skipped), sum.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveScan: insert: %w", err)
	}
	return nil
}

// RecentScans devuelve los últimos limit resúmenes de escaneo, más recientes primero.
func (s *SQLiteStorage) RecentScans(ctx context.Context, limit int) ([]domain.ScanSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT markets, placed, COALESCE(skipped, ''), duration_ms
		FROM scans ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentScans: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanSummary
	for rows.Next() {
		var (
			sum     domain.ScanSummary
			skipped string
			ms      int64
		)
		if err := rows.Scan(&sum.Markets, &sum.Placed, &skipped, &ms); err != nil {
			return nil, fmt.Errorf("storage.RecentScans: scan: %w", err)
		}
		if skipped != "" {
			if err := json.Unmarshal([]byte(skipped), &sum.Skipped); err != nil {
				return nil, fmt.Errorf("storage.RecentScans: skipped: %w", err)
			}
		}
		sum.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Publish implementa ports.EventSink: guarda los resúmenes de escaneo e
// ignora el resto de eventos.
func (s *SQLiteStorage) Publish(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventScanSummary {
		return
	}
	sum, ok := ev.Payload.(domain.ScanSummary)
	if !ok {
		return
	}
	if err := s.SaveScan(ctx, ev.At, sum); err != nil {
		slog.Warn("storage: save scan failed", "err", err)
	}
}

// pruneOld borra escaneos fuera de retención. Los trades no se borran nunca.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(s.now().Add(-retentionScans))
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE scanned_at < ?`, cutoff)
	if err != nil {
		slog.Warn("storage: prune failed", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("storage: pruned old scans", "rows", n)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
