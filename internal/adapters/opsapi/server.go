// Package opsapi expone la API de operación: salud, métricas, estado de la
// cartera y del riesgo, control manual de halts y un stream WebSocket de eventos.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/adapters/metrics"
	"github.com/alejandrodnm/weatherbot/internal/application/execution"
	"github.com/alejandrodnm/weatherbot/internal/application/ledger"
	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// Portfolio es la vista de cartera que expone el scheduler.
type Portfolio interface {
	Snapshot() domain.PortfolioSnapshot
	Markets() []domain.MarketCriteria
}

// RiskControl es el subconjunto del risk manager que se puede operar en remoto.
type RiskControl interface {
	Metrics() domain.RiskMetrics
	Halt(detail string)
	Clear(force bool) error
}

// Orders expone las estadísticas del coordinador de ejecución.
type Orders interface {
	Stats() execution.Stats
}

// Exposure resume la exposición frente a los límites de diversificación.
type Exposure interface {
	Summary(bankroll float64) ledger.Summary
}

// TradeHistory lee el historial persistido. Opcional.
type TradeHistory interface {
	RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error)
}

// Deps agrupa lo que necesita el servidor.
type Deps struct {
	Portfolio Portfolio
	Risk      RiskControl
	Orders    Orders
	Exposure  Exposure
	Trades    TradeHistory
	Hub       *Hub
	Mode      string // "paper" o "live"
}

// Server sirve la API de operación.
type Server struct {
	deps   Deps
	router chi.Router
}

// StatusResponse es el cuerpo de GET /api/v1/status.
type StatusResponse struct {
	Mode      string                   `json:"mode"`
	Portfolio domain.PortfolioSnapshot `json:"portfolio"`
	Risk      domain.RiskMetrics       `json:"risk"`
	Orders    execution.Stats          `json:"orders"`
	Markets   int                      `json:"markets"`
	WSClients int                      `json:"ws_clients"`
}

type haltRequest struct {
	Detail string `json:"detail"`
}

// New construye el router.
func New(deps Deps) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "weatherbot"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/markets", s.markets)
		r.Get("/exposure", s.exposure)
		r.Get("/trades", s.trades)
		r.Post("/risk/halt", s.halt)
		r.Post("/risk/clear", s.clear)
		if deps.Hub != nil {
			r.Get("/ws", deps.Hub.HandleWS)
		}
	})

	s.router = r
	return s
}

// Handler devuelve el router para montarlo o testearlo.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run escucha en addr hasta que ctx se cancela y luego hace shutdown ordenado.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Mode:      s.deps.Mode,
		Portfolio: s.deps.Portfolio.Snapshot(),
		Risk:      s.deps.Risk.Metrics(),
		Markets:   len(s.deps.Portfolio.Markets()),
	}
	if s.deps.Orders != nil {
		resp.Orders = s.deps.Orders.Stats()
	}
	if s.deps.Hub != nil {
		resp.WSClients = s.deps.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) markets(w http.ResponseWriter, _ *http.Request) {
	markets := s.deps.Portfolio.Markets()
	if markets == nil {
		markets = []domain.MarketCriteria{}
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) exposure(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Exposure == nil {
		writeError(w, "exposure summary not configured", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Exposure.Summary(s.deps.Portfolio.Snapshot().Bankroll))
}

func (s *Server) trades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		writeError(w, "trade history not configured", http.StatusNotImplemented)
		return
	}
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTradeLimit)
	}
	trades, err := s.deps.Trades.RecentTrades(r.Context(), limit)
	if err != nil {
		slog.Error("ops api: recent trades", "err", err)
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) halt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Detail == "" {
		req.Detail = "halted via ops api"
	}
	s.deps.Risk.Halt(req.Detail)
	slog.Warn("ops api: manual halt", "detail", req.Detail)
	writeJSON(w, http.StatusOK, s.deps.Risk.Metrics())
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := s.deps.Risk.Clear(force); err != nil {
		if errors.Is(err, risk.ErrMonthlyNeedsForce) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Warn("ops api: halt cleared", "force", force)
	writeJSON(w, http.StatusOK, s.deps.Risk.Metrics())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
