// Package metrics expone la instrumentación Prometheus del bot.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScansTotal cuenta ciclos de escaneo completados.
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weatherbot_scans_total",
		Help: "Total opportunity scans completed",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weatherbot_scan_duration_seconds",
		Help:    "Opportunity scan duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// MarketsSkipped cuenta mercados descartados por motivo.
	MarketsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatherbot_markets_skipped_total",
		Help: "Markets skipped during scans, by reason",
	}, []string{"reason"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatherbot_orders_placed_total",
		Help: "Orders placed, by side and confidence tier",
	}, []string{"side", "tier"})

	OrderVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatherbot_order_volume_usdc_total",
		Help: "Cumulative USDC submitted, by side",
	}, []string{"side"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatherbot_alerts_total",
		Help: "Alerts raised, by kind",
	}, []string{"kind"})

	Bankroll = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weatherbot_bankroll_usdc",
		Help: "Current bankroll in USDC",
	})

	Exposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weatherbot_exposure_usdc",
		Help: "Total open exposure in USDC",
	})

	ClusterExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "weatherbot_cluster_exposure_usdc",
		Help: "Open exposure per correlation cluster",
	}, []string{"cluster"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weatherbot_open_positions",
		Help: "Number of open positions",
	})

	// PnL por ventana: daily, weekly, monthly, total.
	PnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "weatherbot_pnl_usdc",
		Help: "Realized PnL per window",
	}, []string{"window"})

	// Halted vale 1 mientras el trading está parado.
	Halted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weatherbot_trading_halted",
		Help: "1 while trading is halted by the risk manager",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weatherbot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weatherbot_http_requests_total",
		Help: "Total HTTP requests to the ops API",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weatherbot_http_request_duration_seconds",
		Help:    "Ops API request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Sink implementa ports.EventSink actualizando los colectores.
type Sink struct{}

// Publish traduce cada evento a métricas. Nunca bloquea.
func (Sink) Publish(_ context.Context, ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.ScanSummary:
		ScansTotal.Inc()
		ScanDuration.Observe(p.Duration.Seconds())
		for reason, n := range p.Skipped {
			MarketsSkipped.WithLabelValues(reason).Add(float64(n))
		}
	case domain.TradeSignal:
		OrdersPlaced.WithLabelValues(string(p.Side), string(p.Tier)).Inc()
		OrderVolume.WithLabelValues(string(p.Side)).Add(p.Size)
	case domain.Alert:
		Alerts.WithLabelValues(string(p.Kind)).Inc()
	case domain.RiskStatus:
		Halted.Set(boolGauge(p.Halted))
	case domain.PortfolioSnapshot:
		Bankroll.Set(p.Bankroll)
		Exposure.Set(p.TotalExposure)
		OpenPositions.Set(float64(p.Positions))
		ClusterExposure.Reset()
		for c, v := range p.ClusterExposure {
			ClusterExposure.WithLabelValues(c).Set(v)
		}
		PnL.WithLabelValues("daily").Set(p.DailyPnL)
		PnL.WithLabelValues("weekly").Set(p.WeeklyPnL)
		PnL.WithLabelValues("monthly").Set(p.MonthlyPnL)
		PnL.WithLabelValues("total").Set(p.TotalPnL)
		Halted.Set(boolGauge(p.Halted))
	}
}

// Handler devuelve el handler HTTP de Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware registra métricas por request. path debe ser el patrón de
// ruta para no disparar la cardinalidad.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
