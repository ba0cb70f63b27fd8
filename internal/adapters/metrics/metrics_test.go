package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestSink_ScanSummary(t *testing.T) {
	before := value(t, ScansTotal)
	skipBefore := value(t, MarketsSkipped.WithLabelValues("no_price"))

	Sink{}.Publish(context.Background(), domain.Event{Type: domain.EventScanSummary, Payload: domain.ScanSummary{
		Markets: 5, Placed: 1, Skipped: map[string]int{"no_price": 3}, Duration: time.Second,
	}})

	assert.Equal(t, before+1, value(t, ScansTotal))
	assert.Equal(t, skipBefore+3, value(t, MarketsSkipped.WithLabelValues("no_price")))
}

func TestSink_TradeAndAlert(t *testing.T) {
	ord := OrdersPlaced.WithLabelValues("YES", "HIGH")
	vol := OrderVolume.WithLabelValues("YES")
	alert := Alerts.WithLabelValues("edge_anomaly")
	o0, v0, a0 := value(t, ord), value(t, vol), value(t, alert)

	ctx := context.Background()
	Sink{}.Publish(ctx, domain.Event{Payload: domain.TradeSignal{Side: domain.SideYes, Tier: domain.TierHigh, Size: 7.5}})
	Sink{}.Publish(ctx, domain.Event{Payload: domain.Alert{Kind: domain.AlertEdgeAnomaly}})

	assert.Equal(t, o0+1, value(t, ord))
	assert.InDelta(t, v0+7.5, value(t, vol), 1e-9)
	assert.Equal(t, a0+1, value(t, alert))
}

func TestSink_PortfolioSnapshot(t *testing.T) {
	Sink{}.Publish(context.Background(), domain.Event{Payload: domain.PortfolioSnapshot{
		Bankroll:        101,
		TotalExposure:   12,
		ClusterExposure: map[string]float64{"US_NORTHEAST": 12},
		Positions:       2,
		DailyPnL:        -3,
		TotalPnL:        1,
		Halted:          true,
	}})

	assert.Equal(t, 101.0, value(t, Bankroll))
	assert.Equal(t, 12.0, value(t, Exposure))
	assert.Equal(t, 12.0, value(t, ClusterExposure.WithLabelValues("US_NORTHEAST")))
	assert.Equal(t, 2.0, value(t, OpenPositions))
	assert.Equal(t, -3.0, value(t, PnL.WithLabelValues("daily")))
	assert.Equal(t, 1.0, value(t, Halted))

	Sink{}.Publish(context.Background(), domain.Event{Payload: domain.RiskStatus{Halted: false}})
	assert.Equal(t, 0.0, value(t, Halted))
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	c := HTTPRequestsTotal.WithLabelValues("GET", "/probe", "418")
	before := value(t, c)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, value(t, c))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	Bankroll.Set(100)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "weatherbot_bankroll_usdc 100")
}
