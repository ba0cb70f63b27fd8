// Package scheduler orquesta las tareas periódicas del bot: discovery de
// mercados, refresco de pronósticos, escaneo de oportunidades, sync del
// portfolio y los resets de ventanas de riesgo.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/application/edge"
	"github.com/alejandrodnm/weatherbot/internal/application/execution"
	"github.com/alejandrodnm/weatherbot/internal/application/ledger"
	"github.com/alejandrodnm/weatherbot/internal/application/probability"
	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/application/sizing"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Precio del token ganador/perdedor a partir del cual se da un mercado por resuelto.
const (
	resolvedWin  = 0.99
	resolvedLoss = 0.01
)

// Config contiene las cadencias y parámetros del scheduler.
type Config struct {
	DiscoveryInterval time.Duration
	ForecastInterval  time.Duration
	ScanInterval      time.Duration
	SyncInterval      time.Duration
	Workers           int // goroutines por ciclo de escaneo (0 = NumCPU*2)
	Bankroll          float64
	Models            []string
	ShutdownTimeout   time.Duration

	// Expresiones cron (con segundos, UTC).
	DailyReset   string
	WeeklyReset  string
	MonthlyReset string
	StatusLog    string
}

// DefaultConfig devuelve las cadencias de producción.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval: 15 * time.Minute,
		ForecastInterval:  6 * time.Hour,
		ScanInterval:      time.Minute,
		SyncInterval:      5 * time.Minute,
		Bankroll:          100,
		Models:            []string{"gfs_seamless", "ecmwf_ifs025", "icon_seamless"},
		ShutdownTimeout:   30 * time.Second,
		DailyReset:        "0 0 0 * * *",
		WeeklyReset:       "0 0 0 * * MON",
		MonthlyReset:      "0 0 0 1 * *",
		StatusLog:         "0 0 * * * *",
	}
}

// Deps agrupa los componentes que el scheduler coordina.
type Deps struct {
	Markets     ports.MarketCriteriaFeed
	Forecasts   ports.ForecastFeed
	Prices      ports.PriceFeed
	Engine      *probability.Engine
	Evaluator   *edge.Evaluator
	Sizer       *sizing.Sizer
	Ledger      *ledger.Ledger
	Risk        *risk.Manager
	Coordinator *execution.Coordinator
	Redeemer    ports.Redeemer   // opcional
	Store       ports.StateStore // opcional
	Sink        ports.EventSink  // opcional
}

// Scheduler es el orquestador principal. PortfolioState y RiskState viven en
// Ledger y Risk; el scheduler solo guarda mercados y estimaciones.
type Scheduler struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu        sync.RWMutex
	markets   map[string]domain.MarketCriteria
	estimates map[string]domain.ProbabilityEstimate

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	forecasts singleflight.Group
	pipelines sync.WaitGroup
}

// New crea un Scheduler con todas las dependencias inyectadas.
func New(cfg Config, deps Deps) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		markets:   make(map[string]domain.MarketCriteria),
		estimates: make(map[string]domain.ProbabilityEstimate),
		inflight:  make(map[string]struct{}),
	}
}

// Run arranca todas las tareas y bloquea hasta que ctx se cancele. Al salir
// espera a que los pipelines en vuelo lleguen a estado terminal.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler starting",
		"discovery", s.cfg.DiscoveryInterval,
		"forecast", s.cfg.ForecastInterval,
		"scan", s.cfg.ScanInterval,
		"sync", s.cfg.SyncInterval,
		"bankroll", s.cfg.Bankroll,
	)

	c, err := s.startCron()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.every(gctx, "discovery", s.cfg.DiscoveryInterval, s.Discover)
	})
	g.Go(func() error {
		return s.every(gctx, "forecast", s.cfg.ForecastInterval, s.RefreshForecasts)
	})
	g.Go(func() error {
		// Los escaneos corren en background: un pipeline puede quedarse
		// monitorizando una orden varios minutos y el siguiente tick no lo espera.
		return s.every(gctx, "scan", s.cfg.ScanInterval, func(ctx context.Context) error {
			s.pipelines.Add(1)
			go func() {
				defer s.pipelines.Done()
				s.ScanOnce(ctx)
			}()
			return nil
		})
	})
	g.Go(func() error {
		return s.every(gctx, "sync", s.cfg.SyncInterval, s.SyncPortfolio)
	})

	err = g.Wait()
	<-c.Stop().Done()
	s.shutdown()
	slog.Info("scheduler stopped")
	return err
}

// shutdown espera los pipelines en vuelo; cada monitor cancela su propia orden
// al ver ctx cancelado. Si tardan demasiado se cancelan las órdenes abiertas.
func (s *Scheduler) shutdown() {
	done := make(chan struct{})
	go func() {
		s.pipelines.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n := s.deps.Coordinator.CancelOutstanding(ctx)
		slog.Warn("scheduler: shutdown timeout, canceled outstanding orders", "orders", n)
		<-done
	}
}

// every ejecuta fn inmediatamente y luego en cada tick hasta que ctx se cancele.
// Los errores se loguean y no detienen la tarea.
func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	run := func() {
		start := time.Now()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			slog.Error("task failed", "task", name, "err", err)
			return
		}
		slog.Debug("task complete", "task", name, "duration", time.Since(start).Round(time.Millisecond))
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			run()
		}
	}
}

// startCron programa los resets de ventanas de riesgo y el log horario.
func (s *Scheduler) startCron() (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	jobs := []struct {
		spec string
		fn   func()
	}{
		{s.cfg.DailyReset, func() { s.deps.Risk.ResetDaily(s.now()) }},
		{s.cfg.WeeklyReset, func() { s.deps.Risk.ResetWeekly(s.now()) }},
		{s.cfg.MonthlyReset, func() { s.deps.Risk.ResetMonthly(s.now()) }},
		{s.cfg.StatusLog, s.logStatus},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("scheduler.startCron: %q: %w", j.spec, err)
		}
	}
	c.Start()
	return c, nil
}

// Discover reemplaza el set de mercados conocidos. Los mercados que dejaron
// de listarse (o que ya no se pueden parsear) desaparecen hasta el próximo
// discovery exitoso.
func (s *Scheduler) Discover(ctx context.Context) error {
	found, err := s.deps.Markets.Discover(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Discover: %w", err)
	}

	next := make(map[string]domain.MarketCriteria, len(found))
	for _, m := range found {
		if err := m.Validate(); err != nil {
			slog.Debug("discover: skipping market", "market", m.ID, "err", err)
			continue
		}
		next[m.ID] = m
	}

	s.mu.Lock()
	var fresh []domain.MarketCriteria
	for id, m := range next {
		if _, ok := s.estimates[id]; !ok {
			fresh = append(fresh, m)
		}
	}
	for id := range s.estimates {
		if _, ok := next[id]; !ok {
			delete(s.estimates, id)
		}
	}
	s.markets = next
	s.mu.Unlock()

	slog.Info("discovery complete", "markets", len(next), "new", len(fresh))
	if len(fresh) > 0 {
		s.refresh(ctx, fresh)
	}
	return nil
}

// RefreshForecasts recalcula la estimación de todos los mercados conocidos.
func (s *Scheduler) RefreshForecasts(ctx context.Context) error {
	s.refresh(ctx, s.Markets())
	return nil
}

func (s *Scheduler) refresh(ctx context.Context, markets []domain.MarketCriteria) {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	var (
		countMu         sync.Mutex
		ok, unavailable int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, m := range markets {
		g.Go(func() error {
			est, err := s.forecast(gctx, m)

			s.mu.Lock()
			if err != nil {
				// Sin datos no es probabilidad cero: el mercado queda sin estimación.
				delete(s.estimates, m.ID)
			} else {
				s.estimates[m.ID] = est
			}
			s.mu.Unlock()

			countMu.Lock()
			defer countMu.Unlock()
			if err != nil {
				unavailable++
				slog.Debug("forecast unavailable", "market", m.ID, "location", m.Location, "err", err)
				return nil
			}
			ok++
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("forecast refresh complete", "estimated", ok, "unavailable", unavailable)
}

// forecast obtiene el ensemble (deduplicado por ciudad/fecha/variable) y
// calcula la estimación del mercado.
func (s *Scheduler) forecast(ctx context.Context, m domain.MarketCriteria) (domain.ProbabilityEstimate, error) {
	req := domain.ForecastRequest{
		Location:  m.Location,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Timezone:  m.Timezone,
		Date:      m.Resolution,
		Variable:  m.Variable,
		Unit:      m.Unit,
		Models:    s.cfg.Models,
	}
	v, err, _ := s.forecasts.Do(req.Key(), func() (any, error) {
		return s.deps.Forecasts.Fetch(ctx, req)
	})
	if err != nil {
		return domain.ProbabilityEstimate{}, err
	}
	est, err := s.deps.Engine.Estimate(m, v.(domain.Ensemble))
	if err != nil {
		if errors.Is(err, probability.ErrNoMembers) {
			return domain.ProbabilityEstimate{}, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}
		return domain.ProbabilityEstimate{}, err
	}
	return est, nil
}

// ScanOnce evalúa todos los mercados conocidos en paralelo y devuelve el
// resumen del ciclo. Un error en un mercado no afecta a los demás.
func (s *Scheduler) ScanOnce(ctx context.Context) domain.ScanSummary {
	start := time.Now()
	markets := s.Markets()

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	workCh := make(chan domain.MarketCriteria, len(markets))
	resultCh := make(chan string, len(markets))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range workCh {
				if ctx.Err() != nil {
					continue
				}
				resultCh <- s.runPipeline(ctx, m)
			}
		}()
	}

	for _, m := range markets {
		workCh <- m
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var stats pipelineStats
	for outcome := range resultCh {
		stats.record(outcome)
	}

	elapsed := time.Since(start)
	stats.log(len(markets), elapsed)
	summary := stats.summary(len(markets), elapsed)
	s.publish(ctx, domain.EventScanSummary, summary)
	return summary
}

// SyncPortfolio liquida las posiciones cuyos mercados ya resolvieron y publica
// un PortfolioSnapshot.
func (s *Scheduler) SyncPortfolio(ctx context.Context) error {
	now := s.now()
	state := s.deps.Ledger.Snapshot()

	for _, p := range state.Positions {
		if p.Resolution.After(now) {
			continue
		}
		mid, err := s.deps.Prices.Midpoint(ctx, p.TokenID)
		if err != nil {
			slog.Debug("sync: no price for resolved position", "position", p.ID, "market", p.MarketID, "err", err)
			continue
		}

		var pnl float64
		won := mid >= resolvedWin
		switch {
		case won:
			pnl = p.Shares - p.Size
		case mid <= resolvedLoss:
			pnl = -p.Size
		default:
			continue // pendiente de resolución oficial
		}

		if _, ok := s.deps.Ledger.Close(p.ID); !ok {
			continue
		}
		if !s.deps.Risk.RecordSettlement(p.ID, pnl, now) {
			slog.Warn("sync: position already settled", "position", p.ID, "market", p.MarketID)
		} else if s.deps.Redeemer != nil {
			if _, err := s.deps.Redeemer.Redeem(ctx, p.TokenID, p.Shares, won); err != nil {
				slog.Warn("sync: redeem failed", "position", p.ID, "token", p.TokenID, "err", err)
			}
		}
		if s.deps.Store != nil {
			if err := s.deps.Store.DeletePosition(ctx, p.ID); err != nil {
				slog.Warn("sync: delete position failed", "position", p.ID, "err", err)
			}
		}
		slog.Info("position resolved",
			"market", p.MarketID,
			"side", p.Side,
			"size", fmt.Sprintf("$%.2f", p.Size),
			"pnl", fmt.Sprintf("$%.2f", pnl),
		)
	}

	snap := s.Snapshot()
	s.publish(ctx, domain.EventPortfolioSnapshot, snap)
	return nil
}

// Snapshot arma la vista de portfolio + P&L publicada a la capa de notificación.
func (s *Scheduler) Snapshot() domain.PortfolioSnapshot {
	state := s.deps.Ledger.Snapshot()
	rs := s.deps.Risk.Snapshot()
	return domain.PortfolioSnapshot{
		Bankroll:        s.cfg.Bankroll + rs.TotalPnL,
		TotalExposure:   state.TotalExposure,
		ClusterExposure: state.ClusterExposure,
		DateExposure:    state.DateExposure,
		Positions:       len(state.Positions),
		OpenOrders:      s.deps.Coordinator.OpenOrders(),
		DailyPnL:        rs.DailyPnL,
		WeeklyPnL:       rs.WeeklyPnL,
		MonthlyPnL:      rs.MonthlyPnL,
		TotalPnL:        rs.TotalPnL,
		Halted:          rs.Halted,
	}
}

// Bankroll es el capital inicial más el P&L realizado.
func (s *Scheduler) Bankroll() float64 {
	return s.cfg.Bankroll + s.deps.Risk.Snapshot().TotalPnL
}

// Markets devuelve los mercados conocidos ordenados por id.
func (s *Scheduler) Markets() []domain.MarketCriteria {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MarketCriteria, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) estimate(marketID string) (domain.ProbabilityEstimate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	est, ok := s.estimates[marketID]
	return est, ok
}

// acquire marca el mercado como in-flight; devuelve false si ya lo estaba.
func (s *Scheduler) acquire(marketID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[marketID]; busy {
		return false
	}
	s.inflight[marketID] = struct{}{}
	return true
}

func (s *Scheduler) release(marketID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, marketID)
}

func (s *Scheduler) logStatus() {
	snap := s.Snapshot()
	st := s.deps.Coordinator.Stats()
	metrics := s.deps.Risk.Metrics()
	slog.Info("status",
		"bankroll", fmt.Sprintf("$%.2f", snap.Bankroll),
		"exposure", fmt.Sprintf("$%.2f", snap.TotalExposure),
		"positions", snap.Positions,
		"open_orders", st.Open,
		"daily_pnl", fmt.Sprintf("$%.2f", snap.DailyPnL),
		"weekly_pnl", fmt.Sprintf("$%.2f", snap.WeeklyPnL),
		"monthly_pnl", fmt.Sprintf("$%.2f", snap.MonthlyPnL),
		"win_rate", fmt.Sprintf("%.0f%%", metrics.WinRate*100),
		"fill_rate", fmt.Sprintf("%.0f%%", st.FillRate*100),
		"halted", snap.Halted,
		"reason", metrics.Reason,
	)
}

func (s *Scheduler) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.deps.Sink == nil {
		return
	}
	s.deps.Sink.Publish(ctx, domain.Event{Type: t, At: s.now().UTC(), Payload: payload})
}
