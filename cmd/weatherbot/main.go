package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/weatherbot/config"
	"github.com/alejandrodnm/weatherbot/internal/adapters/cache"
	"github.com/alejandrodnm/weatherbot/internal/adapters/metrics"
	"github.com/alejandrodnm/weatherbot/internal/adapters/notify"
	"github.com/alejandrodnm/weatherbot/internal/adapters/openmeteo"
	"github.com/alejandrodnm/weatherbot/internal/adapters/opsapi"
	"github.com/alejandrodnm/weatherbot/internal/adapters/paper"
	"github.com/alejandrodnm/weatherbot/internal/adapters/polymarket"
	"github.com/alejandrodnm/weatherbot/internal/adapters/storage"
	"github.com/alejandrodnm/weatherbot/internal/application/edge"
	"github.com/alejandrodnm/weatherbot/internal/application/execution"
	"github.com/alejandrodnm/weatherbot/internal/application/ledger"
	"github.com/alejandrodnm/weatherbot/internal/application/probability"
	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/application/scheduler"
	"github.com/alejandrodnm/weatherbot/internal/application/sizing"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one discovery + forecast + scan + sync cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print portfolio snapshots as tables (default: compact 1-line)")
	trades := flag.Int("trades", 0, "print the last N recorded trades and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*table)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *trades > 0 {
		recs, err := store.RecentTrades(ctx, *trades)
		if err != nil {
			slog.Error("failed to load trades", "err", err)
			os.Exit(1)
		}
		console.PrintTrades(recs)
		return
	}

	slog.Info("weatherbot starting",
		"config", *configPath,
		"bankroll", cfg.Bankroll,
		"models", cfg.Forecast.Models,
		"once", *once,
	)

	// --- Sinks de eventos ---
	var hub *opsapi.Hub
	sinks := []ports.EventSink{console, metrics.Sink{}, store}
	if cfg.Ops.Addr != "" && !*once {
		hub = opsapi.NewHub()
		sinks = append(sinks, hub)
	}
	sink := notify.NewMulti(sinks...)

	// --- Trade recorders ---
	recorder := storage.Recorders{store}
	if cfg.Storage.PostgresDSN != "" {
		pg, err := storage.NewPostgresRecorder(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("postgres recorder unavailable", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		recorder = append(recorder, pg)
		slog.Info("postgres trade recorder enabled")
	}

	// --- Feeds ---
	markets := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, polymarket.WithTag(cfg.API.Tag))

	var forecasts ports.ForecastFeed = openmeteo.NewClient(cfg.Forecast.BaseURL)
	if cfg.Cache.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		forecasts = cache.NewForecastCache(forecasts, rdb, cfg.CacheTTL())
		slog.Info("redis forecast cache enabled", "ttl", cfg.CacheTTL())
	}

	// --- Estado persistido ---
	led := ledger.New(cfg.LedgerConfig())
	rm := risk.New(cfg.RiskConfig(), cfg.Bankroll,
		risk.WithStore(store),
		risk.WithListener(func(st domain.RiskStatus) {
			sink.Publish(context.Background(), domain.Event{Type: domain.EventRiskStatus, At: time.Now().UTC(), Payload: st})
		}),
	)
	positions, err := scheduler.RestoreState(ctx, store, led, rm)
	if err != nil {
		slog.Error("failed to restore state", "err", err)
		os.Exit(1)
	}
	restored := rm.Snapshot()
	exposure := led.Snapshot().TotalExposure
	slog.Info("state restored",
		"positions", len(positions),
		"exposure", exposure,
		"total_pnl", restored.TotalPnL,
		"halted", restored.Halted,
		"reason", restored.Reason,
	)

	// --- Ejecución (paper) ---
	executor := paper.New(markets, cfg.Bankroll+restored.TotalPnL-exposure, paper.WithPositions(positions))
	coord := execution.New(cfg.ExecutionConfig(), executor, led, rm,
		execution.WithRecorder(recorder),
		execution.WithStore(store),
		execution.WithSink(sink),
	)

	sched := scheduler.New(cfg.SchedulerConfig(), scheduler.Deps{
		Markets:     markets,
		Forecasts:   forecasts,
		Prices:      markets,
		Engine:      probability.NewEngine(cfg.Forecast.Weights),
		Evaluator:   edge.NewEvaluator(cfg.EdgeConfig()),
		Sizer:       sizing.New(cfg.SizingConfig()),
		Ledger:      led,
		Risk:        rm,
		Coordinator: coord,
		Redeemer:    executor,
		Store:       store,
		Sink:        sink,
	})

	if *once {
		runOnce(ctx, sched)
		return
	}

	if hub != nil {
		go hub.Run(ctx)
		ops := opsapi.New(opsapi.Deps{
			Portfolio: sched,
			Risk:      rm,
			Orders:    coord,
			Exposure:  led,
			Trades:    store,
			Hub:       hub,
			Mode:      "paper",
		})
		go func() {
			if err := ops.Run(ctx, cfg.Ops.Addr); err != nil {
				slog.Error("ops api exited with error", "err", err)
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		slog.Error("scheduler exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("weatherbot stopped cleanly")
}

// runOnce ejecuta un ciclo completo sin esperar a los tickers.
func runOnce(ctx context.Context, sched *scheduler.Scheduler) {
	if err := sched.Discover(ctx); err != nil {
		slog.Error("discovery failed", "err", err)
		os.Exit(1)
	}
	if err := sched.RefreshForecasts(ctx); err != nil {
		slog.Warn("forecast refresh failed", "err", err)
	}
	sched.ScanOnce(ctx)
	if err := sched.SyncPortfolio(ctx); err != nil {
		slog.Warn("portfolio sync failed", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
