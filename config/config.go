package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/application/edge"
	"github.com/alejandrodnm/weatherbot/internal/application/execution"
	"github.com/alejandrodnm/weatherbot/internal/application/ledger"
	"github.com/alejandrodnm/weatherbot/internal/application/risk"
	"github.com/alejandrodnm/weatherbot/internal/application/scheduler"
	"github.com/alejandrodnm/weatherbot/internal/application/sizing"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Bankroll        float64               `yaml:"bankroll"` // USDC iniciales; base de los límites de pérdida
	Strategy        StrategyConfig        `yaml:"strategy"`
	Sizing          SizingConfig          `yaml:"sizing"`
	Diversification DiversificationConfig `yaml:"diversification"`
	Risk            RiskConfig            `yaml:"risk"`
	Execution       ExecutionConfig       `yaml:"execution"`
	Schedule        ScheduleConfig        `yaml:"schedule"`
	Forecast        ForecastConfig        `yaml:"forecast"`
	API             APIConfig             `yaml:"api"`
	Storage         StorageConfig         `yaml:"storage"`
	Cache           CacheConfig           `yaml:"cache"`
	Ops             OpsConfig             `yaml:"ops"`
	Log             LogConfig             `yaml:"log"`
}

// StrategyConfig son los criterios de entrada del evaluador de edge.
type StrategyConfig struct {
	MinEdge      float64 `yaml:"min_edge"`
	MaxEdge      float64 `yaml:"max_edge"` // por encima se alerta en vez de operar
	MinAgreement float64 `yaml:"min_agreement"`
	MinLiquidity float64 `yaml:"min_liquidity"`
	MinHours     float64 `yaml:"min_hours"`
	MaxDays      float64 `yaml:"max_days"`
}

// SizingConfig controla el Kelly fraccional.
type SizingConfig struct {
	KellyFraction  float64 `yaml:"kelly_fraction"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	MinPosition    float64 `yaml:"min_position"`
	MaxPosition    float64 `yaml:"max_position"`
}

// DiversificationConfig son los topes de exposición del ledger.
type DiversificationConfig struct {
	MaxTotalPct      float64 `yaml:"max_total_pct"`
	MaxClusterPct    float64 `yaml:"max_cluster_pct"`
	MaxSameDayPct    float64 `yaml:"max_same_day_pct"`
	MinClustersFor50 int     `yaml:"min_clusters_for_50"`
	MinClustersFor75 int     `yaml:"min_clusters_for_75"`
}

// RiskConfig son los límites de pérdida por ventana.
type RiskConfig struct {
	DailyLossPct         float64 `yaml:"daily_loss_pct"`
	WeeklyLossPct        float64 `yaml:"weekly_loss_pct"`
	MonthlyLossPct       float64 `yaml:"monthly_loss_pct"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
	MinHoursToResolution float64 `yaml:"min_hours_to_resolution"`
}

// ExecutionConfig controla la colocación y el seguimiento de órdenes.
type ExecutionConfig struct {
	Slippage             float64 `yaml:"slippage"`
	PollSeconds          int     `yaml:"poll_seconds"`
	TimeoutSeconds       int     `yaml:"timeout_seconds"`
	CancelTimeoutSeconds int     `yaml:"cancel_timeout_seconds"`
}

// ScheduleConfig son las cadencias del scheduler. Los resets usan cron con segundos (UTC).
type ScheduleConfig struct {
	DiscoveryMinutes int    `yaml:"discovery_minutes"`
	ForecastHours    int    `yaml:"forecast_hours"`
	ScanSeconds      int    `yaml:"scan_seconds"`
	SyncMinutes      int    `yaml:"sync_minutes"`
	Workers          int    `yaml:"workers"`
	DailyReset       string `yaml:"daily_reset"`
	WeeklyReset      string `yaml:"weekly_reset"`
	MonthlyReset     string `yaml:"monthly_reset"`
	StatusLog        string `yaml:"status_log"`
}

// ForecastConfig elige los modelos del ensemble y su peso en el consenso.
type ForecastConfig struct {
	BaseURL string             `yaml:"base_url"`
	Models  []string           `yaml:"models"`
	Weights map[string]float64 `yaml:"weights"` // vacío = pesos iguales
}

// APIConfig contiene los base URLs de Polymarket.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	Tag       string `yaml:"tag"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN         string `yaml:"dsn"`          // ruta al archivo SQLite, o ":memory:"
	PostgresDSN string `yaml:"postgres_dsn"` // opcional: copia del historial de trades
}

// CacheConfig activa la caché de forecasts en Redis.
type CacheConfig struct {
	RedisURL   string `yaml:"redis_url"` // vacío = sin caché
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// OpsConfig controla la API de operación.
type OpsConfig struct {
	Addr string `yaml:"addr"` // vacío = deshabilitada
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("INITIAL_BANKROLL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_BANKROLL %q: %w", v, err)
		}
		cfg.Bankroll = f
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("OPS_ADDR"); v != "" {
		cfg.Ops.Addr = v
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Bankroll <= 0 {
		cfg.Bankroll = 100
	}

	st := &cfg.Strategy
	de := edge.DefaultConfig()
	setFloat(&st.MinEdge, de.MinEdge)
	setFloat(&st.MaxEdge, de.MaxEdge)
	setFloat(&st.MinAgreement, de.MinAgreement)
	setFloat(&st.MinLiquidity, de.MinLiquidity)
	setFloat(&st.MinHours, de.MinHours)
	setFloat(&st.MaxDays, de.MaxDays)

	sz := &cfg.Sizing
	ds := sizing.DefaultConfig()
	setFloat(&sz.KellyFraction, ds.KellyFraction)
	setFloat(&sz.MaxPositionPct, ds.MaxPositionPct)
	setFloat(&sz.MinPosition, ds.MinPosition)
	setFloat(&sz.MaxPosition, ds.MaxPosition)

	dv := &cfg.Diversification
	dl := ledger.DefaultConfig()
	setFloat(&dv.MaxTotalPct, dl.MaxTotalPct)
	setFloat(&dv.MaxClusterPct, dl.MaxClusterPct)
	setFloat(&dv.MaxSameDayPct, dl.MaxSameDayPct)
	setInt(&dv.MinClustersFor50, dl.MinClustersFor50)
	setInt(&dv.MinClustersFor75, dl.MinClustersFor75)

	rk := &cfg.Risk
	dr := risk.DefaultConfig()
	setFloat(&rk.DailyLossPct, dr.DailyLossPct)
	setFloat(&rk.WeeklyLossPct, dr.WeeklyLossPct)
	setFloat(&rk.MonthlyLossPct, dr.MonthlyLossPct)
	setInt(&rk.CooldownMinutes, int(dr.Cooldown/time.Minute))
	setFloat(&rk.MinHoursToResolution, dr.MinHoursToResolution)

	ex := &cfg.Execution
	dx := execution.DefaultConfig()
	setFloat(&ex.Slippage, dx.Slippage)
	setInt(&ex.PollSeconds, int(dx.PollInterval/time.Second))
	setInt(&ex.TimeoutSeconds, int(dx.Timeout/time.Second))
	setInt(&ex.CancelTimeoutSeconds, int(dx.CancelTimeout/time.Second))

	sc := &cfg.Schedule
	dsch := scheduler.DefaultConfig()
	setInt(&sc.DiscoveryMinutes, int(dsch.DiscoveryInterval/time.Minute))
	setInt(&sc.ForecastHours, int(dsch.ForecastInterval/time.Hour))
	setInt(&sc.ScanSeconds, int(dsch.ScanInterval/time.Second))
	setInt(&sc.SyncMinutes, int(dsch.SyncInterval/time.Minute))
	setString(&sc.DailyReset, dsch.DailyReset)
	setString(&sc.WeeklyReset, dsch.WeeklyReset)
	setString(&sc.MonthlyReset, dsch.MonthlyReset)
	setString(&sc.StatusLog, dsch.StatusLog)

	if len(cfg.Forecast.Models) == 0 {
		cfg.Forecast.Models = dsch.Models
	}
	setString(&cfg.Forecast.BaseURL, "https://ensemble-api.open-meteo.com")

	setString(&cfg.API.CLOBBase, "https://clob.polymarket.com")
	setString(&cfg.API.GammaBase, "https://gamma-api.polymarket.com")
	setString(&cfg.API.Tag, "weather")

	setString(&cfg.Storage.DSN, "weatherbot.db")
	if cfg.Cache.TTLMinutes <= 0 {
		// Por debajo del refresco de forecasts para no servir runs viejos.
		cfg.Cache.TTLMinutes = sc.ForecastHours*60 - 30
		if cfg.Cache.TTLMinutes <= 0 {
			cfg.Cache.TTLMinutes = 30
		}
	}

	setString(&cfg.Log.Level, "info")
	setString(&cfg.Log.Format, "text")
}

// Validate comprueba la coherencia de los valores ya con defaults.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Bankroll > 0, "bankroll must be positive")
	check(c.Strategy.MinEdge < c.Strategy.MaxEdge,
		"strategy.min_edge (%g) must be below strategy.max_edge (%g)", c.Strategy.MinEdge, c.Strategy.MaxEdge)
	check(fraction(c.Strategy.MinAgreement), "strategy.min_agreement must be in (0, 1]")
	check(c.Strategy.MinHours < c.Strategy.MaxDays*24, "strategy.min_hours must be below strategy.max_days")

	check(fraction(c.Sizing.KellyFraction), "sizing.kelly_fraction must be in (0, 1]")
	check(fraction(c.Sizing.MaxPositionPct), "sizing.max_position_pct must be in (0, 1]")
	check(c.Sizing.MinPosition <= c.Sizing.MaxPosition,
		"sizing.min_position (%g) must not exceed sizing.max_position (%g)", c.Sizing.MinPosition, c.Sizing.MaxPosition)

	check(fraction(c.Diversification.MaxTotalPct), "diversification.max_total_pct must be in (0, 1]")
	check(fraction(c.Diversification.MaxClusterPct), "diversification.max_cluster_pct must be in (0, 1]")
	check(fraction(c.Diversification.MaxSameDayPct), "diversification.max_same_day_pct must be in (0, 1]")
	check(c.Diversification.MinClustersFor50 <= c.Diversification.MinClustersFor75,
		"diversification.min_clusters_for_50 must not exceed min_clusters_for_75")

	check(fraction(c.Risk.DailyLossPct), "risk.daily_loss_pct must be in (0, 1]")
	check(c.Risk.DailyLossPct <= c.Risk.WeeklyLossPct && c.Risk.WeeklyLossPct <= c.Risk.MonthlyLossPct,
		"risk loss limits must satisfy daily <= weekly <= monthly")
	check(fraction(c.Risk.MonthlyLossPct), "risk.monthly_loss_pct must be in (0, 1]")

	check(c.Execution.Slippage > 0 && c.Execution.Slippage < 0.5, "execution.slippage must be in (0, 0.5)")
	check(c.Execution.PollSeconds < c.Execution.TimeoutSeconds, "execution.poll_seconds must be below timeout_seconds")

	for model, w := range c.Forecast.Weights {
		check(w >= 0, "forecast.weights[%s] must not be negative", model)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug|info|warn|error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text|json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// EdgeConfig traduce la sección strategy.
func (c *Config) EdgeConfig() edge.Config {
	return edge.Config{
		MinEdge:      c.Strategy.MinEdge,
		MaxEdge:      c.Strategy.MaxEdge,
		MinAgreement: c.Strategy.MinAgreement,
		MinLiquidity: c.Strategy.MinLiquidity,
		MinHours:     c.Strategy.MinHours,
		MaxDays:      c.Strategy.MaxDays,
	}
}

func (c *Config) SizingConfig() sizing.Config {
	return sizing.Config{
		KellyFraction:  c.Sizing.KellyFraction,
		MaxPositionPct: c.Sizing.MaxPositionPct,
		MinPosition:    c.Sizing.MinPosition,
		MaxPosition:    c.Sizing.MaxPosition,
	}
}

func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		MaxTotalPct:      c.Diversification.MaxTotalPct,
		MaxClusterPct:    c.Diversification.MaxClusterPct,
		MaxSameDayPct:    c.Diversification.MaxSameDayPct,
		MinClustersFor50: c.Diversification.MinClustersFor50,
		MinClustersFor75: c.Diversification.MinClustersFor75,
		MinPosition:      c.Sizing.MinPosition,
	}
}

func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		DailyLossPct:         c.Risk.DailyLossPct,
		WeeklyLossPct:        c.Risk.WeeklyLossPct,
		MonthlyLossPct:       c.Risk.MonthlyLossPct,
		Cooldown:             time.Duration(c.Risk.CooldownMinutes) * time.Minute,
		MinPosition:          c.Sizing.MinPosition,
		MaxPosition:          c.Sizing.MaxPosition,
		MinHoursToResolution: c.Risk.MinHoursToResolution,
	}
}

func (c *Config) ExecutionConfig() execution.Config {
	return execution.Config{
		Slippage:      c.Execution.Slippage,
		PollInterval:  time.Duration(c.Execution.PollSeconds) * time.Second,
		Timeout:       time.Duration(c.Execution.TimeoutSeconds) * time.Second,
		CancelTimeout: time.Duration(c.Execution.CancelTimeoutSeconds) * time.Second,
	}
}

// SchedulerConfig traduce la sección schedule; bankroll y modelos vienen de la raíz y de forecast.
func (c *Config) SchedulerConfig() scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.DiscoveryInterval = time.Duration(c.Schedule.DiscoveryMinutes) * time.Minute
	sc.ForecastInterval = time.Duration(c.Schedule.ForecastHours) * time.Hour
	sc.ScanInterval = time.Duration(c.Schedule.ScanSeconds) * time.Second
	sc.SyncInterval = time.Duration(c.Schedule.SyncMinutes) * time.Minute
	sc.Workers = c.Schedule.Workers
	sc.Bankroll = c.Bankroll
	sc.Models = c.Forecast.Models
	sc.DailyReset = c.Schedule.DailyReset
	sc.WeeklyReset = c.Schedule.WeeklyReset
	sc.MonthlyReset = c.Schedule.MonthlyReset
	sc.StatusLog = c.Schedule.StatusLog
	return sc
}

// CacheTTL devuelve el TTL de la caché de forecasts.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

func fraction(v float64) bool { return v > 0 && v <= 1 }

func setFloat(dst *float64, def float64) {
	if *dst <= 0 {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
