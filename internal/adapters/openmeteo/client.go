// Package openmeteo implementa ports.ForecastFeed sobre la API de ensembles
// de Open-Meteo.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/adapters/httpclient"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBase  = "https://ensemble-api.open-meteo.com"
	ensemblePath = "/v1/ensemble"

	// Límite gratuito 600/min → 60% → 6/s.
	ratePerSec = 6

	maxForecastDays = 16
)

var defaultModels = []string{"gfs_seamless", "ecmwf_ifs025", "icon_seamless"}

// Client obtiene ensembles horarios y los reduce al día objetivo.
type Client struct {
	http    *httpclient.Client
	base    string
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configura el Client.
type Option func(*Client)

// WithHTTPClient reemplaza el cliente HTTP (tests).
func WithHTTPClient(h *httpclient.Client) Option { return func(c *Client) { c.http = h } }

// WithClock fija el reloj usado para calcular forecast_days.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient crea un Client. Si base está vacío usa el endpoint de producción.
func NewClient(base string, opts ...Option) *Client {
	if base == "" {
		base = defaultBase
	}
	c := &Client{
		http:    httpclient.New(httpclient.WithTimeout(30 * time.Second)),
		base:    base,
		limiter: rate.NewLimiter(ratePerSec, 3),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type ensembleResponse struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Timezone  string                     `json:"timezone"`
	Hourly    map[string]json.RawMessage `json:"hourly"`
}

// Fetch pide el ensemble horario de la ubicación y devuelve, por modelo, un
// valor por miembro: máximo diario para temperatura y suma diaria para
// precipitación, en la unidad pedida.
func (c *Client) Fetch(ctx context.Context, req domain.ForecastRequest) (domain.Ensemble, error) {
	hourly, err := hourlyVariable(req.Variable)
	if err != nil {
		return domain.Ensemble{}, fmt.Errorf("openmeteo.Fetch: %w", err)
	}
	unit := req.Unit
	if unit == "" {
		unit = defaultUnit(req.Variable)
	}
	models := req.Models
	if len(models) == 0 {
		models = defaultModels
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(req.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(req.Longitude, 'f', 4, 64))
	q.Set("hourly", hourly)
	q.Set("models", strings.Join(models, ","))
	q.Set("forecast_days", strconv.Itoa(c.forecastDays(req.Date)))
	q.Set("timezone", timezoneOr(req.Timezone))
	switch unit {
	case domain.UnitFahrenheit, domain.UnitCelsius:
		q.Set("temperature_unit", string(unit))
	case domain.UnitInches, domain.UnitMillimeters:
		q.Set("precipitation_unit", string(unit))
	}

	var resp ensembleResponse
	if err := c.http.Get(ctx, c.limiter, c.base+ensemblePath+"?"+q.Encode(), &resp); err != nil {
		return domain.Ensemble{}, fmt.Errorf("openmeteo.Fetch %s: %w", req.Key(), err)
	}

	members, err := reduce(resp.Hourly, hourly, models, domain.DateKey(req.Date), req.Variable)
	if err != nil {
		return domain.Ensemble{}, fmt.Errorf("openmeteo.Fetch %s: %w", req.Key(), err)
	}

	ens := domain.Ensemble{
		Location:  req.Location,
		Date:      req.Date,
		Variable:  req.Variable,
		Unit:      unit,
		Members:   members,
		FetchedAt: c.now().UTC(),
	}
	slog.Debug("ensemble fetched", "key", req.Key(), "models", len(members), "members", ens.Size())
	return ens, nil
}

// forecastDays cubre desde hoy hasta el día objetivo inclusive.
func (c *Client) forecastDays(target time.Time) int {
	today := c.now().UTC().Truncate(24 * time.Hour)
	days := int(target.UTC().Truncate(24*time.Hour).Sub(today).Hours()/24) + 2
	return max(1, min(days, maxForecastDays))
}

// reduce agrupa las series horarias por modelo y reduce cada miembro al día
// objetivo. Las claves son "<var>_<modelo>" (control) y
// "<var>_<modelo>_memberNN"; con un solo modelo Open-Meteo omite el modelo.
func reduce(hourly map[string]json.RawMessage, variable string, models []string, date string, v domain.Variable) (map[string][]float64, error) {
	var times []string
	if raw, ok := hourly["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil, fmt.Errorf("%w: bad time axis: %v", domain.ErrDataUnavailable, err)
		}
	}
	var idx []int
	for i, t := range times {
		if strings.HasPrefix(t, date) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: no hourly data for %s", domain.ErrDataUnavailable, date)
	}

	out := make(map[string][]float64)
	for key, raw := range hourly {
		model, ok := modelOf(key, variable, models)
		if !ok {
			continue
		}
		var series []*float64
		if err := json.Unmarshal(raw, &series); err != nil {
			slog.Debug("openmeteo: skipping malformed series", "key", key, "err", err)
			continue
		}
		if value, ok := reduceDay(series, idx, v); ok {
			out[model] = append(out[model], value)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no ensemble members for %s", domain.ErrDataUnavailable, date)
	}
	return out, nil
}

func modelOf(key, variable string, models []string) (string, bool) {
	if len(models) == 1 {
		if key == variable || strings.HasPrefix(key, variable+"_member") {
			return models[0], true
		}
	}
	for _, m := range models {
		prefix := variable + "_" + m
		if key == prefix || strings.HasPrefix(key, prefix+"_member") {
			return m, true
		}
	}
	return "", false
}

func reduceDay(series []*float64, idx []int, v domain.Variable) (float64, bool) {
	acc := math.Inf(-1)
	if v == domain.VariablePrecipitation {
		acc = 0
	}
	n := 0
	for _, i := range idx {
		if i >= len(series) || series[i] == nil {
			continue
		}
		n++
		if v == domain.VariablePrecipitation {
			acc += *series[i]
		} else {
			acc = math.Max(acc, *series[i])
		}
	}
	return acc, n > 0
}

func hourlyVariable(v domain.Variable) (string, error) {
	switch v {
	case domain.VariableTempMax:
		return "temperature_2m", nil
	case domain.VariablePrecipitation:
		return "precipitation", nil
	}
	return "", fmt.Errorf("%w: unsupported variable %q", domain.ErrDataUnavailable, v)
}

func defaultUnit(v domain.Variable) domain.Unit {
	if v == domain.VariablePrecipitation {
		return domain.UnitMillimeters
	}
	return domain.UnitCelsius
}

func timezoneOr(tz string) string {
	if tz == "" {
		return "GMT"
	}
	return tz
}
