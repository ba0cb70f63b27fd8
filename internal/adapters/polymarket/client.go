package polymarket

import (
	"time"

	"github.com/alejandrodnm/weatherbot/internal/adapters/httpclient"
	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /book y /books: 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// CLOB /midpoint: 1500/10s → 900/10s → 90/s
	pricesRatePerSec = 90
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
)

// Client es el adapter de Polymarket: discovery de mercados de clima en Gamma
// y precios del CLOB. Implementa ports.MarketCriteriaFeed y ports.PriceFeed.
type Client struct {
	http          *httpclient.Client
	clobBase      string
	gammaBase     string
	gammaLimiter  *rate.Limiter
	pricesLimiter *rate.Limiter
	booksLimiter  *rate.Limiter
	tag           string
	now           func() time.Time
}

// Option configura el Client.
type Option func(*Client)

// WithHTTPClient reemplaza el cliente HTTP (tests).
func WithHTTPClient(h *httpclient.Client) Option { return func(c *Client) { c.http = h } }

// WithTag cambia el tag de Gamma usado en el discovery.
func WithTag(tag string) Option { return func(c *Client) { c.tag = tag } }

// WithClock fija el reloj usado para resolver fechas sin año.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient crea un Client con los base URLs dados.
// Si clobBase o gammaBase están vacíos, usa los URLs de producción.
func NewClient(clobBase, gammaBase string, opts ...Option) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	c := &Client{
		http:          httpclient.New(),
		clobBase:      clobBase,
		gammaBase:     gammaBase,
		gammaLimiter:  rate.NewLimiter(gammaRatePerSec, 10),
		pricesLimiter: rate.NewLimiter(pricesRatePerSec, 20),
		booksLimiter:  rate.NewLimiter(booksRatePerSec, 5),
		tag:           defaultTag,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}
