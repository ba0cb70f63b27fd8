// Package httpclient es el cliente HTTP compartido por los adapters de feeds:
// rate limiting por endpoint, retries con backoff y errores mapeados a los
// sentinels de dominio.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryWait  = 500 * time.Millisecond
	maxRetryAfter     = 30 * time.Second
)

// Client hace requests JSON con retries. Los limiters los aporta cada adapter.
type Client struct {
	http       *http.Client
	maxRetries int
	retryWait  time.Duration
	userAgent  string
}

// Option configura un Client.
type Option func(*Client)

// WithRetry cambia el número de retries y la espera base del backoff.
func WithRetry(maxRetries int, wait time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryWait = wait
	}
}

// WithTimeout cambia el timeout por request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithUserAgent fija el User-Agent de todas las requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New crea un Client con timeout de 10s y 3 retries.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		retryWait:  defaultRetryWait,
		userAgent:  "weatherbot/1.0",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get hace un GET y decodifica la respuesta JSON en out.
func (c *Client) Get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, out)
}

// Post hace un POST JSON y decodifica la respuesta JSON en out.
func (c *Client) Post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// doWithRetry reintenta errores de red, 429 y 5xx con backoff exponencial y
// jitter. Agotados los retries, un 429 devuelve domain.ErrRateLimited y el
// resto domain.ErrDataUnavailable.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, build func() (*http.Request, error), out any) error {
	var last error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1, last); err != nil {
				return err
			}
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			last = fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			slog.Warn("rate limited by API", "host", req.URL.Host, "attempt", attempt+1)
			last = &retryAfterError{err: domain.ErrRateLimited, wait: retryAfter(resp)}
			continue
		case resp.StatusCode >= 500:
			drain(resp)
			last = fmt.Errorf("%w: server error %d", domain.ErrDataUnavailable, resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusNotFound:
			drain(resp)
			return fmt.Errorf("%w: %s not found", domain.ErrDataUnavailable, req.URL.Path)
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrDataUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, last)
}

// sleep espera con backoff exponencial y jitter, o lo que pida Retry-After.
func (c *Client) sleep(ctx context.Context, attempt int, last error) error {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	wait += time.Duration(rand.Int64N(int64(c.retryWait)/2 + 1))
	if ra, ok := last.(*retryAfterError); ok && ra.wait > 0 {
		wait = ra.wait
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type retryAfterError struct {
	err  error
	wait time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))
	resp.Body.Close()
}
