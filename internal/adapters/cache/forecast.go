// Package cache envuelve feeds lentos con una caché read-through en Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "weatherbot:forecast:"

// ForecastCache implementa ports.ForecastFeed: lee primero de Redis y, en
// caso de miss o de fallo de Redis, delega en el feed primario.
// Redis caído nunca bloquea el pipeline; solo se pierde la caché.
type ForecastCache struct {
	primary ports.ForecastFeed
	rdb     *redis.Client
	ttl     time.Duration
}

// NewForecastCache crea el wrapper. ttl debería ser menor que el intervalo
// de refresco de forecasts para no servir runs viejos.
func NewForecastCache(primary ports.ForecastFeed, rdb *redis.Client, ttl time.Duration) *ForecastCache {
	return &ForecastCache{primary: primary, rdb: rdb, ttl: ttl}
}

// Fetch devuelve el ensemble cacheado o lo pide al feed primario.
func (c *ForecastCache) Fetch(ctx context.Context, req domain.ForecastRequest) (domain.Ensemble, error) {
	key := forecastKey(req)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ens domain.Ensemble
		if json.Unmarshal(data, &ens) == nil && ens.Size() > 0 {
			return ens, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Debug("cache: redis get failed", "key", key, "err", err)
	}

	ens, err := c.primary.Fetch(ctx, req)
	if err != nil {
		return domain.Ensemble{}, err
	}

	if data, err := json.Marshal(ens); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Debug("cache: redis set failed", "key", key, "err", err)
		}
	}
	return ens, nil
}

func forecastKey(req domain.ForecastRequest) string {
	k := keyPrefix + req.Key()
	if len(req.Models) > 0 {
		k += "|" + strings.Join(req.Models, ",")
	}
	return k
}
