package store

import (
	"context"
	"log/slog"

	"track-svr/internal/observability"
	"track-svr/internal/track"
)

// CachedSource answers Latest for a single device from the Redis last-fix
// key and falls back to the wrapped source on a miss or a cache error.
// Fixes always goes to the wrapped source.
type CachedSource struct {
	Source
	cache  *Redis
	logger *slog.Logger
}

func NewCachedSource(src Source, cache *Redis, logger *slog.Logger) *CachedSource {
	return &CachedSource{
		Source: src,
		cache:  cache,
		logger: logger.With("component", "cached-source"),
	}
}

func (c *CachedSource) Latest(ctx context.Context, deviceID string) (*track.Fix, error) {
	// the cache is keyed per device; the system-wide latest needs the store
	if deviceID == "" {
		return c.Source.Latest(ctx, deviceID)
	}
	f, err := c.cache.LatestFix(ctx, deviceID)
	if err != nil {
		observability.RedisErrors.Inc()
		c.logger.Warn("last fix lookup failed, reading store", "device", deviceID, "err", err)
	}
	if f != nil {
		return f, nil
	}
	return c.Source.Latest(ctx, deviceID)
}
