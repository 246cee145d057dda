package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"track-svr/internal/observability"
	"track-svr/internal/track"
)

// FixStore is the write side of the fix store.
type FixStore interface {
	Insert(ctx context.Context, f track.Fix) error
	RecentSpeeds(ctx context.Context, deviceID string, n int) ([]float64, error)
}

// SpeedCache keeps the recent speeds per device in front of the store.
type SpeedCache interface {
	RecentSpeeds(ctx context.Context, deviceID string) ([]float64, bool, error)
	Seed(ctx context.Context, deviceID string, speeds []float64) error
	PushFix(ctx context.Context, f track.Fix) error
}

// Forwarder receives every stored fix.
type Forwarder interface {
	SendFix(f track.Fix)
}

// Writer applies the stationary gate and stores what passes. Cache and
// forwarder are optional.
type Writer struct {
	store  FixStore
	cache  SpeedCache
	fwd    Forwarder
	logger *slog.Logger

	// the gate reads then writes; one writer at a time keeps that consistent
	mu sync.Mutex
}

func NewWriter(store FixStore, cache SpeedCache, fwd Forwarder, logger *slog.Logger) *Writer {
	return &Writer{
		store:  store,
		cache:  cache,
		fwd:    fwd,
		logger: logger.With("component", "ingest"),
	}
}

// Write runs one fix through the gate. It reports whether the fix was
// stored. Malformed fixes are dropped without error.
func (w *Writer) Write(ctx context.Context, source string, f track.Fix) (bool, error) {
	observability.FixesReceived.WithLabelValues(source).Inc()

	if !f.Valid() {
		observability.InvalidDropped.Inc()
		w.logger.Debug("dropping malformed fix", "device", f.DeviceID, "source", source, "lat", f.Lat, "lng", f.Lng)
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	recent, err := w.recentSpeeds(ctx, f.DeviceID)
	if err != nil {
		return false, err
	}
	if !ShouldStore(f.ReportedSpeed(), recent) {
		observability.FixesSkipped.Inc()
		return false, nil
	}

	if err := w.store.Insert(ctx, f); err != nil {
		return false, err
	}
	observability.FixesStored.Inc()

	if w.cache != nil {
		if err := w.cache.PushFix(ctx, f); err != nil {
			observability.RedisErrors.Inc()
			w.logger.Warn("cache push failed", "device", f.DeviceID, "err", err)
		}
	}
	if w.fwd != nil {
		w.fwd.SendFix(f)
	}
	return true, nil
}

// recentSpeeds reads the cache first and falls back to the store on a miss
// or a cache error, seeding the cache with what the store returned.
func (w *Writer) recentSpeeds(ctx context.Context, deviceID string) ([]float64, error) {
	if w.cache != nil {
		speeds, ok, err := w.cache.RecentSpeeds(ctx, deviceID)
		switch {
		case err != nil:
			observability.RedisErrors.Inc()
			w.logger.Warn("cache read failed, using store", "device", deviceID, "err", err)
		case ok:
			return speeds, nil
		}
	}

	speeds, err := w.store.RecentSpeeds(ctx, deviceID, GateDepth)
	if err != nil {
		return nil, fmt.Errorf("recent speeds for %s: %w", deviceID, err)
	}
	if w.cache != nil {
		if err := w.cache.Seed(ctx, deviceID, speeds); err != nil {
			observability.RedisErrors.Inc()
			w.logger.Warn("cache seed failed", "device", deviceID, "err", err)
		}
	}
	return speeds, nil
}
