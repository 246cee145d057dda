package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"track-svr/internal/track"
)

const (
	// RecentDepth is how many speeds the cache keeps per device.
	RecentDepth = 3
	lastFixTTL  = 24 * time.Hour
)

// Redis caches, per device, the speeds of the most recently stored fixes and
// the last fix itself. The ingest gate reads it before falling back to SQLite.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func speedsKey(deviceID string) string { return "track:speeds:" + deviceID }
func lastFixKey(deviceID string) string { return "track:last:" + deviceID }

// PushFix records a stored fix: its speed goes to the head of the recent
// list (trimmed to RecentDepth) and the fix becomes the device's last fix.
func (r *Redis) PushFix(ctx context.Context, f track.Fix) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode fix: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, speedsKey(f.DeviceID), f.ReportedSpeed())
	pipe.LTrim(ctx, speedsKey(f.DeviceID), 0, RecentDepth-1)
	pipe.Set(ctx, lastFixKey(f.DeviceID), payload, lastFixTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push fix %s: %w", f.DeviceID, err)
	}
	return nil
}

// Seed replaces the cached speeds of a device, newest first. Used after a
// miss so the next lookups stay in the cache.
func (r *Redis) Seed(ctx context.Context, deviceID string, speeds []float64) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, speedsKey(deviceID))
	if len(speeds) > 0 {
		vals := make([]any, len(speeds))
		for i, s := range speeds {
			vals[i] = s
		}
		pipe.RPush(ctx, speedsKey(deviceID), vals...)
		pipe.LTrim(ctx, speedsKey(deviceID), 0, RecentDepth-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis seed %s: %w", deviceID, err)
	}
	return nil
}

// RecentSpeeds returns the cached speeds, newest first. ok is false on a
// cache miss (no list for the device, or an entry that does not parse).
func (r *Redis) RecentSpeeds(ctx context.Context, deviceID string) ([]float64, bool, error) {
	vals, err := r.rdb.LRange(ctx, speedsKey(deviceID), 0, RecentDepth-1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis recent speeds %s: %w", deviceID, err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			// a corrupt entry would shorten the history; reseed instead
			return nil, false, nil
		}
		out = append(out, n)
	}
	return out, true, nil
}

// LatestFix returns the cached last fix of a device, nil on a miss.
func (r *Redis) LatestFix(ctx context.Context, deviceID string) (*track.Fix, error) {
	raw, err := r.rdb.Get(ctx, lastFixKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis last fix %s: %w", deviceID, err)
	}
	var f track.Fix
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fix: %w", err)
	}
	return &f, nil
}
