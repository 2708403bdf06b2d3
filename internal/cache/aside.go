package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"postpilot/internal/middleware"
)

// Aside implements the cache-aside pattern: return the cached value if
// present, otherwise load from the source, cache the result, and return it.
// Cache failures never fail the request; they fall through to the loader.
func Aside[T any](ctx context.Context, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	var zero T

	if Client != nil {
		raw, err := Client.Get(ctx, key).Result()
		if err == nil {
			var cached T
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			// Corrupt entry; drop it and reload.
			Client.Del(ctx, key)
		} else if err != redis.Nil {
			middleware.Logger.WarnContext(ctx, "cache read failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	value, err := load()
	if err != nil {
		return zero, err
	}

	if Client != nil {
		if raw, err := json.Marshal(value); err == nil {
			if err := Client.Set(ctx, key, raw, ttl).Err(); err != nil {
				middleware.Logger.WarnContext(ctx, "cache write failed",
					slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	}

	return value, nil
}

// Invalidate removes the given keys from the cache. Errors are logged only.
func Invalidate(ctx context.Context, keys ...string) {
	if Client == nil || len(keys) == 0 {
		return
	}
	if err := Client.Del(ctx, keys...).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache invalidation failed",
			slog.String("error", err.Error()))
	}
}

// InvalidatePattern removes all keys matching the given glob pattern.
func InvalidatePattern(ctx context.Context, pattern string) {
	if Client == nil {
		return
	}
	iter := Client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache scan failed",
			slog.String("pattern", pattern), slog.String("error", err.Error()))
		return
	}
	Invalidate(ctx, keys...)
}
