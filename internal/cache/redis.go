// Package cache provides Redis-backed caching for read-heavy API surfaces.
package cache

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"postpilot/internal/middleware"
	"postpilot/internal/observability"
)

// Client is the global Redis client handle.
var Client *redis.Client

// metricsHook counts Redis errors by operation so cache degradation is visible.
type metricsHook struct{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			observability.RedisErrors.WithLabelValues("dial").Inc()
		}
		return conn, err
	}
}

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && err != redis.Nil {
			observability.RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && err != redis.Nil {
			observability.RedisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// InitRedis connects to Redis and verifies the connection with a ping.
// A failed connection is logged but not fatal; callers degrade to the database.
func InitRedis(redisURL string) error {
	Client = redis.NewClient(&redis.Options{
		Addr:         redisURL,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	Client.AddHook(metricsHook{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := Client.Ping(ctx).Err(); err != nil {
		// Drop the client so Aside falls straight through to the loader
		// instead of timing out against a dead Redis on every read.
		_ = Client.Close()
		Client = nil
		middleware.Logger.Warn("redis unavailable, caching disabled",
			slog.String("addr", redisURL),
			slog.String("error", err.Error()))
		return err
	}

	middleware.Logger.Info("redis connection established", slog.String("addr", redisURL))
	return nil
}

// Close releases the Redis client.
func Close() error {
	if Client == nil {
		return nil
	}
	return Client.Close()
}
