package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client and verifies connectivity.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := newClient(addr)
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Connect returns a client even when Redis is unreachable at startup. Callers that
// only use Redis as a cache keep serving from the database and the client reconnects
// on its own once Redis is back.
func Connect(ctx context.Context, addr string, logger *slog.Logger) *redis.Client {
	client := newClient(addr)
	if err := ping(ctx, client); err != nil && logger != nil {
		logger.Warn("redis unavailable, continuing without cache", slog.String("addr", addr), slog.Any("error", err))
	}
	return client
}

func newClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("platform/cache: ping: %w", err)
	}
	return nil
}
