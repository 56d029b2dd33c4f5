// Package redis connects FarmRa Core to Redis, which backs server-side
// sessions when security.session.store is "redis".
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// pingTimeout bounds the connectivity check made by Connect.
const pingTimeout = 5 * time.Second

// Connect parses url (redis://[user:pass@]host:port/db), opens a client
// and verifies it with a ping.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// HealthCheck pings the server.
func HealthCheck(ctx context.Context, client *goredis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
