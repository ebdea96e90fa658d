package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New connects to Redis at addr and verifies the connection. The client is
// closed again when the ping fails.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}

	return client, nil
}

// Key joins a namespace and a name the way every stalltally key is built.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}
