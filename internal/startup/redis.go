package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/roomchat/internal/logger"
	redisstorage "github.com/roomchat/internal/storage/redis"
)

// ConnectRedisWithRetry подключает хранилище реакций к Redis с повторами
// (экспоненциальная задержка), пока не истечёт maxWait.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, ttl, maxWait time.Duration) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(pingCtx, redisURL, ttl)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
