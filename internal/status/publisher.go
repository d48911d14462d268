// Package status maintains the controller state snapshot and publishes it
// to the shared Redis store for dashboards.
package status

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// RedisPublisher stores the full snapshot under a key and pings a channel
// so subscribers refresh without polling.
type RedisPublisher struct {
	client  *redis.Client
	key     string
	channel string
	log     logger.Logger
}

// NewRedisPublisher creates a publisher against the given Redis instance.
func NewRedisPublisher(addr, password string, db int, key, channel string, log logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.NewDefault()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPublisher{
		client:  client,
		key:     key,
		channel: channel,
		log:     log,
	}
}

// Ping tests the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// PublishSnapshot stores the full snapshot under the configured key.
func (p *RedisPublisher) PublishSnapshot(ctx context.Context, snap types.StatusSnapshot) error {
	data, err := snap.ToJSON()
	if err != nil {
		p.log.Error("failed to serialize status snapshot", "error", err.Error())
		return fmt.Errorf("failed to serialize status snapshot: %w", err)
	}

	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		p.log.Error("failed to publish status snapshot",
			"error", err.Error(),
			"key", p.key,
		)
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.log.Debug("status snapshot published",
		"key", p.key,
		"phase", snap.Phase,
		"size_bytes", len(data),
	)
	return nil
}

// NotifyUpdate sends a lightweight change notification on the channel.
func (p *RedisPublisher) NotifyUpdate(ctx context.Context) error {
	if err := p.client.Publish(ctx, p.channel, "updated").Err(); err != nil {
		p.log.Error("failed to send update notification",
			"error", err.Error(),
			"channel", p.channel,
		)
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// PublishAndNotify stores the snapshot and notifies subscribers.
func (p *RedisPublisher) PublishAndNotify(ctx context.Context, snap types.StatusSnapshot) error {
	if err := p.PublishSnapshot(ctx, snap); err != nil {
		return err
	}
	return p.NotifyUpdate(ctx)
}

// PublishAndNotifyWithRetry retries the full publish with exponential
// backoff. Used at startup when Redis may still be coming up.
func (p *RedisPublisher) PublishAndNotifyWithRetry(ctx context.Context, snap types.StatusSnapshot, maxRetries int) error {
	return RetryWithBackoff(func() error {
		return p.PublishAndNotify(ctx, snap)
	}, maxRetries, time.Second)
}

// RetryWithBackoff runs fn up to maxRetries times with exponential backoff
// capped at 30 seconds.
func RetryWithBackoff(fn func() error, maxRetries int, initialDelay time.Duration) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			delay := time.Duration(float64(initialDelay) * math.Pow(2, float64(attempt-1)))
			maxDelay := 30 * time.Second
			if delay > maxDelay {
				delay = maxDelay
			}

			logger.Warn("retry attempt failed",
				"attempt", attempt,
				"max_retries", maxRetries,
				"error", err.Error(),
				"next_delay", delay.String(),
			)

			time.Sleep(delay)
		}
	}

	return fmt.Errorf("all %d retry attempts failed: %w", maxRetries, lastErr)
}

// GetStoredSnapshot reads back the stored snapshot. Returns nil when the
// key does not exist yet.
func (p *RedisPublisher) GetStoredSnapshot(ctx context.Context) (*types.StatusSnapshot, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get status snapshot from redis: %w", err)
	}

	snap, err := types.SnapshotFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize status snapshot: %w", err)
	}
	return snap, nil
}

// GetKey returns the storage key.
func (p *RedisPublisher) GetKey() string {
	return p.key
}

// GetChannel returns the notification channel.
func (p *RedisPublisher) GetChannel() string {
	return p.channel
}

// IsConnected reports whether Redis answers a ping.
func (p *RedisPublisher) IsConnected(ctx context.Context) bool {
	return p.Ping(ctx) == nil
}
