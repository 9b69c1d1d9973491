package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

const (
	DefaultChannel = "giftstream:gifts"
	DefaultTimeout = 2 * time.Second
)

// RedisConfig configures the Redis pub/sub publisher.
type RedisConfig struct {
	// URL format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	// Timeout bounds each PUBLISH attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed publish.
	Retries int
}

// Publisher sends each record as JSON to a Redis channel.
type Publisher struct {
	config RedisConfig
	client *goredis.Client
}

func NewPublisher(cfg RedisConfig) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Emit publishes rec, retrying with a short exponential backoff.
func (p *Publisher) Emit(ctx context.Context, rec gifts.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}

	var lastErr error
	attempts := 1 + p.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 50 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		pubCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(pubCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: publish failed after %d attempts: %w", attempts, lastErr)
}

// Ping checks that the server is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
