package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"screentime/internal/metrics"
)

// RedisFeed fans notifications out over Redis pub/sub so every server and
// device process in a deployment hears every family write.
type RedisFeed struct {
	client  redis.UniversalClient
	buffer  int
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisFeed wraps an existing client. The feed owns the client and closes
// it on Close.
func NewRedisFeed(client redis.UniversalClient, buffer int, m *metrics.Metrics, logger *zap.Logger) *RedisFeed {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, buffer: buffer, metrics: m, logger: logger.Named("changefeed")}
}

func (f *RedisFeed) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(n.FamilyID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	f.metrics.RecordFeedNotification("published")
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, familyID string, exclude Origin) (<-chan Notification, error) {
	sub := f.client.Subscribe(ctx, Channel(familyID))
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Notification, f.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					f.logger.Warn("dropping malformed notification",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if exclude.Excludes(n) {
					continue
				}
				f.metrics.RecordFeedNotification("received")
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
