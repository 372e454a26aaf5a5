package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"analytics/internal/models"
)

// EventsChannel is the Redis pub/sub channel carrying alert and upload events.
const EventsChannel = "analytics:events"

const redisPublishTimeout = 2 * time.Second

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisListener republishes alert and upload events on a Redis channel.
// Snapshot events are left to the snapshot mirror.
type RedisListener struct {
	*QueueListener
	client redisPublisher
	logger *slog.Logger
}

// NewRedisListener creates a listener; Run must be started to drain it.
func NewRedisListener(client redisPublisher, queueSize int, logger *slog.Logger) *RedisListener {
	return &RedisListener{
		QueueListener: NewQueueListener(queueSize),
		client:        client,
		logger:        logger.With("component", "redis_listener"),
	}
}

// Send filters out analytics snapshots before queueing.
func (l *RedisListener) Send(event models.Event) error {
	if event.Type == models.EventAnalytics {
		return nil
	}
	return l.QueueListener.Send(event)
}

// Run publishes queued events until ctx ends or the listener is closed.
// A failed publish closes the listener so the hub drops it.
func (l *RedisListener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Done():
			return nil
		case event := <-l.Events():
			if err := l.publish(ctx, event); err != nil {
				l.logger.Error("redis_publish_failed", "type", event.Type, "error", err)
				l.Close()
				return nil
			}
		}
	}
}

// RunRelay keeps a RedisListener attached to hub until ctx ends. A relay that
// closed after a failed publish is detached and replaced after backoff.
func RunRelay(ctx context.Context, hub *Hub, client redisPublisher, queueSize int, backoff time.Duration, logger *slog.Logger) error {
	for {
		relay := NewRedisListener(client, queueSize, logger)
		hub.Attach(relay)
		relay.Run(ctx)
		hub.Detach(relay.ID())

		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("redis_relay_reattaching", "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func (l *RedisListener) publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := l.client.Publish(pubCtx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}
	l.logger.Debug("event_published", "type", event.Type, "channel", EventsChannel)
	return nil
}
