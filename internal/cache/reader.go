package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"analytics/internal/models"
)

type kvGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Reader reads the mirrored snapshot back from Redis.
type Reader struct {
	client kvGetter
	logger *slog.Logger
}

// NewReader creates a reader over client.
func NewReader(client kvGetter, logger *slog.Logger) *Reader {
	return &Reader{
		client: client,
		logger: logger.With("component", "cache_reader"),
	}
}

// Latest fetches the mirrored snapshot. A missing key returns nil with no error.
func (r *Reader) Latest(ctx context.Context) (*models.AnalyticsSnapshot, error) {
	startTime := time.Now()

	jsonBytes, err := r.client.Get(ctx, LatestSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("snapshot_not_in_cache", "cache_key", LatestSnapshotKey)
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var snap models.AnalyticsSnapshot
	if err := json.Unmarshal(jsonBytes, &snap); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	r.logger.Debug("snapshot_retrieved",
		"cache_key", LatestSnapshotKey,
		"latency_ms", time.Since(startTime).Milliseconds(),
		"data_age_ms", time.Since(snap.Timestamp).Milliseconds(),
	)
	return &snap, nil
}
