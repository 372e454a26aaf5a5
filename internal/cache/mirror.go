// Package cache mirrors analytics snapshots into Redis and reads them back.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"analytics/internal/models"
)

// LatestSnapshotKey holds the most recent snapshot mirrored to Redis.
const LatestSnapshotKey = "analytics:latest"

// SnapshotSource supplies the snapshot to mirror.
type SnapshotSource interface {
	Snapshot() *models.AnalyticsSnapshot
}

// kvSetter is the slice of the Redis client the mirror uses.
type kvSetter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// SnapshotMirror copies the published snapshot into Redis with a TTL so
// other processes can read it without talking to this one.
type SnapshotMirror struct {
	client   kvSetter
	source   SnapshotSource
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	last time.Time // timestamp of the last mirrored snapshot
}

// NewSnapshotMirror creates a mirror writing to client every interval.
func NewSnapshotMirror(client kvSetter, source SnapshotSource, ttl, interval time.Duration, logger *slog.Logger) *SnapshotMirror {
	return &SnapshotMirror{
		client:   client,
		source:   source,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "snapshot_mirror"),
	}
}

// Run mirrors the snapshot every interval until ctx is cancelled.
func (m *SnapshotMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Mirror(ctx); err != nil {
				m.logger.Warn("snapshot_mirror_failed", "error", err)
			}
		}
	}
}

// Mirror writes the current snapshot if it changed since the last write.
func (m *SnapshotMirror) Mirror(ctx context.Context) error {
	snap := m.source.Snapshot()
	if snap == nil || snap.Timestamp.Equal(m.last) {
		return nil
	}

	startTime := time.Now()
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	if err := m.client.Set(ctx, LatestSnapshotKey, jsonBytes, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	m.last = snap.Timestamp

	m.logger.Debug("snapshot_cached",
		"cache_key", LatestSnapshotKey,
		"ttl_sec", m.ttl.Seconds(),
		"size_bytes", len(jsonBytes),
		"latency_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}
