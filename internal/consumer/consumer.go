// Package consumer feeds ticks from Redis Streams and Kafka into the coordinator.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TickSink accepts loosely-typed tick payloads. Implementations must not block.
type TickSink interface {
	IngestTick(raw map[string]any)
}

// decodeTick parses a JSON tick object, keeping numbers as json.Number so
// large nanosecond timestamps survive.
func decodeTick(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if raw == nil {
		return nil, errors.New("tick payload is not an object")
	}
	return raw, nil
}

// Consumer reads ticks from a Redis Stream through a consumer group.
type Consumer struct {
	client        *redis.Client
	streamKey     string
	consumerGroup string
	consumerName  string
	blockTime     time.Duration
	batchSize     int64
	sink          TickSink
	logger        *slog.Logger
}

// Config holds consumer configuration.
type Config struct {
	StreamKey     string        // e.g., "ticks"
	ConsumerGroup string        // e.g., "analytics"
	ConsumerName  string        // e.g., "analytics-1"
	BlockTime     time.Duration // how long XREADGROUP blocks waiting for messages
	BatchSize     int64         // messages per XREADGROUP
}

// New creates the consumer group if needed and returns a consumer on client.
func New(ctx context.Context, client *redis.Client, cfg Config, sink TickSink, logger *slog.Logger) (*Consumer, error) {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	c := &Consumer{
		client:        client,
		streamKey:     cfg.StreamKey,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		blockTime:     cfg.BlockTime,
		batchSize:     cfg.BatchSize,
		sink:          sink,
		logger:        logger.With("component", "stream_consumer", "stream_key", cfg.StreamKey),
	}

	// XGroupCreateMkStream creates the stream when missing; "$" skips history
	err := client.XGroupCreateMkStream(ctx, cfg.StreamKey, cfg.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("consumer_initialized",
		"consumer_group", cfg.ConsumerGroup,
		"consumer_name", cfg.ConsumerName,
	)
	return c, nil
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer_starting")

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer_stopping")
			return nil
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.consumerGroup,
			Consumer: c.consumerName,
			Streams:  []string{c.streamKey, ">"},
			Count:    c.batchSize,
			Block:    c.blockTime,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("xreadgroup_failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := c.processMessage(message); err != nil {
					c.logger.Warn("message_processing_failed", "stream_id", message.ID, "error", err)
				}
				// malformed messages are acked too; redelivery would not fix them
				if err := c.client.XAck(ctx, c.streamKey, c.consumerGroup, message.ID).Err(); err != nil {
					c.logger.Error("xack_failed", "stream_id", message.ID, "error", err)
				}
			}
		}
	}
}

// processMessage hands the message's "data" JSON to the sink.
func (c *Consumer) processMessage(msg redis.XMessage) error {
	dataField, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("message missing 'data' field")
	}
	jsonBytes, ok := dataField.(string)
	if !ok {
		return fmt.Errorf("data field is not a string")
	}

	raw, err := decodeTick([]byte(jsonBytes))
	if err != nil {
		return err
	}
	c.sink.IngestTick(raw)
	c.logger.Debug("tick_received", "stream_id", msg.ID)
	return nil
}
