package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects the topic to read ticks from.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads one JSON tick per message value.
type KafkaConsumer struct {
	reader messageReader
	sink   TickSink
	logger *slog.Logger
}

// NewKafka creates a group reader that starts from the newest offset.
func NewKafka(cfg KafkaConfig, sink TickSink, logger *slog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return newKafkaConsumer(reader, sink, logger.With("topic", cfg.Topic))
}

func newKafkaConsumer(reader messageReader, sink TickSink, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader: reader,
		sink:   sink,
		logger: logger.With("component", "kafka_consumer"),
	}
}

// Start consumes until ctx is cancelled or the reader is closed.
func (k *KafkaConsumer) Start(ctx context.Context) error {
	k.logger.Info("consumer_starting")
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				k.logger.Info("consumer_stopping")
				return nil
			}
			k.logger.Error("kafka_fetch_failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if raw, err := decodeTick(msg.Value); err != nil {
			k.logger.Warn("message_processing_failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			k.sink.IngestTick(raw)
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.logger.Error("kafka_commit_failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close closes the underlying reader.
func (k *KafkaConsumer) Close() error {
	k.logger.Info("consumer_closing")
	return k.reader.Close()
}
