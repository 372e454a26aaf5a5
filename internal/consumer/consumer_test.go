package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type recordingSink struct {
	mu   sync.Mutex
	raws []map[string]any
}

func (s *recordingSink) IngestTick(raw map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raws = append(s.raws, raw)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.raws)
}

func TestDecodeTickKeepsNumberPrecision(t *testing.T) {
	raw, err := decodeTick([]byte(`{"symbol":"BTCUSDT","price":100.5,"ts":1700000000123456789}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1700000000123456789"), raw["ts"])
	assert.Equal(t, "BTCUSDT", raw["symbol"])

	_, err = decodeTick([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = decodeTick([]byte(`null`))
	assert.Error(t, err)
}

func TestProcessMessage(t *testing.T) {
	sink := &recordingSink{}
	c := &Consumer{sink: sink, logger: testLogger()}

	require.NoError(t, c.processMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"data": `{"s":"ETHUSDT","p":"2500"}`}}))
	assert.Error(t, c.processMessage(redis.XMessage{ID: "2-0", Values: map[string]any{"other": "x"}}))
	assert.Error(t, c.processMessage(redis.XMessage{ID: "3-0", Values: map[string]any{"data": 5}}))
	assert.Error(t, c.processMessage(redis.XMessage{ID: "4-0", Values: map[string]any{"data": "{broken"}}))

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "ETHUSDT", sink.raws[0]["s"])
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestKafkaConsumerCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"symbol":"BTCUSDT","price":1}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"symbol":"ETHUSDT","price":2}`)},
	}}
	sink := &recordingSink{}
	k := newKafkaConsumer(reader, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	assert.NoError(t, k.Close())
}

func TestKafkaConsumerStopsOnReaderClose(t *testing.T) {
	reader := &closedReader{}
	k := newKafkaConsumer(reader, &recordingSink{}, testLogger())
	assert.NoError(t, k.Start(context.Background()))
}

type closedReader struct{ fakeReader }

func (c *closedReader) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, io.EOF
}
