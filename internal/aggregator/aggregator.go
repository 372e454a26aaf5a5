// Package aggregator owns the per-symbol tick buffers and turns them into
// analytics snapshots on a fixed cadence.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"analytics/internal/buffer"
	"analytics/internal/instrumentation"
	"analytics/internal/metrics"
	"analytics/internal/models"
)

var (
	// ErrUnknownSymbol is returned for reads on a symbol without a buffer.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrInsufficientData is returned when an on-demand analysis lacks history.
	ErrInsufficientData = errors.New("insufficient data")
)

// Persistence is the durable storage the coordinator mirrors into.
type Persistence interface {
	InsertTicksBatch(ctx context.Context, symbol string, ticks []models.Tick) error
	InsertCandle(ctx context.Context, candle models.Candle, timeframe models.Timeframe) error
	QueryCandles(ctx context.Context, symbol string, timeframe models.Timeframe, limit int) ([]models.Candle, error)
}

// AlertEvaluator checks rules against each published snapshot.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, snap *models.AnalyticsSnapshot) []models.TriggerEvent
}

// Publisher delivers events to listeners without blocking.
type Publisher interface {
	Publish(event models.Event)
}

// Config tunes the coordinator. Zero values select the defaults.
type Config struct {
	BufferCapacity  int
	RefreshInterval time.Duration
	FlushInterval   time.Duration
	FlushBatchSize  int
	ErrorBackoff    time.Duration
	Window          int // rolling window for z-score, volatility and correlation
	PairWindow      int // most recent aligned points used for pair analytics
}

func (c Config) withDefaults() Config {
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = buffer.DefaultCapacity
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 500 * time.Millisecond
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 100
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.Window <= 0 {
		c.Window = 20
	}
	if c.PairWindow <= 0 {
		c.PairWindow = 300
	}
	return c
}

// symbolState is one symbol's buffer plus its flush bookkeeping.
// mu guards every field except flow, which has its own lock.
type symbolState struct {
	symbol string

	mu          sync.Mutex
	buf         *buffer.TickBuffer
	added       uint64  // ticks ever added
	flushed     uint64  // value of added at the last successful flush
	candleSince float64 // start of the oldest live candle bucket not yet final

	flow *metrics.FlowTracker
}

// Coordinator maintains per-symbol buffers and publishes analytics snapshots.
type Coordinator struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
	order   []string // first-seen order

	snapshot  atomic.Pointer[models.AnalyticsSnapshot]
	refreshMu sync.Mutex

	store     Persistence
	alerts    AlertEvaluator
	publisher Publisher
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
}

// New creates a coordinator. store, alerts and publisher may be nil.
func New(cfg Config, store Persistence, alerts AlertEvaluator, publisher Publisher, logger *slog.Logger, m *instrumentation.Metrics) *Coordinator {
	c := &Coordinator{
		symbols:   make(map[string]*symbolState),
		store:     store,
		alerts:    alerts,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		logger:    logger.With("component", "coordinator"),
		metrics:   m,
	}
	empty := models.NewSnapshot(c.now().UTC())
	empty.Capabilities = metrics.Capabilities(0)
	c.snapshot.Store(empty)
	return c
}

// IngestTick normalizes a raw payload and appends it to its symbol's buffer.
// Invalid ticks are logged and dropped.
func (c *Coordinator) IngestTick(raw map[string]any) {
	tick, err := NormalizeTick(raw, c.now())
	if err != nil {
		c.rejected(err, raw)
		return
	}
	c.add(tick, false)
}

// Ingest appends an already structured tick.
func (c *Coordinator) Ingest(tick models.Tick) {
	tick.Symbol = models.NormalizeSymbol(tick.Symbol)
	if err := models.ValidateTick(tick); err != nil {
		c.rejected(err, tick)
		return
	}
	c.add(tick, false)
}

func (c *Coordinator) rejected(err error, raw any) {
	reason := ReasonInvalidTick
	var rej *RejectionError
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	c.metrics.RecordTickRejected(reason)
	c.logger.Warn("tick_rejected", "reason", reason, "error", err, "raw", raw)
}

// add stores a validated tick. Historical ticks do not open live candles.
func (c *Coordinator) add(tick models.Tick, historical bool) {
	state := c.state(tick.Symbol)

	state.mu.Lock()
	state.buf.Add(tick)
	state.added++
	if !historical && math.IsInf(state.candleSince, 1) {
		state.candleSince = bucketStart1m(tick.Timestamp)
	}
	state.mu.Unlock()

	if !historical {
		state.flow.RecordTick(c.now(), tick.Quantity)
	}
	c.metrics.RecordTickIngested()
	c.logger.Debug("tick_added", "symbol", tick.Symbol, "price", tick.Price)
}

// state returns the symbol's state, creating it on first sight.
func (c *Coordinator) state(symbol string) *symbolState {
	c.mu.RLock()
	s, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.symbols[symbol]; ok {
		return s
	}
	s = &symbolState{
		symbol:      symbol,
		buf:         buffer.New(c.cfg.BufferCapacity),
		candleSince: math.Inf(1),
		flow:        metrics.NewFlowTracker(),
	}
	c.symbols[symbol] = s
	c.order = append(c.order, symbol)
	c.metrics.RecordSymbols(len(c.order))
	c.logger.Info("symbol_buffer_created", "symbol", symbol, "capacity", c.cfg.BufferCapacity)
	return s
}

func (c *Coordinator) lookup(symbol string) (*symbolState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.symbols[models.NormalizeSymbol(symbol)]
	return s, ok
}

// states returns every symbol state in first-seen order.
func (c *Coordinator) states() []*symbolState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*symbolState, len(c.order))
	for i, sym := range c.order {
		out[i] = c.symbols[sym]
	}
	return out
}

// Snapshot returns the current analytics snapshot. It is never nil and must not be modified.
func (c *Coordinator) Snapshot() *models.AnalyticsSnapshot {
	return c.snapshot.Load()
}

// Symbols lists tracked symbols in first-seen order.
func (c *Coordinator) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// RecentTicks returns up to n of the symbol's latest ticks, oldest first.
func (c *Coordinator) RecentTicks(symbol string, n int) ([]models.Tick, error) {
	s, ok := c.lookup(symbol)
	if !ok {
		return nil, ErrUnknownSymbol
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.RecentN(n), nil
}

// BufferStatus describes one symbol's buffer for diagnostics.
type BufferStatus struct {
	Symbol        string  `json:"symbol"`
	Ticks         int     `json:"ticks"`
	Capacity      int     `json:"capacity"`
	Unflushed     uint64  `json:"unflushed"`
	LastTimestamp float64 `json:"last_timestamp"`
	LastPrice     float64 `json:"last_price"`
	TicksPerSec   float64 `json:"ticks_per_sec"`
}

// Status reports every buffer in first-seen order.
func (c *Coordinator) Status() []BufferStatus {
	now := c.now()
	states := c.states()
	out := make([]BufferStatus, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		st := BufferStatus{
			Symbol:    s.symbol,
			Ticks:     s.buf.Len(),
			Capacity:  s.buf.Cap(),
			Unflushed: s.added - s.flushed,
		}
		if last, ok := s.buf.Latest(); ok {
			st.LastTimestamp = last.Timestamp
			st.LastPrice = last.Price
		}
		s.mu.Unlock()
		st.TicksPerSec = s.flow.GetMetrics(now).TicksPerSec
		out = append(out, st)
	}
	return out
}
