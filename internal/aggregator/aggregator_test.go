package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	batches map[string][][]models.Tick
	candles []models.Candle
	fail    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: make(map[string][][]models.Tick)}
}

func (s *fakeStore) InsertTicksBatch(_ context.Context, symbol string, ticks []models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database unavailable")
	}
	s.batches[symbol] = append(s.batches[symbol], ticks)
	return nil
}

func (s *fakeStore) InsertCandle(_ context.Context, candle models.Candle, _ models.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database unavailable")
	}
	s.candles = append(s.candles, candle)
	return nil
}

func (s *fakeStore) QueryCandles(_ context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Candle{}
	for _, c := range s.candles {
		if c.Symbol == symbol && c.Timeframe == tf {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) batchSizes(symbol string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []int{}
	for _, b := range s.batches[symbol] {
		out = append(out, len(b))
	}
	return out
}

type fakeAlerts struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeAlerts) Evaluate(context.Context, *models.AnalyticsSnapshot) []models.TriggerEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *fakePublisher) Publish(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newTestCoordinator(store Persistence) (*Coordinator, *fakeAlerts, *fakePublisher) {
	alerts := &fakeAlerts{}
	pub := &fakePublisher{}
	c := New(Config{}, store, alerts, pub, testLogger(), nil)
	return c, alerts, pub
}

// ingestPair feeds two positively correlated series of n ticks each.
func ingestPair(c *Coordinator, n int) {
	for i := 0; i < n; i++ {
		ts := float64(1_700_000_000_000 + i*1000)
		noise := math.Sin(float64(i) * 1.3)
		c.Ingest(models.Tick{Timestamp: ts, Symbol: "BTCUSDT", Price: 30_000 + float64(i)*10 + noise*5, Quantity: 1})
		c.Ingest(models.Tick{Timestamp: ts, Symbol: "ETHUSDT", Price: 2_000 + float64(i)*0.7 + math.Cos(float64(i)*0.7), Quantity: 2})
	}
}

func TestRefreshSingleSymbolRisingPrice(t *testing.T) {
	c, alerts, _ := newTestCoordinator(nil)
	for i := 0; i < 25; i++ {
		c.IngestTick(map[string]any{
			"symbol": "BTCUSDT",
			"price":  float64(100 + i),
			"size":   1.0,
			"ts":     float64(1_700_000_000 + i),
		})
	}

	snap := c.Refresh(context.Background())

	assert.Equal(t, 124.0, snap.Price["BTCUSDT"])
	assert.Equal(t, 25, snap.TickCount["BTCUSDT"])
	assert.Equal(t, 25.0, snap.Volume["BTCUSDT"])
	assert.Greater(t, snap.ZScore["BTCUSDT"], 0.0)
	assert.Greater(t, snap.Volatility["BTCUSDT"], 0.0)
	assert.Equal(t, 25, snap.DataPoints)
	assert.Empty(t, snap.Pair)
	assert.Same(t, snap, c.Snapshot())
	assert.Equal(t, 1, alerts.calls)
}

func TestRejectedTickCreatesNoBuffer(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)

	c.IngestTick(map[string]any{"symbol": "ETHUSDT", "price": 0.0})

	assert.Empty(t, c.Symbols())
	_, err := c.RecentTicks("ETHUSDT", 10)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestRejectedTickLeavesExistingBufferAlone(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	c.Ingest(models.Tick{Timestamp: 1, Symbol: "ETHUSDT", Price: 10})

	c.IngestTick(map[string]any{"symbol": "ETHUSDT", "price": 0.0})
	c.Ingest(models.Tick{Timestamp: 2, Symbol: "ETHUSDT", Price: -1})

	ticks, err := c.RecentTicks("ethusdt", 10)
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
}

func TestRefreshOmitsSymbolsWithFewPoints(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	for i := 0; i < 4; i++ {
		c.Ingest(models.Tick{Timestamp: float64(i), Symbol: "SOLUSDT", Price: 20})
	}

	snap := c.Refresh(context.Background())

	assert.NotContains(t, snap.Price, "SOLUSDT")
	assert.NotContains(t, snap.ZScore, "SOLUSDT")
	assert.Zero(t, snap.DataPoints)
	assert.False(t, snap.Capabilities["basic_price_tracking"])
}

func TestRefreshDataPointsSumReportedSymbols(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	for i := 0; i < 30; i++ {
		c.Ingest(models.Tick{Timestamp: float64(i), Symbol: "BTCUSDT", Price: 100 + float64(i)})
	}
	for i := 0; i < 12; i++ {
		c.Ingest(models.Tick{Timestamp: float64(i), Symbol: "ETHUSDT", Price: 10 + float64(i%3)})
	}
	for i := 0; i < 4; i++ {
		c.Ingest(models.Tick{Timestamp: float64(i), Symbol: "SOLUSDT", Price: 20})
	}

	snap := c.Refresh(context.Background())

	assert.Equal(t, 42, snap.DataPoints)
	assert.True(t, snap.Capabilities["zscore_calculation"])
	assert.False(t, snap.Capabilities["volatility_metrics"])
}

func TestComputeSymbolRecoversFromPanic(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	ticks := make([]models.Tick, 10)
	for i := range ticks {
		ticks[i] = models.Tick{Timestamp: float64(i), Symbol: "BTCUSDT", Price: 100 + float64(i), Quantity: 1}
	}
	// a state without a flow tracker makes the tick-rate lookup panic
	s := &symbolState{symbol: "BTCUSDT"}
	snap := models.NewSnapshot(time.Now())

	var points int
	require.NotPanics(t, func() { points = c.computeSymbol(snap, s, ticks, time.Now()) })

	assert.Equal(t, 10, points)
	assert.Equal(t, 109.0, snap.Price["BTCUSDT"])
	assert.Zero(t, snap.ZScore["BTCUSDT"])
	assert.Zero(t, snap.Volatility["BTCUSDT"])
	assert.Zero(t, snap.TickRate["BTCUSDT"])
}

func TestRefreshPairAnalytics(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	ingestPair(c, 150)

	snap := c.Refresh(context.Background())
	key := models.PairKey("BTCUSDT", "ETHUSDT")

	assert.Equal(t, key, snap.Pair)
	require.Contains(t, snap.HedgeRatio, key)
	assert.NotZero(t, snap.HedgeRatio[key].Beta)
	assert.Equal(t, models.OutcomeOK, snap.HedgeRatio[key].Status)
	assert.Contains(t, snap.Spread, key)
	assert.False(t, math.IsNaN(snap.Spread[key]))
	assert.Greater(t, snap.Correlation[key], 0.0)
	assert.Contains(t, snap.ADFTest, key)
	assert.Contains(t, snap.ADFTest, models.PriceKey("BTCUSDT"))
	assert.Contains(t, snap.ADFTest, models.PriceKey("ETHUSDT"))
	assert.Equal(t, 300, snap.DataPoints)
	assert.True(t, snap.Capabilities["adf_stationarity"])
}

func TestRefreshPairBelowStationarityGate(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	ingestPair(c, 50)

	snap := c.Refresh(context.Background())
	key := models.PairKey("BTCUSDT", "ETHUSDT")

	assert.Empty(t, snap.ADFTest)
	assert.Contains(t, snap.Correlation, key)
	assert.Contains(t, snap.Spread, key)
}

func TestRefreshNoPairUntilBothLegsHaveHistory(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	ingestPair(c, 20)

	snap := c.Refresh(context.Background())

	assert.Empty(t, snap.Pair)
	assert.Empty(t, snap.HedgeRatio)
}

func TestPairUsesFirstSeenOrder(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	c.Ingest(models.Tick{Timestamp: 0, Symbol: "ETHUSDT", Price: 1})
	ingestPair(c, 30)

	snap := c.Refresh(context.Background())

	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, c.Symbols())
	assert.Equal(t, models.PairKey("ETHUSDT", "BTCUSDT"), snap.Pair)
}

func TestFlushSendsOnlyNewTicks(t *testing.T) {
	store := newFakeStore()
	c, _, _ := newTestCoordinator(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Ingest(models.Tick{Timestamp: float64(1_700_000_000_000 + i), Symbol: "BTCUSDT", Price: 100})
	}
	require.NoError(t, c.Flush(ctx))

	for i := 5; i < 8; i++ {
		c.Ingest(models.Tick{Timestamp: float64(1_700_000_000_000 + i), Symbol: "BTCUSDT", Price: 100})
	}
	require.NoError(t, c.Flush(ctx))
	require.NoError(t, c.Flush(ctx))

	assert.Equal(t, []int{5, 3}, store.batchSizes("BTCUSDT"))
	assert.NotEmpty(t, store.candles)
	assert.Equal(t, models.Timeframe1m, store.candles[0].Timeframe)
}

func TestFlushCapsBatchAndRetriesAfterFailure(t *testing.T) {
	store := newFakeStore()
	c, _, _ := newTestCoordinator(store)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		c.Ingest(models.Tick{Timestamp: float64(1_700_000_000_000 + i), Symbol: "BTCUSDT", Price: 100})
	}

	store.fail = true
	assert.Error(t, c.Flush(ctx))
	store.fail = false
	require.NoError(t, c.Flush(ctx))

	assert.Equal(t, []int{100}, store.batchSizes("BTCUSDT"))
	status := c.Status()
	require.Len(t, status, 1)
	assert.Zero(t, status[0].Unflushed)
	assert.Equal(t, 150, status[0].Ticks)
}

func TestLoadHistory(t *testing.T) {
	store := newFakeStore()
	c, _, pub := newTestCoordinator(store)

	candles := []models.Candle{}
	for i := 0; i < 30; i++ {
		ts := float64(1_700_000_000_000 + i*60_000)
		candles = append(candles,
			models.Candle{Timestamp: ts, Symbol: "btcusdt", Open: 100, High: 200, Low: 99, Close: 101 + float64(i), Volume: 5},
			models.Candle{Timestamp: ts, Symbol: "ETHUSDT", Open: 10, High: 12, Low: 9, Close: 11, Volume: 3},
		)
	}
	candles = append(candles, models.Candle{Timestamp: 1, Symbol: "ETHUSDT", Open: 10, High: 9, Low: 8, Close: 10})

	summary, err := c.LoadHistory(context.Background(), candles)
	require.NoError(t, err)

	assert.Equal(t, 60, summary.Candles)
	assert.Equal(t, 60, summary.Ticks)
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, summary.Symbols)
	require.NotNil(t, summary.Analytics)
	assert.Equal(t, 130.0, summary.Analytics.Price["BTCUSDT"])
	assert.Len(t, store.candles, 60)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventUploadComplete, pub.events[0].Type)

	got, err := c.HistoricalCandles(context.Background(), "BTCUSDT", models.Timeframe1m, 0)
	require.NoError(t, err)
	assert.Len(t, got, 30)
}

func TestHistoricalCandlesFallsBackToBuffer(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)
	for i := 0; i < 120; i++ {
		c.Ingest(models.Tick{Timestamp: float64(i * 1000), Symbol: "BTCUSDT", Price: float64(100 + i), Quantity: 1})
	}

	candles, err := c.HistoricalCandles(context.Background(), "BTCUSDT", models.Timeframe1m, 10)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 0.0, candles[0].Timestamp)
	assert.Equal(t, 60, candles[0].TickCount)
	assert.Equal(t, 219.0, candles[1].Close)

	limited, err := c.HistoricalCandles(context.Background(), "BTCUSDT", models.Timeframe1m, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = c.HistoricalCandles(context.Background(), "BTCUSDT", models.Timeframe("2m"), 10)
	assert.Error(t, err)
}

func TestPairDetail(t *testing.T) {
	c, _, _ := newTestCoordinator(nil)

	_, err := c.PairDetail("BTCUSDT", "ETHUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	ingestPair(c, 50)
	_, err = c.PairDetail("BTCUSDT", "ETHUSDT")
	assert.ErrorIs(t, err, ErrInsufficientData)

	ingestPair(c, 250)
	detail, err := c.PairDetail("btcusdt", "ethusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", detail.Symbol1)
	assert.NotZero(t, detail.HedgeRatio.Beta)
	assert.Contains(t, []string{"BUY", "SELL", "HOLD"}, detail.Signal)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlerts{}
	c := New(Config{RefreshInterval: 10 * time.Millisecond, FlushInterval: time.Hour}, store, alerts, nil, testLogger(), nil)
	c.Ingest(models.Tick{Timestamp: 1_700_000_000_000, Symbol: "BTCUSDT", Price: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		alerts.mu.Lock()
		defer alerts.mu.Unlock()
		return alerts.calls > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, []int{1}, store.batchSizes("BTCUSDT"))
}

func TestLoopRetriesAfterBackoff(t *testing.T) {
	c := New(Config{ErrorBackoff: 50 * time.Millisecond}, nil, nil, nil, testLogger(), nil)

	var mu sync.Mutex
	var calls []time.Time
	fn := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, time.Now())
		switch len(calls) {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("boom")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.loop(ctx, "test", 5*time.Millisecond, fn) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 50*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 50*time.Millisecond)
}
