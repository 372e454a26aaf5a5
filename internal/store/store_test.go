package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTicksRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTicksBatch(ctx, "BTCUSDT", []models.Tick{
		{Timestamp: 1000, Symbol: "BTCUSDT", Price: 100, Quantity: 1},
		{Timestamp: 2000, Symbol: "BTCUSDT", Price: 101, Quantity: 2},
		{Timestamp: 3000, Symbol: "BTCUSDT", Price: 102, Quantity: 3},
	}))
	require.NoError(t, s.InsertTicksBatch(ctx, "ETHUSDT", []models.Tick{
		{Timestamp: 1500, Symbol: "ETHUSDT", Price: 10},
	}))
	require.NoError(t, s.InsertTicksBatch(ctx, "ETHUSDT", nil))

	all, err := s.QueryTicks(ctx, TickQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 3000.0, all[0].Timestamp)

	start, end := 1500.0, 2500.0
	btc, err := s.QueryTicks(ctx, TickQuery{Symbol: "BTCUSDT", Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, btc, 1)
	assert.Equal(t, 101.0, btc[0].Price)

	limited, err := s.QueryTicks(ctx, TickQuery{Symbol: "BTCUSDT", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{3000, 2000}, []float64{limited[0].Timestamp, limited[1].Timestamp})

	var streamed []float64
	require.NoError(t, s.EachTick(ctx, TickQuery{Symbol: "BTCUSDT"}, func(tk models.Tick) error {
		streamed = append(streamed, tk.Timestamp)
		return nil
	}))
	assert.Equal(t, []float64{1000, 2000, 3000}, streamed)
}

func TestInsertCandleUpserts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	candle := models.Candle{Timestamp: 60_000, Symbol: "BTCUSDT", Open: 1, High: 2, Low: 1, Close: 2, Volume: 5, TickCount: 3}
	require.NoError(t, s.InsertCandle(ctx, candle, models.Timeframe1m))

	candle.Close = 1.5
	candle.TickCount = 4
	require.NoError(t, s.InsertCandle(ctx, candle, models.Timeframe1m))
	require.NoError(t, s.InsertCandle(ctx, models.Candle{Timestamp: 0, Symbol: "BTCUSDT", Open: 1, High: 1, Low: 1, Close: 1}, models.Timeframe1m))
	require.NoError(t, s.InsertCandle(ctx, candle, models.Timeframe5m))

	got, err := s.QueryCandles(ctx, "BTCUSDT", models.Timeframe1m, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].Timestamp)
	assert.Equal(t, 1.5, got[1].Close)
	assert.Equal(t, 4, got[1].TickCount)
	assert.Equal(t, models.Timeframe1m, got[1].Timeframe)

	latest, err := s.QueryCandles(ctx, "BTCUSDT", models.Timeframe1m, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 60_000.0, latest[0].Timestamp)
}

func TestAlertRulesAndCascadeDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	id1, err := s.InsertAlertRule(ctx, models.AlertRule{Name: "hot", Condition: models.ConditionZScoreAbove, Symbol: "BTCUSDT", Threshold: 2, Active: true, CreatedAt: created})
	require.NoError(t, err)
	id2, err := s.InsertAlertRule(ctx, models.AlertRule{Name: "cheap", Condition: models.ConditionPriceBelow, Symbol: "ETHUSDT", Threshold: 1000, Active: true, CreatedAt: created})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	rules, err := s.ListAlertRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, id1, rules[0].ID)
	assert.Equal(t, models.ConditionZScoreAbove, rules[0].Condition)

	for i, id := range []int64{id1, id2, id1} {
		require.NoError(t, s.InsertTriggerEvent(ctx, models.TriggerEvent{
			AlertID:       id,
			Name:          "ev",
			Condition:     models.ConditionZScoreAbove,
			Symbol:        "BTCUSDT",
			ObservedValue: float64(i),
			Timestamp:     created.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := s.ListRecentTriggerEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 2.0, recent[0].ObservedValue)
	assert.Equal(t, 0.0, recent[2].ObservedValue)

	require.NoError(t, s.DeleteAlertRule(ctx, id1))

	recent, err = s.ListRecentTriggerEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, id2, recent[0].AlertID)

	rules, err = s.ListAlertRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	assert.ErrorIs(t, s.DeleteAlertRule(ctx, id1), ErrNotFound)
}

func TestPing(t *testing.T) {
	s := setupStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
