package metrics

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics/internal/models"
)

func TestAnalyzePairCointegrated(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n := 300
	x := make([]float64, n)
	y := make([]float64, n)
	level := 100.0
	for i := 0; i < n; i++ {
		level += rng.NormFloat64()
		x[i] = level
		y[i] = 5 + 2*level + 0.5*rng.NormFloat64()
	}

	got := AnalyzePair("ETHUSDT", "BTCUSDT", y, x, 20)

	assert.Equal(t, n, got.DataPoints)
	assert.Equal(t, models.OutcomeOK, got.HedgeRatio.Status)
	assert.InDelta(t, 2.0, got.HedgeRatio.Beta, 0.1)
	require.Equal(t, models.OutcomeOK, got.SpreadADF.Status)
	assert.True(t, got.Cointegrated)
	assert.Contains(t, []string{SignalBuy, SignalSell, SignalHold}, got.Signal)
	assert.LessOrEqual(t, got.SpreadStats.Min, got.SpreadStats.Current)
	assert.GreaterOrEqual(t, got.SpreadStats.Max, got.SpreadStats.Current)
}

func TestSignal(t *testing.T) {
	tests := []struct {
		stats models.SpreadStats
		want  string
	}{
		{models.SpreadStats{Mean: 1, Std: 0.5, Current: 1.6}, SignalSell},
		{models.SpreadStats{Mean: 1, Std: 0.5, Current: 0.4}, SignalBuy},
		{models.SpreadStats{Mean: 1, Std: 0.5, Current: 1.2}, SignalHold},
		{models.SpreadStats{Mean: 1, Std: 0, Current: 9}, SignalHold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, signal(tt.stats))
	}
}

func TestFlowTracker(t *testing.T) {
	ft := NewFlowTracker()
	now := time.Unix(1_700_000_000, 0)

	ft.RecordTick(now.Add(-40*time.Second), 100)
	for i := 0; i < 20; i++ {
		ft.RecordTick(now.Add(-time.Duration(i)*250*time.Millisecond), 1)
	}
	ft.RecordTick(now.Add(-20*time.Second), 5)

	m := ft.GetMetrics(now)
	assert.InDelta(t, 2.0, m.TicksPerSec, 1e-9)
	assert.InDelta(t, 25.0, m.Volume, 1e-9)
}
