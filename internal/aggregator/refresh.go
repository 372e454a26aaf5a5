package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"analytics/internal/metrics"
	"analytics/internal/models"
)

const (
	minSymbolPoints = 5  // positive prices needed before a symbol is reported
	minPairTicks    = 20 // each leg needs strictly more than this
)

// Refresh recomputes analytics from the current buffers, publishes the new
// snapshot and hands it to the alert evaluator. Concurrent calls are serialized.
func (c *Coordinator) Refresh(ctx context.Context) *models.AnalyticsSnapshot {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	snap := models.NewSnapshot(c.now().UTC())
	now := c.now()

	states := c.states()
	series := make([][]models.Tick, len(states))
	for i, s := range states {
		s.mu.Lock()
		series[i] = s.buf.Snapshot()
		s.mu.Unlock()
	}

	for i, s := range states {
		snap.DataPoints += c.computeSymbol(snap, s, series[i], now)
	}
	snap.Capabilities = metrics.Capabilities(snap.DataPoints)

	if len(states) >= 2 && len(series[0]) > minPairTicks && len(series[1]) > minPairTicks {
		c.computePair(snap, states[0].symbol, states[1].symbol, series[0], series[1])
	}

	c.snapshot.Store(snap)

	latency := float64(time.Since(start).Microseconds()) / 1000
	c.metrics.RecordRefresh(latency, snap.DataPoints)
	c.logger.Debug("refresh_complete",
		"symbols", len(states),
		"data_points", snap.DataPoints,
		"pair", snap.Pair,
		"latency_ms", latency,
	)

	if c.alerts != nil {
		c.alerts.Evaluate(ctx, snap)
	}
	return snap
}

// computeSymbol fills the per-symbol maps and returns the number of valid
// prices it reported, zero for a skipped symbol. A panic inside the statistics
// leaves zero defaults for the symbol so lookups downstream stay defined.
func (c *Coordinator) computeSymbol(snap *models.AnalyticsSnapshot, s *symbolState, ticks []models.Tick, now time.Time) (points int) {
	prices := make([]float64, 0, len(ticks))
	volume := 0.0
	for _, t := range ticks {
		if t.Price > 0 && !math.IsInf(t.Price, 0) {
			prices = append(prices, t.Price)
		}
		volume += t.Quantity
	}
	if len(prices) < minSymbolPoints {
		return 0
	}

	sym := s.symbol
	points = len(prices)
	snap.Price[sym] = prices[len(prices)-1]
	snap.Volume[sym] = volume
	snap.TickCount[sym] = len(ticks)

	defer func() {
		if r := recover(); r != nil {
			snap.ZScore[sym] = 0
			snap.Volatility[sym] = 0
			snap.TickRate[sym] = 0
			c.metrics.RecordError("coordinator", "symbol_panic")
			c.logger.Error("symbol_analytics_failed", "symbol", sym, "panic", fmt.Sprint(r))
		}
	}()

	window := min(c.cfg.Window, len(prices))
	tail := prices[max(0, len(prices)-window-1):]
	snap.ZScore[sym] = metrics.Last(metrics.ZScore(tail, window))
	snap.Volatility[sym] = metrics.Last(metrics.Volatility(metrics.Returns(tail), window))
	snap.TickRate[sym] = s.flow.GetMetrics(now).TicksPerSec
	return points
}

// computePair fills the pair maps for symbol1/symbol2.
func (c *Coordinator) computePair(snap *models.AnalyticsSnapshot, symbol1, symbol2 string, ticks1, ticks2 []models.Tick) {
	key := models.PairKey(symbol1, symbol2)

	defer func() {
		if r := recover(); r != nil {
			snap.HedgeRatio[key] = models.HedgeRatio{Status: models.OutcomeNotComputable}
			snap.Spread[key] = 0
			snap.Correlation[key] = 0
			c.metrics.RecordError("coordinator", "pair_panic")
			c.logger.Error("pair_analytics_failed", "pair", key, "panic", fmt.Sprint(r))
		}
	}()

	y, x := alignedPrices(ticks1), alignedPrices(ticks2)
	if len(y) < metrics.MinHedgePoints || len(x) < metrics.MinHedgePoints {
		return
	}
	n := min(c.cfg.PairWindow, len(y), len(x))
	y, x = y[len(y)-n:], x[len(x)-n:]

	hedge := metrics.HedgeRatio(y, x)
	snap.HedgeRatio[key] = hedge

	if hedge.Beta != 0 {
		spread := metrics.Spread(y, x, hedge.Beta)
		if last := metrics.Last(spread); !math.IsNaN(last) && !math.IsInf(last, 0) {
			snap.Spread[key] = last
		}
		if len(spread) >= metrics.MinStationarityPoints {
			snap.ADFTest[key] = metrics.StationarityTest(spread, metrics.KindSpread)
			snap.ADFTest[models.PriceKey(symbol1)] = metrics.StationarityTest(y, metrics.KindPrice)
			snap.ADFTest[models.PriceKey(symbol2)] = metrics.StationarityTest(x, metrics.KindPrice)
		}
	}

	snap.Correlation[key] = metrics.Last(metrics.Correlation(y, x, min(c.cfg.Window, n)))
	snap.Pair = key
}

// alignedPrices orders ticks by timestamp and keeps the last price per
// timestamp. Non-positive prices are dropped.
func alignedPrices(ticks []models.Tick) []float64 {
	sorted := make([]models.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	out := make([]float64, 0, len(sorted))
	for i, t := range sorted {
		if !(t.Price > 0) || math.IsInf(t.Price, 0) {
			continue
		}
		if i+1 < len(sorted) && sorted[i+1].Timestamp == t.Timestamp {
			continue
		}
		out = append(out, t.Price)
	}
	return out
}
