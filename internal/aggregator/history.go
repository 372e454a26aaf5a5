package aggregator

import (
	"context"
	"fmt"
	"sort"

	"analytics/internal/metrics"
	"analytics/internal/models"
	"analytics/internal/resample"
)

const (
	pairDetailMinTicks = 200
	pairDetailPoints   = 1000
)

// LoadHistory persists uploaded 1m candles, replays them into the buffers as
// one synthetic tick per candle, refreshes once and announces the upload.
// Invalid candles are skipped.
func (c *Coordinator) LoadHistory(ctx context.Context, candles []models.Candle) (models.UploadSummary, error) {
	sorted := make([]models.Candle, 0, len(candles))
	for _, candle := range candles {
		candle.Symbol = models.NormalizeSymbol(candle.Symbol)
		candle.Timeframe = models.Timeframe1m
		if err := models.ValidateCandle(candle); err != nil {
			c.logger.Warn("candle_rejected", "symbol", candle.Symbol, "timestamp", candle.Timestamp, "error", err)
			continue
		}
		sorted = append(sorted, candle)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	summary := models.UploadSummary{Symbols: []string{}}
	seen := make(map[string]bool)
	for _, candle := range sorted {
		if c.store != nil {
			if err := c.store.InsertCandle(ctx, candle, models.Timeframe1m); err != nil {
				c.metrics.RecordError("store", "insert_candle")
				return summary, fmt.Errorf("store candle %s@%.0f: %w", candle.Symbol, candle.Timestamp, err)
			}
		}
		summary.Candles++

		c.add(models.Tick{
			Timestamp: candle.Timestamp,
			Symbol:    candle.Symbol,
			Price:     candle.Close,
			Quantity:  candle.Volume,
		}, true)
		summary.Ticks++

		if !seen[candle.Symbol] {
			seen[candle.Symbol] = true
			summary.Symbols = append(summary.Symbols, candle.Symbol)
		}
	}

	summary.Analytics = c.Refresh(ctx)
	if c.publisher != nil {
		c.publisher.Publish(models.NewEvent(models.EventUploadComplete, summary))
	}
	c.logger.Info("history_loaded", "symbols", summary.Symbols, "candles", summary.Candles)
	return summary, nil
}

// HistoricalCandles returns up to limit candles, oldest first. Stored candles
// win; otherwise they are rebuilt from the in-memory buffer.
func (c *Coordinator) HistoricalCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	symbol = models.NormalizeSymbol(symbol)
	if _, err := resample.Width(tf); err != nil {
		return nil, err
	}

	if c.store != nil {
		stored, err := c.store.QueryCandles(ctx, symbol, tf, limit)
		if err != nil {
			c.logger.Warn("candle_query_failed", "symbol", symbol, "timeframe", tf, "error", err)
		} else if len(stored) > 0 {
			return stored, nil
		}
	}

	s, ok := c.lookup(symbol)
	if !ok {
		return []models.Candle{}, nil
	}
	s.mu.Lock()
	ticks := s.buf.Snapshot()
	s.mu.Unlock()

	candles, err := resample.Resample(ticks, tf)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// PairDetail runs the full pair study on the latest ticks of two symbols.
func (c *Coordinator) PairDetail(symbol1, symbol2 string) (models.PairDetail, error) {
	symbol1, symbol2 = models.NormalizeSymbol(symbol1), models.NormalizeSymbol(symbol2)

	var legs [2][]float64
	for i, sym := range []string{symbol1, symbol2} {
		s, ok := c.lookup(sym)
		if !ok {
			return models.PairDetail{}, fmt.Errorf("%s: %w", sym, ErrUnknownSymbol)
		}
		s.mu.Lock()
		ticks := s.buf.RecentN(pairDetailPoints)
		s.mu.Unlock()
		if len(ticks) < pairDetailMinTicks {
			return models.PairDetail{}, fmt.Errorf("%s has %d ticks, need %d: %w",
				sym, len(ticks), pairDetailMinTicks, ErrInsufficientData)
		}
		legs[i] = alignedPrices(ticks)
	}

	return metrics.AnalyzePair(symbol1, symbol2, legs[0], legs[1], c.cfg.Window), nil
}
