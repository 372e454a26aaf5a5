// Package resample aggregates ticks into OHLCV candles.
package resample

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"analytics/internal/models"
)

// ErrUnknownTimeframe is returned for a timeframe outside the registry.
var ErrUnknownTimeframe = errors.New("unknown timeframe")

// widths maps each supported timeframe to its bucket width.
var widths = map[models.Timeframe]time.Duration{
	models.Timeframe1s:  time.Second,
	models.Timeframe1m:  time.Minute,
	models.Timeframe5m:  5 * time.Minute,
	models.Timeframe15m: 15 * time.Minute,
	models.Timeframe1h:  time.Hour,
}

// Timeframes lists the supported granularities, finest first.
var Timeframes = []models.Timeframe{
	models.Timeframe1s, models.Timeframe1m, models.Timeframe5m, models.Timeframe15m, models.Timeframe1h,
}

// ParseTimeframe validates a timeframe name.
func ParseTimeframe(name string) (models.Timeframe, error) {
	tf := models.Timeframe(name)
	if _, ok := widths[tf]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTimeframe, name)
	}
	return tf, nil
}

// Width returns the bucket width of tf in milliseconds.
func Width(tf models.Timeframe) (float64, error) {
	d, ok := widths[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTimeframe, tf)
	}
	return float64(d.Milliseconds()), nil
}

// BucketStart returns the start of the bucket containing ts (milliseconds).
func BucketStart(ts, width float64) float64 {
	return math.Floor(ts/width) * width
}

// Resample groups ticks by symbol and aligned time bucket.
// Output is ordered by symbol, then bucket start. Empty buckets are omitted.
// Ticks sharing a timestamp keep their input order when choosing open and close.
func Resample(ticks []models.Tick, tf models.Timeframe) ([]models.Candle, error) {
	width, err := Width(tf)
	if err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return []models.Candle{}, nil
	}

	sorted := slices.Clone(ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	bySymbol := make(map[string][]models.Tick)
	symbols := make([]string, 0)
	for _, t := range sorted {
		if _, ok := bySymbol[t.Symbol]; !ok {
			symbols = append(symbols, t.Symbol)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	sort.Strings(symbols)

	candles := make([]models.Candle, 0)
	for _, symbol := range symbols {
		var current *models.Candle
		for _, t := range bySymbol[symbol] {
			bucket := BucketStart(t.Timestamp, width)
			if current == nil || current.Timestamp != bucket {
				if current != nil {
					candles = append(candles, *current)
				}
				current = &models.Candle{
					Timestamp: bucket,
					Symbol:    symbol,
					Timeframe: tf,
					Open:      t.Price,
					High:      t.Price,
					Low:       t.Price,
				}
			}
			current.High = math.Max(current.High, t.Price)
			current.Low = math.Min(current.Low, t.Price)
			current.Close = t.Price
			current.Volume += t.Quantity
			current.TickCount++
		}
		if current != nil {
			candles = append(candles, *current)
		}
	}

	return candles, nil
}
