package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"analytics/internal/models"
)

// Trading signals derived from the spread's position relative to its mean.
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// AnalyzePair runs the full pair study on two aligned price series:
// hedge ratio, spread statistics, stationarity of the spread and of each leg,
// and a one-standard-deviation entry signal.
func AnalyzePair(symbol1, symbol2 string, y, x []float64, corrWindow int) models.PairDetail {
	n := min(len(y), len(x))
	y, x = y[len(y)-n:], x[len(x)-n:]

	hedge := HedgeRatio(y, x)
	spread := Spread(y, x, hedge.Beta)
	spreadADF := StationarityTest(spread, KindSpread)

	detail := models.PairDetail{
		Symbol1:     symbol1,
		Symbol2:     symbol2,
		DataPoints:  n,
		HedgeRatio:  hedge,
		Correlation: Last(Correlation(y, x, corrWindow)),
		SpreadStats: spreadStats(spread),
		SpreadADF:   spreadADF,
		Symbol1ADF:  StationarityTest(y, KindPrice),
		Symbol2ADF:  StationarityTest(x, KindPrice),
	}
	detail.Cointegrated = spreadADF.IsStationary
	detail.Signal = signal(detail.SpreadStats)
	return detail
}

func spreadStats(spread []float64) models.SpreadStats {
	if len(spread) == 0 {
		return models.SpreadStats{}
	}
	mean, std := stat.MeanStdDev(spread, nil)
	return models.SpreadStats{
		Mean:    roundToDecimal(finiteOr(mean, 0), 8),
		Std:     roundToDecimal(finiteOr(std, 0), 8),
		Min:     roundToDecimal(floats.Min(spread), 8),
		Max:     roundToDecimal(floats.Max(spread), 8),
		Current: roundToDecimal(Last(spread), 8),
	}
}

// signal sells a rich spread and buys a cheap one.
func signal(s models.SpreadStats) string {
	if s.Std <= 0 {
		return SignalHold
	}
	switch dev := s.Current - s.Mean; {
	case dev > s.Std:
		return SignalSell
	case dev < -s.Std:
		return SignalBuy
	default:
		return SignalHold
	}
}

// roundToDecimal rounds a float64 to a specified number of decimal places.
func roundToDecimal(value float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(value*multiplier) / multiplier
}
