// Package metrics holds the stateless statistical routines behind each analytics refresh.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// annualization converts per-observation volatility to a yearly figure.
var annualization = math.Sqrt(252)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finiteOr returns v, or fallback when v is NaN or infinite.
func finiteOr(v, fallback float64) float64 {
	if finite(v) {
		return v
	}
	return fallback
}

// windowStart returns the first index of the rolling window ending at i.
func windowStart(i, window int) int {
	if window < 1 {
		window = 1
	}
	if lo := i - window + 1; lo > 0 {
		return lo
	}
	return 0
}

// Returns computes log returns between consecutive positive prices.
// The output is aligned with prices; positions without a defined return hold 0.
func Returns(prices []float64) []float64 {
	out := make([]float64, len(prices))
	prev := math.NaN()
	for i, p := range prices {
		if !(p > 0) || math.IsInf(p, 0) {
			continue
		}
		if !math.IsNaN(prev) {
			out[i] = finiteOr(math.Log(p/prev), 0)
		}
		prev = p
	}
	return out
}

// Volatility is the rolling sample standard deviation of returns scaled by sqrt(252).
// Early entries use whatever history exists; undefined values are 0.
func Volatility(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	for i := range returns {
		w := returns[windowStart(i, window) : i+1]
		if len(w) < 2 {
			continue
		}
		out[i] = finiteOr(stat.StdDev(w, nil)*annualization, 0)
	}
	return out
}

// ZScore standardizes each value against its rolling mean and standard deviation.
// A zero or undefined deviation yields 0.
func ZScore(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i, x := range series {
		w := series[windowStart(i, window) : i+1]
		if len(w) < 2 {
			continue
		}
		mean, std := stat.MeanStdDev(w, nil)
		if !(std > 0) || !finite(std) {
			continue
		}
		out[i] = finiteOr((x-mean)/std, 0)
	}
	return out
}

// Correlation is the rolling Pearson correlation of a and b.
// Series of unequal length are truncated to the shorter one.
func Correlation(a, b []float64, window int) []float64 {
	n := min(len(a), len(b))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		lo := windowStart(i, window)
		if i-lo < 1 {
			continue
		}
		out[i] = finiteOr(stat.Correlation(a[lo:i+1], b[lo:i+1], nil), 0)
	}
	return out
}

// Last returns the final element of s, or 0 for an empty slice.
func Last(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}
