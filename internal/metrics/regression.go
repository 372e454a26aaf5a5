package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"analytics/internal/models"
)

// MinHedgePoints is the fewest valid paired observations HedgeRatio will fit.
const MinHedgePoints = 10

// HedgeRatio fits y = alpha + beta*x by ordinary least squares.
// Indices where either value is non-finite or non-positive are dropped.
// With fewer than MinHedgePoints pairs the zero sentinel is returned.
func HedgeRatio(y, x []float64) models.HedgeRatio {
	n := min(len(y), len(x))
	ys := make([]float64, 0, n)
	xs := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if !(y[i] > 0) || !(x[i] > 0) || math.IsInf(y[i], 0) || math.IsInf(x[i], 0) {
			continue
		}
		ys = append(ys, y[i])
		xs = append(xs, x[i])
	}

	if len(ys) < MinHedgePoints {
		return models.HedgeRatio{Status: models.OutcomeInsufficientData}
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)

	status := models.OutcomeOK
	if !finite(beta) || !finite(alpha) {
		status = models.OutcomeNotComputable
	}

	return models.HedgeRatio{
		Beta:     finiteOr(beta, 0),
		Alpha:    finiteOr(alpha, 0),
		RSquared: finiteOr(r2, 0),
		Status:   status,
	}
}

// Spread returns y - beta*x elementwise over the common length.
func Spread(y, x []float64, beta float64) []float64 {
	n := min(len(y), len(x))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = y[i] - beta*x[i]
	}
	return out
}
