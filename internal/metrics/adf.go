package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"analytics/internal/models"
)

// SeriesKind selects the preprocessing applied before a stationarity test.
type SeriesKind string

const (
	KindPrice   SeriesKind = "price"
	KindReturns SeriesKind = "returns"
	KindSpread  SeriesKind = "spread"
)

const (
	// MinStationarityPoints is the raw sample size below which no test runs.
	MinStationarityPoints = 100
	// minCleanPoints is the sample size required after preprocessing.
	minCleanPoints = 50
	outlierSigmas  = 3.0
	significance   = 0.05
)

var errSingular = errors.New("singular regression")

// StationarityTest runs an augmented Dickey-Fuller test with a constant term and
// AIC lag selection. Price series are log-differenced first; outliers beyond
// three standard deviations are dropped.
func StationarityTest(series []float64, kind SeriesKind) models.StationarityResult {
	clean := make([]float64, 0, len(series))
	for _, v := range series {
		if finite(v) {
			clean = append(clean, v)
		}
	}

	if len(clean) < MinStationarityPoints {
		return insufficient(kind, len(clean),
			fmt.Sprintf("insufficient data: %d < %d required", len(clean), MinStationarityPoints))
	}

	sample := clean
	if kind == KindPrice {
		sample = logDiff(clean)
	}
	sample = dropOutliers(sample)

	if len(sample) < minCleanPoints {
		return insufficient(kind, len(sample), "insufficient data after preprocessing")
	}

	res, err := adfuller(sample)
	if err != nil {
		r := insufficient(kind, len(sample), err.Error())
		r.Status = models.OutcomeNotComputable
		return r
	}

	pvalue := mackinnonP(res.stat)
	crit := mackinnonCritical(res.nobs)
	stationary := pvalue < significance && res.stat < crit["5%"]

	return models.StationarityResult{
		Status:         models.OutcomeOK,
		Statistic:      &res.stat,
		PValue:         &pvalue,
		CriticalValues: crit,
		IsStationary:   stationary,
		Confidence:     confidenceLabel(pvalue),
		SampleSize:     len(sample),
		UsedLag:        res.lag,
		TestType:       string(kind),
		Interpretation: models.Interpretation{
			Stationary:    stationary,
			MeanReverting: stationary && kind == KindSpread,
			UnitRoot:      !stationary,
			Reliability:   reliability(len(sample)),
		},
	}
}

func insufficient(kind SeriesKind, size int, msg string) models.StationarityResult {
	return models.StationarityResult{
		Status:         models.OutcomeInsufficientData,
		CriticalValues: map[string]float64{},
		Confidence:     "not significant",
		SampleSize:     size,
		TestType:       string(kind),
		Interpretation: models.Interpretation{UnitRoot: true, Reliability: reliability(size)},
		Message:        msg,
	}
}

func confidenceLabel(p float64) string {
	switch {
	case p < 0.01:
		return "99%"
	case p < 0.05:
		return "95%"
	case p < 0.10:
		return "90%"
	default:
		return "not significant"
	}
}

func reliability(n int) string {
	switch {
	case n > 200:
		return "High"
	case n > 100:
		return "Medium"
	default:
		return "Low"
	}
}

// logDiff returns log(p[i]/p[i-1]) over the positive prices.
func logDiff(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	prev := math.NaN()
	for _, p := range prices {
		if !(p > 0) {
			continue
		}
		if !math.IsNaN(prev) {
			out = append(out, math.Log(p)-math.Log(prev))
		}
		prev = p
	}
	return out
}

// dropOutliers removes values at or beyond outlierSigmas sample deviations from the mean.
func dropOutliers(x []float64) []float64 {
	if len(x) <= 10 {
		return x
	}
	mean, std := stat.MeanStdDev(x, nil)
	if !(std > 0) {
		return x
	}
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if math.Abs(v-mean) < outlierSigmas*std {
			out = append(out, v)
		}
	}
	return out
}

type adfResult struct {
	stat float64
	lag  int
	nobs int
}

// adfuller regresses dx[t] on a constant, x[t-1] and lagged differences.
// Every lag up to maxlag is fitted on the common sample; the lowest AIC wins
// and is refitted on its own, longer sample.
func adfuller(x []float64) (adfResult, error) {
	n := len(x)
	maxlag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	maxlag = min(maxlag, n/2-2)
	if maxlag < 0 {
		return adfResult{}, fmt.Errorf("sample too short for lag selection: %d", n)
	}

	dx := make([]float64, n-1)
	for i := range dx {
		dx[i] = x[i+1] - x[i]
	}

	bestLag, bestAIC := -1, math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		fit, err := ols(adfDesign(x, dx, lag, maxlag))
		if err != nil {
			continue
		}
		if aic := fit.aic(); aic < bestAIC || bestLag < 0 {
			bestLag, bestAIC = lag, aic
		}
	}
	if bestLag < 0 {
		return adfResult{}, errSingular
	}

	fit, err := ols(adfDesign(x, dx, bestLag, bestLag))
	if err != nil {
		return adfResult{}, err
	}

	// column 1 holds the lagged level
	t := fit.coef[1] / fit.se[1]
	if !finite(t) {
		return adfResult{}, errSingular
	}

	return adfResult{stat: t, lag: bestLag, nobs: fit.nobs}, nil
}

// adfDesign builds the regression for lag lagged differences, dropping the
// first trim differences so that models with different lags share a sample.
func adfDesign(x, dx []float64, lag, trim int) (*mat.Dense, *mat.VecDense) {
	nobs := len(dx) - trim
	k := lag + 2
	X := mat.NewDense(nobs, k, nil)
	y := mat.NewVecDense(nobs, nil)
	for r := 0; r < nobs; r++ {
		j := trim + r
		y.SetVec(r, dx[j])
		X.Set(r, 0, 1)
		X.Set(r, 1, x[j])
		for l := 1; l <= lag; l++ {
			X.Set(r, 1+l, dx[j-l])
		}
	}
	return X, y
}

type olsFit struct {
	coef []float64
	se   []float64
	ssr  float64
	nobs int
}

func (f olsFit) aic() float64 {
	n := float64(f.nobs)
	llf := -n / 2 * (math.Log(2*math.Pi) + math.Log(f.ssr/n) + 1)
	return -2*llf + 2*float64(len(f.coef))
}

// ols fits y = X*b by least squares and returns coefficient standard errors.
func ols(X *mat.Dense, y *mat.VecDense) (olsFit, error) {
	nobs, k := X.Dims()
	if nobs <= k {
		return olsFit{}, errSingular
	}

	var b mat.VecDense
	if err := b.SolveVec(X, y); err != nil && !usable(err) {
		return olsFit{}, fmt.Errorf("least squares: %w", err)
	}

	var fitted, resid mat.VecDense
	fitted.MulVec(X, &b)
	resid.SubVec(y, &fitted)
	ssr := mat.Dot(&resid, &resid)

	var xtx, inv mat.Dense
	xtx.Mul(X.T(), X)
	if err := inv.Inverse(&xtx); err != nil && !usable(err) {
		return olsFit{}, fmt.Errorf("covariance: %w", err)
	}

	sigma2 := ssr / float64(nobs-k)
	fit := olsFit{
		coef: make([]float64, k),
		se:   make([]float64, k),
		ssr:  ssr,
		nobs: nobs,
	}
	for i := 0; i < k; i++ {
		fit.coef[i] = b.AtVec(i)
		fit.se[i] = math.Sqrt(sigma2 * inv.At(i, i))
	}
	return fit, nil
}

// usable reports whether a gonum error only warns about conditioning.
func usable(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond) && !math.IsInf(float64(cond), 1)
}
