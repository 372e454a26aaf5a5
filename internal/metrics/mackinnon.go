package metrics

import "gonum.org/v1/gonum/stat/distuv"

// MacKinnon (1994) response surface for the Dickey-Fuller tau statistic,
// one integrated series, constant-only regression.
const (
	tauMax  = 2.74
	tauMin  = -18.83
	tauStar = -1.61
)

var (
	tauSmallP = []float64{2.1659, 1.4412, 0.038269}
	tauLargeP = []float64{1.7339, 0.93202, -0.12745, -0.010368}
)

// MacKinnon (2010) critical value surface, constant-only regression:
// crit(nobs) = b0 + b1/nobs + b2/nobs^2 + b3/nobs^3.
var tauCritical = []struct {
	level string
	coef  []float64
}{
	{"1%", []float64{-3.43035, -6.5393, -16.786, -79.433}},
	{"5%", []float64{-2.86154, -2.8903, -4.234, -40.040}},
	{"10%", []float64{-2.56677, -1.5384, -2.809, 0}},
}

// polyval evaluates coef[0] + coef[1]*x + coef[2]*x^2 + ...
func polyval(coef []float64, x float64) float64 {
	v := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*x + coef[i]
	}
	return v
}

// mackinnonP approximates the p-value of an ADF statistic.
func mackinnonP(stat float64) float64 {
	switch {
	case stat > tauMax:
		return 1
	case stat < tauMin:
		return 0
	case stat <= tauStar:
		return distuv.UnitNormal.CDF(polyval(tauSmallP, stat))
	default:
		return distuv.UnitNormal.CDF(polyval(tauLargeP, stat))
	}
}

// mackinnonCritical returns the 1%, 5% and 10% critical values for nobs observations.
func mackinnonCritical(nobs int) map[string]float64 {
	out := make(map[string]float64, len(tauCritical))
	inv := 1 / float64(nobs)
	for _, c := range tauCritical {
		out[c.level] = polyval(c.coef, inv)
	}
	return out
}
