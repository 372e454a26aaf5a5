package metrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertAllFinite(t *testing.T, values []float64) {
	t.Helper()
	for i, v := range values {
		require.Falsef(t, math.IsNaN(v) || math.IsInf(v, 0), "index %d is %v", i, v)
	}
}

func TestReturns(t *testing.T) {
	got := Returns([]float64{100, 0, 110, -5, 121})

	require.Len(t, got, 5)
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 0.0, got[1])
	assert.InDelta(t, math.Log(1.1), got[2], 1e-12)
	assert.Equal(t, 0.0, got[3])
	assert.InDelta(t, math.Log(1.1), got[4], 1e-12)

	assert.Empty(t, Returns(nil))
	assert.Equal(t, []float64{0}, Returns([]float64{5}))
}

func TestVolatility(t *testing.T) {
	constant := Volatility([]float64{0.01, 0.01, 0.01, 0.01}, 3)
	assert.Equal(t, []float64{0, 0, 0, 0}, constant)

	r := []float64{0, 0.01, -0.01, 0.02}
	vol := Volatility(r, 20)
	assert.Equal(t, 0.0, vol[0])
	want := math.Sqrt((0.005*0.005+0.005*0.005+0.015*0.015+0.015*0.015)/3) * math.Sqrt(252)
	assert.InDelta(t, want, vol[3], 1e-12)
}

func TestZScoreZeroDeviationIsExactlyZero(t *testing.T) {
	got := ZScore([]float64{5, 5, 5, 5, 5}, 3)
	for _, v := range got {
		assert.Equal(t, 0.0, v)
	}
}

func TestZScorePositiveAboveMean(t *testing.T) {
	series := make([]float64, 25)
	for i := range series {
		series[i] = float64(100 + i)
	}
	z := ZScore(series, 20)
	assert.Greater(t, Last(z), 0.0)
}

func TestZScoreAndCorrelationAlwaysFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := make([]float64, 200)
	b := make([]float64, 200)
	for i := range a {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
	}
	a[10] = math.NaN()
	a[50] = math.Inf(1)
	for i := 100; i < 130; i++ {
		b[i] = 7
	}

	for _, w := range []int{1, 2, 5, 20, 500} {
		assertAllFinite(t, ZScore(a, w))
		assertAllFinite(t, ZScore(b, w))
		assertAllFinite(t, Correlation(a, b, w))
		assertAllFinite(t, Volatility(Returns(a), w))
	}
}

func TestCorrelation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{2, 4, 6, 8, 10, 12, 99}

	got := Correlation(a, b, 4)
	require.Len(t, got, 6)
	assert.Equal(t, 0.0, got[0])
	assert.InDelta(t, 1.0, got[5], 1e-12)

	inverse := Correlation(a, []float64{6, 5, 4, 3, 2, 1}, 6)
	assert.InDelta(t, -1.0, Last(inverse), 1e-12)

	flat := Correlation(a, []float64{3, 3, 3, 3, 3, 3}, 6)
	assert.Equal(t, 0.0, Last(flat))
}

func TestLast(t *testing.T) {
	assert.Equal(t, 0.0, Last(nil))
	assert.Equal(t, 3.0, Last([]float64{1, 2, 3}))
}
