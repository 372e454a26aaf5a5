package metrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics/internal/models"
)

func whiteNoise(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func TestStationarityTestInsufficientRawPoints(t *testing.T) {
	for _, kind := range []SeriesKind{KindPrice, KindReturns, KindSpread} {
		got := StationarityTest(whiteNoise(3, 99), kind)

		assert.Equal(t, models.OutcomeInsufficientData, got.Status)
		assert.False(t, got.IsStationary)
		assert.Nil(t, got.Statistic)
		assert.Nil(t, got.PValue)
		assert.Equal(t, 99, got.SampleSize)
		assert.NotEmpty(t, got.Message)
	}
}

func TestStationarityTestNonFiniteValuesDoNotCount(t *testing.T) {
	series := whiteNoise(4, 100)
	series[3] = math.NaN()

	got := StationarityTest(series, KindSpread)
	assert.Equal(t, models.OutcomeInsufficientData, got.Status)
}

func TestStationarityTestInsufficientAfterPreprocessing(t *testing.T) {
	prices := make([]float64, 100)
	for i := range prices {
		prices[i] = -1
		if i%10 < 3 {
			prices[i] = 100 + float64(i)
		}
	}

	got := StationarityTest(prices, KindPrice)

	assert.Equal(t, models.OutcomeInsufficientData, got.Status)
	assert.False(t, got.IsStationary)
	assert.Nil(t, got.Statistic)
	assert.Less(t, got.SampleSize, minCleanPoints)
	assert.Contains(t, got.Message, "after preprocessing")
}

func TestStationarityTestWhiteNoiseIsStationary(t *testing.T) {
	got := StationarityTest(whiteNoise(42, 300), KindSpread)

	require.Equal(t, models.OutcomeOK, got.Status)
	require.NotNil(t, got.Statistic)
	require.NotNil(t, got.PValue)
	assert.True(t, got.IsStationary)
	assert.True(t, got.Interpretation.MeanReverting)
	assert.False(t, got.Interpretation.UnitRoot)
	assert.Equal(t, "99%", got.Confidence)
	assert.Less(t, *got.Statistic, got.CriticalValues["5%"])
	assert.Contains(t, got.CriticalValues, "1%")
	assert.Contains(t, got.CriticalValues, "10%")
	assert.Equal(t, "High", got.Interpretation.Reliability)
}

func TestStationarityTestTrendingSeriesHasUnitRoot(t *testing.T) {
	noise := whiteNoise(11, 300)
	series := make([]float64, len(noise))
	for i := range series {
		series[i] = float64(i) + noise[i]
	}

	got := StationarityTest(series, KindSpread)

	require.Equal(t, models.OutcomeOK, got.Status)
	assert.False(t, got.IsStationary)
	assert.False(t, got.Interpretation.MeanReverting)
	assert.True(t, got.Interpretation.UnitRoot)
}

func TestStationarityTestPriceKindTestsReturns(t *testing.T) {
	noise := whiteNoise(5, 250)
	prices := make([]float64, len(noise))
	p := 100.0
	for i := range prices {
		p *= math.Exp(0.01 * noise[i])
		prices[i] = p
	}

	got := StationarityTest(prices, KindPrice)

	require.Equal(t, models.OutcomeOK, got.Status)
	assert.True(t, got.IsStationary)
	assert.Equal(t, "price", got.TestType)
	// a stationary price series is not labelled mean reverting
	assert.False(t, got.Interpretation.MeanReverting)
	assert.Less(t, got.SampleSize, 250)
}

func TestStationarityTestConstantSeriesIsNotStationary(t *testing.T) {
	series := make([]float64, 150)
	for i := range series {
		series[i] = 1
	}

	got := StationarityTest(series, KindSpread)
	assert.False(t, got.IsStationary)
	assert.Nil(t, got.Statistic)
}

func TestMacKinnonPValue(t *testing.T) {
	assert.Equal(t, 1.0, mackinnonP(3))
	assert.Equal(t, 0.0, mackinnonP(-20))
	assert.InDelta(t, 0.05, mackinnonP(-2.86), 0.005)

	prev := 0.0
	for s := -18.0; s < 2.7; s += 0.1 {
		p := mackinnonP(s)
		assert.GreaterOrEqual(t, p, prev-1e-9)
		prev = p
	}
}

func TestMacKinnonCritical(t *testing.T) {
	crit := mackinnonCritical(250)
	assert.InDelta(t, -2.8732, crit["5%"], 0.001)
	assert.Less(t, crit["1%"], crit["5%"])
	assert.Less(t, crit["5%"], crit["10%"])
}

func TestConfidenceLabel(t *testing.T) {
	assert.Equal(t, "99%", confidenceLabel(0.001))
	assert.Equal(t, "95%", confidenceLabel(0.02))
	assert.Equal(t, "90%", confidenceLabel(0.07))
	assert.Equal(t, "not significant", confidenceLabel(0.5))
}
