package metrics

// capabilityThresholds gates client features on the total number of buffered points.
var capabilityThresholds = []struct {
	name string
	min  int
}{
	{"basic_price_tracking", 1},
	{"volume_analysis", 10},
	{"zscore_calculation", 20},
	{"volatility_metrics", 50},
	{"correlation_analysis", 100},
	{"spread_trading", 100},
	{"hedge_ratio_calc", 150},
	{"adf_stationarity", 200},
	{"full_historical_charts", 200},
}

// Capabilities reports which features are enabled at the given data volume.
func Capabilities(dataPoints int) map[string]bool {
	caps := make(map[string]bool, len(capabilityThresholds))
	for _, c := range capabilityThresholds {
		caps[c.name] = dataPoints >= c.min
	}
	return caps
}
