package models

import "time"

// Outcome tags the result of a statistical routine.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeInsufficientData Outcome = "insufficient_data"
	OutcomeNotComputable    Outcome = "not_computable"
)

// HedgeRatio is the OLS fit y = alpha + beta*x.
type HedgeRatio struct {
	Beta     float64 `json:"beta"`
	Alpha    float64 `json:"alpha"`
	RSquared float64 `json:"r_squared"`
	Status   Outcome `json:"status"`
}

// Interpretation summarizes a stationarity result for clients.
type Interpretation struct {
	Stationary    bool   `json:"stationary"`
	MeanReverting bool   `json:"mean_reverting"`
	UnitRoot      bool   `json:"unit_root"`
	Reliability   string `json:"reliability"`
}

// StationarityResult is the outcome of an augmented Dickey-Fuller test.
// Statistic and PValue are nil when the test could not run.
type StationarityResult struct {
	Status         Outcome            `json:"status"`
	Statistic      *float64           `json:"adf_statistic"`
	PValue         *float64           `json:"p_value"`
	CriticalValues map[string]float64 `json:"critical_values"`
	IsStationary   bool               `json:"is_stationary"`
	Confidence     string             `json:"confidence"`
	SampleSize     int                `json:"sample_size"`
	UsedLag        int                `json:"used_lag"`
	TestType       string             `json:"test_type"`
	Interpretation Interpretation     `json:"interpretation"`
	Message        string             `json:"message,omitempty"`
}

// AnalyticsSnapshot is the immutable output of one refresh cycle.
// Per-symbol maps are keyed by symbol, pair maps by PairKey.
type AnalyticsSnapshot struct {
	Timestamp    time.Time                     `json:"timestamp"`
	Price        map[string]float64            `json:"price"`
	Volume       map[string]float64            `json:"volume"`
	ZScore       map[string]float64            `json:"zscore"`
	Volatility   map[string]float64            `json:"volatility"`
	TickCount    map[string]int                `json:"tick_count"`
	TickRate     map[string]float64            `json:"tick_rate"`
	Spread       map[string]float64            `json:"spread"`
	Correlation  map[string]float64            `json:"correlation"`
	HedgeRatio   map[string]HedgeRatio         `json:"hedge_ratio"`
	ADFTest      map[string]StationarityResult `json:"adf_test"`
	DataPoints   int                           `json:"data_points"`
	Capabilities map[string]bool               `json:"capabilities"`
	Pair         string                        `json:"pair,omitempty"`
}

// NewSnapshot returns a snapshot with every map allocated.
func NewSnapshot(ts time.Time) *AnalyticsSnapshot {
	return &AnalyticsSnapshot{
		Timestamp:    ts,
		Price:        make(map[string]float64),
		Volume:       make(map[string]float64),
		ZScore:       make(map[string]float64),
		Volatility:   make(map[string]float64),
		TickCount:    make(map[string]int),
		TickRate:     make(map[string]float64),
		Spread:       make(map[string]float64),
		Correlation:  make(map[string]float64),
		HedgeRatio:   make(map[string]HedgeRatio),
		ADFTest:      make(map[string]StationarityResult),
		Capabilities: make(map[string]bool),
	}
}

// PairKey is the map key used for pair analytics.
func PairKey(symbol1, symbol2 string) string {
	return symbol1 + "_" + symbol2
}

// PriceKey is the map key of a single leg's price stationarity test.
func PriceKey(symbol string) string {
	return symbol + "_price"
}

// Filter returns a copy restricted to the given symbols and the pair they form.
// The receiver is not modified.
func (s *AnalyticsSnapshot) Filter(symbols ...string) *AnalyticsSnapshot {
	out := NewSnapshot(s.Timestamp)
	out.DataPoints = s.DataPoints
	for k, v := range s.Capabilities {
		out.Capabilities[k] = v
	}

	keep := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		keep[sym] = true
	}

	for sym := range keep {
		if v, ok := s.Price[sym]; ok {
			out.Price[sym] = v
		}
		if v, ok := s.Volume[sym]; ok {
			out.Volume[sym] = v
		}
		if v, ok := s.ZScore[sym]; ok {
			out.ZScore[sym] = v
		}
		if v, ok := s.Volatility[sym]; ok {
			out.Volatility[sym] = v
		}
		if v, ok := s.TickCount[sym]; ok {
			out.TickCount[sym] = v
		}
		if v, ok := s.TickRate[sym]; ok {
			out.TickRate[sym] = v
		}
		if v, ok := s.ADFTest[PriceKey(sym)]; ok {
			out.ADFTest[PriceKey(sym)] = v
		}
	}

	if len(symbols) == 2 {
		for _, key := range []string{PairKey(symbols[0], symbols[1]), PairKey(symbols[1], symbols[0])} {
			if v, ok := s.Spread[key]; ok {
				out.Spread[key] = v
			}
			if v, ok := s.Correlation[key]; ok {
				out.Correlation[key] = v
			}
			if v, ok := s.HedgeRatio[key]; ok {
				out.HedgeRatio[key] = v
			}
			if v, ok := s.ADFTest[key]; ok {
				out.ADFTest[key] = v
				out.Pair = key
			}
			if _, ok := s.Spread[key]; ok {
				out.Pair = key
			}
		}
	}

	return out
}

// PairDetail is the on-demand analysis of one symbol pair.
type PairDetail struct {
	Symbol1      string             `json:"symbol1"`
	Symbol2      string             `json:"symbol2"`
	DataPoints   int                `json:"data_points"`
	HedgeRatio   HedgeRatio         `json:"hedge_ratio"`
	Correlation  float64            `json:"correlation"`
	SpreadStats  SpreadStats        `json:"spread_statistics"`
	SpreadADF    StationarityResult `json:"spread_adf"`
	Symbol1ADF   StationarityResult `json:"symbol1_adf"`
	Symbol2ADF   StationarityResult `json:"symbol2_adf"`
	Cointegrated bool               `json:"cointegrated"`
	Signal       string             `json:"trading_signal"`
}

// SpreadStats summarizes a spread series.
type SpreadStats struct {
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
}
