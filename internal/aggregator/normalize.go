package aggregator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"analytics/internal/models"
)

// Field names probed, in priority order, when normalizing a raw tick.
var (
	symbolFields    = []string{"symbol", "s"}
	timestampFields = []string{"ts", "timestamp", "time", "T"}
	priceFields     = []string{"price", "p", "last", "lastPrice"}
	quantityFields  = []string{"size", "quantity", "q", "qty", "volume", "v"}
)

// Magnitude thresholds for numeric timestamps: above nanosThreshold the value
// is nanoseconds, above millisThreshold milliseconds, otherwise seconds.
const (
	nanosThreshold  = 1e12
	millisThreshold = 1e10
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Rejection reasons, also used as the rejected-ticks metric label.
const (
	ReasonMissingSymbol    = "missing_symbol"
	ReasonNonPositivePrice = "non_positive_price"
	ReasonNegativeQuantity = "negative_quantity"
	ReasonBadTimestamp     = "invalid_timestamp"
	ReasonInvalidTick      = "invalid_tick"
)

// RejectionError describes why a raw tick was dropped.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("tick rejected (%s): %s", e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return models.ErrInvalidTick
}

func reject(reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// NormalizeTick maps a loosely-typed tick payload onto a Tick.
// A missing timestamp defaults to now.
func NormalizeTick(raw map[string]any, now time.Time) (models.Tick, error) {
	var tick models.Tick

	for _, f := range symbolFields {
		if s, ok := raw[f].(string); ok && strings.TrimSpace(s) != "" {
			tick.Symbol = models.NormalizeSymbol(s)
			break
		}
	}
	if tick.Symbol == "" {
		return models.Tick{}, reject(ReasonMissingSymbol, "no symbol field")
	}

	ts, err := normalizeTimestamp(raw, now)
	if err != nil {
		return models.Tick{}, err
	}
	tick.Timestamp = ts

	// keep probing until a positive price turns up
	price := 0.0
	for _, f := range priceFields {
		if v, ok := raw[f]; ok {
			if p, ok := toFloat(v); ok {
				price = p
				if p > 0 {
					break
				}
			}
		}
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return models.Tick{}, reject(ReasonNonPositivePrice, "price %v for %s", price, tick.Symbol)
	}
	tick.Price = price

	for _, f := range quantityFields {
		if v, ok := raw[f]; ok {
			if q, ok := toFloat(v); ok {
				tick.Quantity = q
				break
			}
		}
	}
	if tick.Quantity < 0 || math.IsNaN(tick.Quantity) || math.IsInf(tick.Quantity, 0) {
		return models.Tick{}, reject(ReasonNegativeQuantity, "quantity %v for %s", tick.Quantity, tick.Symbol)
	}

	return tick, nil
}

func normalizeTimestamp(raw map[string]any, now time.Time) (float64, error) {
	for _, f := range timestampFields {
		v, ok := raw[f]
		if !ok || v == nil {
			continue
		}

		if s, ok := v.(string); ok {
			return ParseTimestamp(s)
		}

		t, ok := toFloat(v)
		if !ok || math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, reject(ReasonBadTimestamp, "unparseable %s=%v", f, v)
		}
		return NormalizeEpoch(t), nil
	}
	return float64(now.UnixMilli()), nil
}

// NormalizeEpoch converts a numeric timestamp in s, ms or ns to milliseconds.
func NormalizeEpoch(t float64) float64 {
	switch {
	case t > nanosThreshold:
		return t / 1e6
	case t > millisThreshold:
		return t
	default:
		return t * 1000
	}
}

// ParseTimestamp reads a numeric epoch in s, ms or ns, or an ISO-8601 string,
// and returns milliseconds.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if t, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, reject(ReasonBadTimestamp, "non-finite timestamp %q", s)
		}
		return NormalizeEpoch(t), nil
	}
	return parseISO(s)
}

// ParseMillis reads a numeric epoch already in milliseconds, or an ISO-8601
// string. Uploads and export filters use it; no unit guessing applies.
func ParseMillis(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if t, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, reject(ReasonBadTimestamp, "non-finite timestamp %q", s)
		}
		return t, nil
	}
	return parseISO(s)
}

func parseISO(s string) (float64, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / 1e6, nil
		}
	}
	return 0, reject(ReasonBadTimestamp, "unparseable timestamp %q", s)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
