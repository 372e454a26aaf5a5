package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidTick marks a tick rejected at ingestion.
	ErrInvalidTick = errors.New("invalid tick")
	// ErrInvalidRule marks alert rule input that cannot be accepted.
	ErrInvalidRule = errors.New("invalid alert rule")
	// ErrInvalidCandle marks an OHLCV row that violates candle invariants.
	ErrInvalidCandle = errors.New("invalid candle")
)

// ValidateTick checks the invariants every stored tick must satisfy.
func ValidateTick(t Tick) error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidTick)
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("%w: price must be positive and finite, got %v", ErrInvalidTick, t.Price)
	}
	if t.Quantity < 0 || math.IsNaN(t.Quantity) || math.IsInf(t.Quantity, 0) {
		return fmt.Errorf("%w: quantity must be non-negative, got %v", ErrInvalidTick, t.Quantity)
	}
	if math.IsNaN(t.Timestamp) || math.IsInf(t.Timestamp, 0) {
		return fmt.Errorf("%w: timestamp must be finite", ErrInvalidTick)
	}
	return nil
}

// ValidateRule checks user-supplied alert rule fields.
func ValidateRule(r AlertRule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !r.Condition.Valid() {
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, r.Condition)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRule)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", ErrInvalidRule)
	}
	return nil
}

// ValidateCandle checks OHLCV invariants.
func ValidateCandle(c Candle) error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidCandle)
	}
	for name, v := range map[string]float64{"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidCandle, name, v)
		}
	}
	if c.Volume < 0 || math.IsNaN(c.Volume) {
		return fmt.Errorf("%w: volume must be non-negative", ErrInvalidCandle)
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("%w: low <= open,close <= high violated", ErrInvalidCandle)
	}
	return nil
}
