package models

import "time"

// Condition is the comparison an alert rule applies.
type Condition string

const (
	ConditionZScoreAbove Condition = "zscore_above"
	ConditionZScoreBelow Condition = "zscore_below"
	ConditionPriceAbove  Condition = "price_above"
	ConditionPriceBelow  Condition = "price_below"
)

// Valid reports whether c is one of the supported conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionZScoreAbove, ConditionZScoreBelow, ConditionPriceAbove, ConditionPriceBelow:
		return true
	}
	return false
}

// AlertRule is a user-defined threshold on a per-symbol value.
type AlertRule struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Condition Condition `json:"condition"`
	Symbol    string    `json:"symbol"`
	Threshold float64   `json:"threshold"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggerEvent records a rule firing.
type TriggerEvent struct {
	AlertID       int64     `json:"alert_id"`
	Name          string    `json:"name"`
	Condition     Condition `json:"condition"`
	Symbol        string    `json:"symbol"`
	Threshold     float64   `json:"threshold"`
	ObservedValue float64   `json:"observed_value"`
	Timestamp     time.Time `json:"timestamp"`
}
