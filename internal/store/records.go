package store

import (
	"time"

	"analytics/internal/models"
)

type tickRecord struct {
	ID        uint    `gorm:"primaryKey"`
	Symbol    string  `gorm:"size:32;not null;index:idx_ticks_symbol_ts,priority:1"`
	Timestamp float64 `gorm:"not null;index:idx_ticks_symbol_ts,priority:2"`
	Price     float64 `gorm:"not null"`
	Quantity  float64 `gorm:"not null;default:0"`
}

func (tickRecord) TableName() string { return "ticks" }

func (r tickRecord) model() models.Tick {
	return models.Tick{Timestamp: r.Timestamp, Symbol: r.Symbol, Price: r.Price, Quantity: r.Quantity}
}

type candleRecord struct {
	ID        uint    `gorm:"primaryKey"`
	Symbol    string  `gorm:"size:32;not null;uniqueIndex:idx_candles_key,priority:1"`
	Timeframe string  `gorm:"size:8;not null;uniqueIndex:idx_candles_key,priority:2"`
	Timestamp float64 `gorm:"not null;uniqueIndex:idx_candles_key,priority:3"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	TickCount int
}

func (candleRecord) TableName() string { return "candles" }

func (r candleRecord) model() models.Candle {
	return models.Candle{
		Timestamp: r.Timestamp,
		Symbol:    r.Symbol,
		Timeframe: models.Timeframe(r.Timeframe),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		TickCount: r.TickCount,
	}
}

type alertRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:128;not null"`
	Condition string `gorm:"size:32;not null"`
	Symbol    string `gorm:"size:32;not null"`
	Threshold float64
	Active    bool
	CreatedAt time.Time
}

func (alertRecord) TableName() string { return "alerts" }

func (r alertRecord) model() models.AlertRule {
	return models.AlertRule{
		ID:        r.ID,
		Name:      r.Name,
		Condition: models.Condition(r.Condition),
		Symbol:    r.Symbol,
		Threshold: r.Threshold,
		Active:    r.Active,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type triggerRecord struct {
	ID            uint  `gorm:"primaryKey"`
	AlertID       int64 `gorm:"not null;index"`
	Name          string
	Condition     string
	Symbol        string
	Threshold     float64
	ObservedValue float64
	Timestamp     time.Time `gorm:"not null;index"`
}

func (triggerRecord) TableName() string { return "alert_history" }

func (r triggerRecord) model() models.TriggerEvent {
	return models.TriggerEvent{
		AlertID:       r.AlertID,
		Name:          r.Name,
		Condition:     models.Condition(r.Condition),
		Symbol:        r.Symbol,
		Threshold:     r.Threshold,
		ObservedValue: r.ObservedValue,
		Timestamp:     r.Timestamp.UTC(),
	}
}
