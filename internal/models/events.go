package models

import "time"

// Event types pushed to broadcast listeners.
const (
	EventAnalytics      = "analytics"
	EventAlertTriggered = "alert_triggered"
	EventUploadComplete = "upload_complete"
)

// Event is the envelope delivered to every attached listener.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent wraps data in an envelope stamped with the current time.
func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
}

// UploadSummary is the payload of an upload_complete event.
type UploadSummary struct {
	Symbols   []string           `json:"symbols"`
	Candles   int                `json:"candles"`
	Ticks     int                `json:"ticks"`
	Analytics *AnalyticsSnapshot `json:"analytics,omitempty"`
}
