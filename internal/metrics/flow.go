package metrics

import (
	"sync"
	"time"
)

const (
	rateWindow   = 10 * time.Second
	volumeWindow = 30 * time.Second
)

// FlowTracker tracks tick arrival activity for one symbol over short wall-clock windows.
type FlowTracker struct {
	mu sync.RWMutex

	// Rolling window of arrivals; the last rateWindow drives TicksPerSec,
	// the last volumeWindow drives Volume.
	arrivals []arrival
}

type arrival struct {
	at       time.Time
	quantity float64
}

// FlowMetrics contains calculated flow metrics.
type FlowMetrics struct {
	TicksPerSec float64
	Volume      float64
}

// NewFlowTracker creates a new flow tracker.
func NewFlowTracker() *FlowTracker {
	return &FlowTracker{
		arrivals: make([]arrival, 0, 1000),
	}
}

// RecordTick records a tick arriving at the given wall-clock time.
func (ft *FlowTracker) RecordTick(at time.Time, quantity float64) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.arrivals = append(ft.arrivals, arrival{at: at, quantity: quantity})
	ft.prune(at)
}

// prune removes arrivals older than the widest window.
func (ft *FlowTracker) prune(now time.Time) {
	cutoff := now.Add(-volumeWindow)

	keepIdx := 0
	for keepIdx < len(ft.arrivals) && ft.arrivals[keepIdx].at.Before(cutoff) {
		keepIdx++
	}

	if keepIdx > 0 {
		ft.arrivals = ft.arrivals[keepIdx:]
	}
}

// GetMetrics returns the tick rate over the last 10 seconds and the
// traded quantity over the last 30 seconds.
func (ft *FlowTracker) GetMetrics(now time.Time) FlowMetrics {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	rateCutoff := now.Add(-rateWindow)
	volumeCutoff := now.Add(-volumeWindow)

	var count int
	var volume float64
	for _, a := range ft.arrivals {
		if a.at.After(now) {
			continue
		}
		if !a.at.Before(rateCutoff) {
			count++
		}
		if !a.at.Before(volumeCutoff) {
			volume += a.quantity
		}
	}

	return FlowMetrics{
		TicksPerSec: float64(count) / rateWindow.Seconds(),
		Volume:      volume,
	}
}
