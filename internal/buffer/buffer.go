// Package buffer holds the bounded per-symbol tick history.
package buffer

import "analytics/internal/models"

// DefaultCapacity is the number of ticks retained per symbol unless configured otherwise.
const DefaultCapacity = 100_000

// TickBuffer is a fixed-capacity FIFO ring of ticks in arrival order.
// It is not safe for concurrent use; callers serialize access.
type TickBuffer struct {
	data     []models.Tick
	head     int // index of the oldest tick once the ring is full
	capacity int
}

// New creates a buffer holding at most capacity ticks.
// Storage grows on demand up to capacity.
func New(capacity int) *TickBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	initial := capacity
	if initial > 1024 {
		initial = 1024
	}
	return &TickBuffer{
		data:     make([]models.Tick, 0, initial),
		capacity: capacity,
	}
}

// Add appends a tick, evicting the oldest one when the buffer is full.
func (b *TickBuffer) Add(t models.Tick) {
	if len(b.data) < b.capacity {
		b.data = append(b.data, t)
		return
	}
	b.data[b.head] = t
	b.head = (b.head + 1) % b.capacity
}

// Len returns the number of ticks held.
func (b *TickBuffer) Len() int {
	return len(b.data)
}

// Cap returns the configured capacity.
func (b *TickBuffer) Cap() int {
	return b.capacity
}

// at returns the i-th tick in chronological order.
func (b *TickBuffer) at(i int) models.Tick {
	if len(b.data) < b.capacity {
		return b.data[i]
	}
	return b.data[(b.head+i)%b.capacity]
}

// RecentN returns a copy of the last n ticks in chronological order.
func (b *TickBuffer) RecentN(n int) []models.Tick {
	if n > len(b.data) {
		n = len(b.data)
	}
	if n <= 0 {
		return []models.Tick{}
	}

	out := make([]models.Tick, n)
	start := len(b.data) - n
	for i := 0; i < n; i++ {
		out[i] = b.at(start + i)
	}
	return out
}

// Snapshot returns a copy of every tick held, oldest first.
func (b *TickBuffer) Snapshot() []models.Tick {
	return b.RecentN(len(b.data))
}

// Since returns a copy of the ticks with timestamp >= ts, in chronological order.
func (b *TickBuffer) Since(ts float64) []models.Tick {
	out := []models.Tick{}
	for i := 0; i < len(b.data); i++ {
		if t := b.at(i); t.Timestamp >= ts {
			out = append(out, t)
		}
	}
	return out
}

// Latest returns the most recent tick.
func (b *TickBuffer) Latest() (models.Tick, bool) {
	if len(b.data) == 0 {
		return models.Tick{}, false
	}
	return b.at(len(b.data) - 1), true
}
