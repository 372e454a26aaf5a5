package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"analytics/internal/models"
)

// QueueListener buffers events in a bounded channel for a connection handler
// to drain. Only the owning handler reads Events.
type QueueListener struct {
	id     string
	events chan models.Event
	done   chan struct{}
	once   sync.Once
}

// NewQueueListener creates a listener with a queue of size events.
func NewQueueListener(size int) *QueueListener {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &QueueListener{
		id:     uuid.NewString(),
		events: make(chan models.Event, size),
		done:   make(chan struct{}),
	}
}

func (l *QueueListener) ID() string { return l.id }

// Send enqueues without blocking.
func (l *QueueListener) Send(event models.Event) error {
	select {
	case <-l.done:
		return ErrListenerClosed
	default:
	}
	select {
	case l.events <- event:
		return nil
	default:
		return ErrListenerBackpressure
	}
}

// Close marks the listener finished. Safe to call more than once.
func (l *QueueListener) Close() {
	l.once.Do(func() { close(l.done) })
}

// Events is the queue drained by the owning handler.
func (l *QueueListener) Events() <-chan models.Event { return l.events }

// Done is closed once the listener is closed.
func (l *QueueListener) Done() <-chan struct{} { return l.done }

// Stream writes the snapshot immediately and then every interval, interleaved
// with queued events, until ctx ends, the listener closes or write fails.
// snapshot may return nil to skip a tick.
func Stream(ctx context.Context, l *QueueListener, interval time.Duration, snapshot func() *models.AnalyticsSnapshot, write func(models.Event) error) error {
	push := func() error {
		snap := snapshot()
		if snap == nil {
			return nil
		}
		return write(models.NewEvent(models.EventAnalytics, snap))
	}

	if err := push(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Done():
			return nil
		case event := <-l.Events():
			if err := write(event); err != nil {
				return err
			}
		case <-ticker.C:
			if err := push(); err != nil {
				return err
			}
		}
	}
}
