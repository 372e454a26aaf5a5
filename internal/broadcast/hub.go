// Package broadcast fans analytics and alert events out to attached listeners.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"analytics/internal/instrumentation"
	"analytics/internal/models"
)

var (
	// ErrListenerBackpressure is returned by Send when a listener's queue is full.
	ErrListenerBackpressure = errors.New("listener queue full")
	// ErrListenerClosed is returned by Send after Close.
	ErrListenerClosed = errors.New("listener closed")
)

// DefaultQueueSize bounds the hub queue and each listener queue.
const DefaultQueueSize = 256

// Listener receives events from the hub. Send must not block.
type Listener interface {
	ID() string
	Send(event models.Event) error
	Close()
}

// Hub owns the outbound event queue and the set of attached listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]Listener

	queue chan models.Event

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(queueSize int, logger *slog.Logger, m *instrumentation.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		listeners: make(map[string]Listener),
		queue:     make(chan models.Event, queueSize),
		logger:    logger.With("component", "broadcast_hub"),
		metrics:   m,
	}
}

// Publish enqueues an event for delivery. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Publish(event models.Event) {
	select {
	case h.queue <- event:
	default:
		h.metrics.RecordError("broadcast", "queue_full")
		h.logger.Warn("broadcast_dropped", "type", event.Type)
	}
}

// Attach registers a listener.
func (h *Hub) Attach(l Listener) {
	h.mu.Lock()
	h.listeners[l.ID()] = l
	n := len(h.listeners)
	h.mu.Unlock()

	h.metrics.RecordListeners(n)
	h.logger.Info("listener_attached", "listener_id", l.ID(), "listeners", n)
}

// Detach removes and closes a listener. Unknown ids are ignored.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	l, ok := h.listeners[id]
	delete(h.listeners, id)
	n := len(h.listeners)
	h.mu.Unlock()

	if !ok {
		return
	}
	l.Close()
	h.metrics.RecordListeners(n)
	h.logger.Info("listener_detached", "listener_id", id, "listeners", n)
}

// Len reports the number of attached listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Run drains the queue until ctx is cancelled, then closes every listener.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-h.queue:
			h.deliver(event)
		}
	}
}

// deliver sends to every listener. A listener whose Send fails is detached;
// the rest still receive the event.
func (h *Hub) deliver(event models.Event) {
	h.mu.RLock()
	targets := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	for _, l := range targets {
		if err := l.Send(event); err != nil {
			h.metrics.RecordError("broadcast", "send_failed")
			h.logger.Warn("listener_send_failed", "listener_id", l.ID(), "type", event.Type, "error", err)
			h.Detach(l.ID())
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	listeners := h.listeners
	h.listeners = make(map[string]Listener)
	h.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	h.metrics.RecordListeners(0)
}
