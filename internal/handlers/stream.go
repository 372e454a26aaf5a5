package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"analytics/internal/broadcast"
	"analytics/internal/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleIngestWS accepts ticks from external tools. Each text frame carries
// one JSON tick object or an array of them.
func (s *Server) handleIngestWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	s.logger.Info("ingest_connected", "remote_addr", r.RemoteAddr)
	received := 0
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("ingest_read_failed", "error", err)
			}
			break
		}
		ticks, err := decodeTicks(message)
		if err != nil {
			s.logger.Warn("ingest_message_invalid", "error", err)
			continue
		}
		for _, raw := range ticks {
			s.coord.IngestTick(raw)
		}
		received += len(ticks)
	}
	s.logger.Info("ingest_disconnected", "remote_addr", r.RemoteAddr, "ticks", received)
}

func decodeTicks(message []byte) ([]map[string]any, error) {
	message = bytes.TrimSpace(message)
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()

	if len(message) > 0 && message[0] == '[' {
		var batch []map[string]any
		if err := dec.Decode(&batch); err != nil {
			return nil, fmt.Errorf("decode tick batch: %w", err)
		}
		return batch, nil
	}
	var one map[string]any
	if err := dec.Decode(&one); err != nil {
		return nil, fmt.Errorf("decode tick: %w", err)
	}
	if one == nil {
		return nil, fmt.Errorf("tick payload is not an object")
	}
	return []map[string]any{one}, nil
}

// attach registers a queue listener with the hub when one is configured.
func (s *Server) attach() (*broadcast.QueueListener, func()) {
	l := broadcast.NewQueueListener(s.opts.ListenerQueueSize)
	if s.listeners == nil {
		return l, l.Close
	}
	s.listeners.Attach(l)
	return l, func() { s.listeners.Detach(l.ID()) }
}

// handleAnalyticsWS streams snapshots and hub events to a dashboard.
func (s *Server) handleAnalyticsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	l, detach := s.attach()
	defer detach()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// reads only detect the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = broadcast.Stream(ctx, l, s.opts.BroadcastInterval, func() *models.AnalyticsSnapshot { return s.filtered(r) },
		func(ev models.Event) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(ev)
		})
	if err != nil {
		s.logger.Debug("dashboard_stream_ended", "listener_id", l.ID(), "error", err)
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// handleAnalyticsSSE is the server-sent events flavour of handleAnalyticsWS.
func (s *Server) handleAnalyticsSSE(w http.ResponseWriter, r *http.Request) {
	sse := NewSSEWriter(w)
	w.WriteHeader(http.StatusOK)

	l, detach := s.attach()
	defer detach()

	err := broadcast.Stream(r.Context(), l, s.opts.BroadcastInterval, func() *models.AnalyticsSnapshot { return s.filtered(r) },
		func(ev models.Event) error {
			return sse.SendEvent(ev.Type, ev)
		})
	if err != nil {
		s.logger.Debug("dashboard_stream_ended", "listener_id", l.ID(), "error", err)
	}
}
