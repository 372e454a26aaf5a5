// Package handlers exposes the analytics service over HTTP, SSE and WebSocket.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"analytics/internal/aggregator"
	"analytics/internal/broadcast"
	"analytics/internal/models"
	"analytics/internal/store"
)

// Coordinator is the analytics core as seen by transport.
type Coordinator interface {
	IngestTick(raw map[string]any)
	Snapshot() *models.AnalyticsSnapshot
	Symbols() []string
	RecentTicks(symbol string, n int) ([]models.Tick, error)
	Status() []aggregator.BufferStatus
	HistoricalCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
	PairDetail(symbol1, symbol2 string) (models.PairDetail, error)
	LoadHistory(ctx context.Context, candles []models.Candle) (models.UploadSummary, error)
}

// AlertManager manages alert rules and their trigger history.
type AlertManager interface {
	AddRule(ctx context.Context, rule models.AlertRule) (models.AlertRule, error)
	RemoveRule(ctx context.Context, id int64) error
	Rules() []models.AlertRule
	RecentTriggers(limit int) []models.TriggerEvent
}

// TickStore serves persisted history.
type TickStore interface {
	QueryTicks(ctx context.Context, q store.TickQuery) ([]models.Tick, error)
	EachTick(ctx context.Context, q store.TickQuery, fn func(models.Tick) error) error
	ListRecentTriggerEvents(ctx context.Context, limit int) ([]models.TriggerEvent, error)
}

// ListenerRegistry attaches dashboard connections to the broadcast hub.
type ListenerRegistry interface {
	Attach(l broadcast.Listener)
	Detach(id string)
	Len() int
}

// CacheReader reads the snapshot mirrored to Redis.
type CacheReader interface {
	Latest(ctx context.Context) (*models.AnalyticsSnapshot, error)
}

// Options tune the streaming endpoints.
type Options struct {
	RequestTimeout    time.Duration
	BroadcastInterval time.Duration
	ListenerQueueSize int
}

// Server holds the collaborators every handler uses.
type Server struct {
	coord     Coordinator
	alerts    AlertManager
	store     TickStore        // optional
	listeners ListenerRegistry // optional
	cache     CacheReader      // optional
	opts      Options
	started   time.Time
	logger    *slog.Logger
}

// NewServer wires the handlers. store, listeners and cache may be nil.
func NewServer(coord Coordinator, alerts AlertManager, st TickStore, listeners ListenerRegistry, cache CacheReader, opts Options, logger *slog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = time.Second
	}
	if opts.ListenerQueueSize <= 0 {
		opts.ListenerQueueSize = broadcast.DefaultQueueSize
	}
	return &Server{
		coord:     coord,
		alerts:    alerts,
		store:     st,
		listeners: listeners,
		cache:     cache,
		opts:      opts,
		started:   time.Now(),
		logger:    logger.With("component", "http"),
	}
}

// Router builds the chi router. The request timeout applies to the REST group
// only; streaming and export endpoints run for as long as the client stays.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", HealthCheckHandler())
	r.Get("/", s.handleRoot)
	r.Get("/debug/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(s.opts.RequestTimeout, s.logger))

		r.Get("/analytics/latest", s.handleLatest)
		r.Get("/api/analytics", s.handleAnalytics)
		r.Get("/api/analytics/cached", s.handleCachedAnalytics)
		r.Get("/api/analytics/detailed/{symbol1}/{symbol2}", s.handlePairDetail)
		r.Get("/api/symbols", s.handleSymbols)
		r.Get("/api/ticks/{symbol}", s.handleTicks)
		r.Get("/api/price_history/{symbol}", s.handlePriceHistory)
		r.Get("/api/historical/{symbol}", s.handleHistorical)

		r.Post("/api/alerts", s.handleCreateAlert)
		r.Get("/api/alerts", s.handleListAlerts)
		r.Get("/api/alerts/triggered", s.handleTriggeredAlerts)
		r.Delete("/api/alerts/{id}", s.handleDeleteAlert)

		r.Get("/api/export/template", s.handleExportTemplate)
	})

	r.Get("/api/export", s.handleExport)
	r.Post("/api/upload/ohlc", s.handleUpload)

	r.Get("/ws/from_tool", s.handleIngestWS)
	r.Get("/ws/analytics", s.handleAnalyticsWS)
	r.Get("/sse/analytics", s.handleAnalyticsSSE)

	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// sendError sends a JSON error response.
func (s *Server) sendError(w http.ResponseWriter, statusCode int, errorCode string, message string) {
	s.sendJSON(w, statusCode, errorResponse{Error: errorCode, Message: message})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("json_encode_failed", "error", err)
	}
}

// intParam reads a positive integer query parameter, clamped to upper.
func intParam(r *http.Request, name string, def, upper int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return min(v, upper), true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"service": "pair-analytics",
		"status":  "running",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"symbols": s.coord.Symbols(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	listeners := 0
	if s.listeners != nil {
		listeners = s.listeners.Len()
	}
	snap := s.coord.Snapshot()
	s.sendJSON(w, http.StatusOK, map[string]any{
		"buffers":           s.coord.Status(),
		"listeners":         listeners,
		"snapshot_time":     snap.Timestamp,
		"data_points":       snap.DataPoints,
		"active_pair":       snap.Pair,
		"uptime_seconds":    int(time.Since(s.started).Seconds()),
		"persistence_ready": s.store != nil,
	})
}
