package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"analytics/internal/aggregator"
	"analytics/internal/models"
	"analytics/internal/resample"
	"analytics/internal/store"
)

const (
	defaultTickLimit   = 100
	maxTickLimit       = 10_000
	defaultCandleLimit = 500
)

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.coord.Snapshot())
}

// handleLatest serves the snapshot restricted to symbol1/symbol2 when given.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.filtered(r))
}

func (s *Server) filtered(r *http.Request) *models.AnalyticsSnapshot {
	snap := s.coord.Snapshot()
	var symbols []string
	for _, key := range []string{"symbol1", "symbol2"} {
		if v := r.URL.Query().Get(key); v != "" {
			symbols = append(symbols, models.NormalizeSymbol(v))
		}
	}
	if len(symbols) == 0 {
		return snap
	}
	return snap.Filter(symbols...)
}

func (s *Server) handleCachedAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.sendError(w, http.StatusServiceUnavailable, "cache_disabled", "Redis snapshot mirror is not configured")
		return
	}
	snap, err := s.cache.Latest(r.Context())
	if err != nil {
		s.logger.Error("cache_read_failed", "error", err)
		s.sendError(w, http.StatusBadGateway, "backend_unavailable", "Failed to read from cache")
		return
	}
	if snap == nil {
		s.sendError(w, http.StatusNotFound, "not_cached", "No snapshot has been mirrored yet")
		return
	}
	s.sendJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePairDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.coord.PairDetail(chi.URLParam(r, "symbol1"), chi.URLParam(r, "symbol2"))
	switch {
	case errors.Is(err, aggregator.ErrUnknownSymbol):
		s.sendError(w, http.StatusNotFound, "unknown_symbol", err.Error())
		return
	case errors.Is(err, aggregator.ErrInsufficientData):
		s.sendError(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
		return
	case err != nil:
		s.logger.Error("pair_detail_failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal_error", "Pair analysis failed")
		return
	}
	s.sendJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.coord.Symbols()
	s.sendJSON(w, http.StatusOK, map[string]any{"symbols": symbols, "count": len(symbols)})
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", defaultTickLimit, maxTickLimit)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
		return
	}
	symbol := models.NormalizeSymbol(chi.URLParam(r, "symbol"))
	ticks, err := s.coord.RecentTicks(symbol, limit)
	if err != nil {
		s.sendError(w, http.StatusNotFound, "unknown_symbol", "No ticks buffered for "+symbol)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "ticks": ticks, "count": len(ticks)})
}

type pricePoint struct {
	Timestamp float64 `json:"timestamp"`
	Price     float64 `json:"price"`
}

// handlePriceHistory serves persisted prices oldest first, falling back to the
// buffer when persistence is disabled.
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", defaultTickLimit, maxTickLimit)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
		return
	}
	symbol := models.NormalizeSymbol(chi.URLParam(r, "symbol"))

	var ticks []models.Tick
	if s.store != nil {
		newest, err := s.store.QueryTicks(r.Context(), store.TickQuery{Symbol: symbol, Limit: limit})
		if err != nil {
			s.logger.Error("price_history_failed", "symbol", symbol, "error", err)
			s.sendError(w, http.StatusInternalServerError, "database_error", "Failed to query price history")
			return
		}
		ticks = make([]models.Tick, len(newest))
		for i, t := range newest {
			ticks[len(newest)-1-i] = t
		}
	} else if buffered, err := s.coord.RecentTicks(symbol, limit); err == nil {
		ticks = buffered
	}

	points := make([]pricePoint, len(ticks))
	for i, t := range ticks {
		points[i] = pricePoint{Timestamp: t.Timestamp, Price: t.Price}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "data": points})
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	tfName := r.URL.Query().Get("timeframe")
	if tfName == "" {
		tfName = string(models.Timeframe1m)
	}
	tf, err := resample.ParseTimeframe(tfName)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return
	}
	limit, ok := intParam(r, "limit", defaultCandleLimit, maxTickLimit)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
		return
	}

	symbol := models.NormalizeSymbol(chi.URLParam(r, "symbol"))
	candles, err := s.coord.HistoricalCandles(r.Context(), symbol, tf, limit)
	if err != nil {
		s.logger.Error("historical_query_failed", "symbol", symbol, "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal_error", "Failed to build candles")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"timeframe": tf,
		"candles":   candles,
		"count":     len(candles),
	})
}
