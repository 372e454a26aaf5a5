package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"analytics/internal/alerts"
	"analytics/internal/models"
)

const maxTriggerLimit = 1000

type createAlertRequest struct {
	Name      string           `json:"name"`
	Condition models.Condition `json:"condition"`
	Symbol    string           `json:"symbol"`
	Threshold *float64         `json:"threshold"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Threshold == nil {
		s.sendError(w, http.StatusBadRequest, "invalid_rule", "threshold is required")
		return
	}

	rule, err := s.alerts.AddRule(r.Context(), models.AlertRule{
		Name:      req.Name,
		Condition: req.Condition,
		Symbol:    req.Symbol,
		Threshold: *req.Threshold,
	})
	if errors.Is(err, models.ErrInvalidRule) {
		s.sendError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("alert_create_failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "database_error", "Failed to store alert rule")
		return
	}
	s.sendJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	rules := s.alerts.Rules()
	s.sendJSON(w, http.StatusOK, map[string]any{"alerts": rules, "count": len(rules)})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, http.StatusBadRequest, "invalid_parameter", "id must be a positive integer")
		return
	}

	err = s.alerts.RemoveRule(r.Context(), id)
	if errors.Is(err, alerts.ErrRuleNotFound) {
		s.sendError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("alert_delete_failed", "alert_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "database_error", "Failed to delete alert rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggeredAlerts serves persisted trigger history, newest first. The
// in-memory ring answers when persistence is disabled or unavailable.
func (s *Server) handleTriggeredAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", alerts.DefaultHistorySize, maxTriggerLimit)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
		return
	}

	var events []models.TriggerEvent
	if s.store != nil {
		stored, err := s.store.ListRecentTriggerEvents(r.Context(), limit)
		if err != nil {
			s.logger.Warn("trigger_history_query_failed", "error", err)
		} else {
			events = stored
		}
	}
	if events == nil {
		events = s.alerts.RecentTriggers(limit)
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"triggered": events, "count": len(events)})
}
