// Package alerts evaluates user-defined threshold rules against analytics snapshots.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"analytics/internal/instrumentation"
	"analytics/internal/models"
)

// ErrRuleNotFound is returned when removing an unknown rule.
var ErrRuleNotFound = errors.New("alert rule not found")

// RuleStore is the persistence the engine needs.
type RuleStore interface {
	InsertAlertRule(ctx context.Context, rule models.AlertRule) (int64, error)
	DeleteAlertRule(ctx context.Context, id int64) error
	ListAlertRules(ctx context.Context) ([]models.AlertRule, error)
	InsertTriggerEvent(ctx context.Context, event models.TriggerEvent) error
}

// Publisher delivers events to listeners without blocking.
type Publisher interface {
	Publish(event models.Event)
}

// Options tune the engine. Zero values select the defaults.
type Options struct {
	Cooldown     time.Duration
	HistorySize  int
	QueueSize    int
	StoreTimeout time.Duration
	Now          func() time.Time
}

const (
	DefaultCooldown    = 60 * time.Second
	DefaultHistorySize = 100
)

// Engine owns the rule set and the recent trigger history.
type Engine struct {
	mu      sync.Mutex
	rules   []models.AlertRule
	history []models.TriggerEvent // oldest first

	store     RuleStore
	publisher Publisher
	pending   chan models.TriggerEvent

	cooldown     time.Duration
	historySize  int
	storeTimeout time.Duration
	now          func() time.Time

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// New creates an alert engine. Call Load to restore persisted rules and
// Run to start persisting trigger events.
func New(store RuleStore, publisher Publisher, opts Options, logger *slog.Logger, metrics *instrumentation.Metrics) *Engine {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:        store,
		publisher:    publisher,
		pending:      make(chan models.TriggerEvent, opts.QueueSize),
		cooldown:     opts.Cooldown,
		historySize:  opts.HistorySize,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
		logger:       logger.With("component", "alert_engine"),
		metrics:      metrics,
	}
}

// Load replaces the in-memory rule set with the persisted rules.
func (e *Engine) Load(ctx context.Context) error {
	rules, err := e.store.ListAlertRules(ctx)
	if err != nil {
		return fmt.Errorf("list alert rules: %w", err)
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("alert_rules_loaded", "count", len(rules))
	return nil
}

// AddRule validates, persists and activates a rule.
func (e *Engine) AddRule(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	rule.Symbol = models.NormalizeSymbol(rule.Symbol)
	rule.Active = true
	rule.CreatedAt = e.now().UTC()

	if err := models.ValidateRule(rule); err != nil {
		return models.AlertRule{}, err
	}

	id, err := e.store.InsertAlertRule(ctx, rule)
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("insert alert rule: %w", err)
	}
	rule.ID = id

	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()

	e.logger.Info("alert_rule_added",
		"alert_id", rule.ID,
		"name", rule.Name,
		"condition", rule.Condition,
		"symbol", rule.Symbol,
		"threshold", rule.Threshold,
	)
	return rule, nil
}

// RemoveRule deletes a rule and its trigger history.
func (e *Engine) RemoveRule(ctx context.Context, id int64) error {
	e.mu.Lock()
	idx := slices.IndexFunc(e.rules, func(r models.AlertRule) bool { return r.ID == id })
	e.mu.Unlock()
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}

	if err := e.store.DeleteAlertRule(ctx, id); err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}

	e.mu.Lock()
	e.rules = slices.DeleteFunc(e.rules, func(r models.AlertRule) bool { return r.ID == id })
	e.history = slices.DeleteFunc(e.history, func(ev models.TriggerEvent) bool { return ev.AlertID == id })
	e.mu.Unlock()

	e.logger.Info("alert_rule_removed", "alert_id", id)
	return nil
}

// Rules returns a copy of the rule set.
func (e *Engine) Rules() []models.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.rules)
}

// RecentTriggers returns up to limit trigger events, newest first.
func (e *Engine) RecentTriggers(limit int) []models.TriggerEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]models.TriggerEvent, 0, limit)
	for i := len(e.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Evaluate checks every active rule against snap and returns the events it accepted.
// Events are queued for persistence and published without waiting on either.
func (e *Engine) Evaluate(ctx context.Context, snap *models.AnalyticsSnapshot) []models.TriggerEvent {
	if snap == nil {
		return nil
	}

	e.mu.Lock()
	now := e.now().UTC()
	var fired []models.TriggerEvent
	for _, rule := range e.rules {
		if !rule.Active {
			continue
		}

		value, ok := observed(rule, snap)
		if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		if !satisfied(rule.Condition, value, rule.Threshold) {
			continue
		}
		if e.suppressed(rule.ID, now) {
			continue
		}

		event := models.TriggerEvent{
			AlertID:       rule.ID,
			Name:          rule.Name,
			Condition:     rule.Condition,
			Symbol:        rule.Symbol,
			Threshold:     rule.Threshold,
			ObservedValue: value,
			Timestamp:     now,
		}
		e.history = append(e.history, event)
		if len(e.history) > e.historySize {
			e.history = e.history[len(e.history)-e.historySize:]
		}
		fired = append(fired, event)
	}
	e.mu.Unlock()

	for _, event := range fired {
		e.metrics.RecordAlertTriggered()
		e.logger.Info("alert_triggered",
			"alert_id", event.AlertID,
			"name", event.Name,
			"symbol", event.Symbol,
			"condition", event.Condition,
			"observed_value", event.ObservedValue,
			"threshold", event.Threshold,
		)

		select {
		case e.pending <- event:
		default:
			e.metrics.RecordError("alert_engine", "persist_queue_full")
			e.logger.Warn("trigger_persist_dropped", "alert_id", event.AlertID)
		}

		if e.publisher != nil {
			e.publisher.Publish(models.NewEvent(models.EventAlertTriggered, event))
		}
	}

	return fired
}

// Run persists queued trigger events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-e.pending:
			e.persist(ctx, event)
		}
	}
}

// persist stores a queued event unless its rule was removed after firing.
func (e *Engine) persist(ctx context.Context, event models.TriggerEvent) {
	e.mu.Lock()
	live := slices.ContainsFunc(e.rules, func(r models.AlertRule) bool { return r.ID == event.AlertID })
	e.mu.Unlock()
	if !live {
		e.logger.Debug("trigger_persist_skipped", "alert_id", event.AlertID, "reason", "rule_removed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if err := e.store.InsertTriggerEvent(ctx, event); err != nil {
		e.metrics.RecordError("alert_engine", "persist_failed")
		e.logger.Error("trigger_persist_failed", "alert_id", event.AlertID, "error", err)
	}
}

// suppressed reports whether the rule fired within the cooldown. Caller holds e.mu.
func (e *Engine) suppressed(id int64, now time.Time) bool {
	for i := len(e.history) - 1; i >= 0; i-- {
		ev := e.history[i]
		if ev.AlertID == id && now.Sub(ev.Timestamp) < e.cooldown {
			return true
		}
	}
	return false
}

func observed(rule models.AlertRule, snap *models.AnalyticsSnapshot) (float64, bool) {
	switch rule.Condition {
	case models.ConditionZScoreAbove, models.ConditionZScoreBelow:
		v, ok := snap.ZScore[rule.Symbol]
		return v, ok
	case models.ConditionPriceAbove, models.ConditionPriceBelow:
		v, ok := snap.Price[rule.Symbol]
		return v, ok
	}
	return 0, false
}

func satisfied(c models.Condition, value, threshold float64) bool {
	switch c {
	case models.ConditionZScoreAbove, models.ConditionPriceAbove:
		return value > threshold
	case models.ConditionZScoreBelow, models.ConditionPriceBelow:
		return value < threshold
	}
	return false
}
