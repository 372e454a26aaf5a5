// Package store persists ticks, candles, alert rules and trigger history through GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"analytics/internal/models"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

const insertBatchSize = 500

// Store is the durable mirror of the in-memory analytics state.
type Store struct {
	log *slog.Logger
	db  *gorm.DB
}

// Open connects to Postgres when dsn is a postgres URL and to a SQLite file
// otherwise, then migrates the schema.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
		driver = "postgres"
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// single writer; also keeps in-memory databases on one connection
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(log, db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	s.log.Info("database_ready", "driver", driver)
	return s, nil
}

// New wraps an already opened database.
func New(log *slog.Logger, db *gorm.DB) *Store {
	return &Store{log: log.With("component", "store"), db: db}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&tickRecord{}, &candleRecord{}, &alertRecord{}, &triggerRecord{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InsertTicksBatch appends ticks for one symbol.
func (s *Store) InsertTicksBatch(ctx context.Context, symbol string, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	records := make([]tickRecord, len(ticks))
	for i, t := range ticks {
		records[i] = tickRecord{Symbol: symbol, Timestamp: t.Timestamp, Price: t.Price, Quantity: t.Quantity}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(records, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert %d ticks for %s: %w", len(ticks), symbol, err)
	}
	return nil
}

// InsertCandle upserts a candle keyed by symbol, timeframe and bucket start.
func (s *Store) InsertCandle(ctx context.Context, candle models.Candle, timeframe models.Timeframe) error {
	record := candleRecord{
		Symbol:    candle.Symbol,
		Timeframe: string(timeframe),
		Timestamp: candle.Timestamp,
		Open:      candle.Open,
		High:      candle.High,
		Low:       candle.Low,
		Close:     candle.Close,
		Volume:    candle.Volume,
		TickCount: candle.TickCount,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "tick_count"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("upsert %s candle %s@%.0f: %w", timeframe, candle.Symbol, candle.Timestamp, err)
	}
	return nil
}

// QueryCandles returns the latest limit candles, oldest first. limit <= 0 means all.
func (s *Store) QueryCandles(ctx context.Context, symbol string, timeframe models.Timeframe, limit int) ([]models.Candle, error) {
	q := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, string(timeframe)).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []candleRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query %s candles for %s: %w", timeframe, symbol, err)
	}

	out := make([]models.Candle, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r.model()
	}
	return out, nil
}

// TickQuery filters QueryTicks. Empty Symbol and nil bounds match everything.
type TickQuery struct {
	Symbol string
	Start  *float64 // inclusive, ms
	End    *float64 // inclusive, ms
	Limit  int
}

func (s *Store) tickScope(ctx context.Context, q TickQuery) *gorm.DB {
	db := s.db.WithContext(ctx).Model(&tickRecord{})
	if q.Symbol != "" {
		db = db.Where("symbol = ?", q.Symbol)
	}
	if q.Start != nil {
		db = db.Where("timestamp >= ?", *q.Start)
	}
	if q.End != nil {
		db = db.Where("timestamp <= ?", *q.End)
	}
	return db
}

// QueryTicks returns matching ticks, newest first.
func (s *Store) QueryTicks(ctx context.Context, q TickQuery) ([]models.Tick, error) {
	db := s.tickScope(ctx, q).Order("timestamp DESC").Order("id DESC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var records []tickRecord
	if err := db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	out := make([]models.Tick, len(records))
	for i, r := range records {
		out[i] = r.model()
	}
	return out, nil
}

// EachTick streams matching ticks oldest first without loading them all.
// Iteration stops at the first error returned by fn.
func (s *Store) EachTick(ctx context.Context, q TickQuery, fn func(models.Tick) error) error {
	db := s.tickScope(ctx, q).Order("timestamp ASC").Order("id ASC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	rows, err := db.Rows()
	if err != nil {
		return fmt.Errorf("stream ticks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r tickRecord
		if err := s.db.ScanRows(rows, &r); err != nil {
			return fmt.Errorf("scan tick: %w", err)
		}
		if err := fn(r.model()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InsertAlertRule stores a rule and returns its id.
func (s *Store) InsertAlertRule(ctx context.Context, rule models.AlertRule) (int64, error) {
	record := alertRecord{
		Name:      rule.Name,
		Condition: string(rule.Condition),
		Symbol:    rule.Symbol,
		Threshold: rule.Threshold,
		Active:    rule.Active,
		CreatedAt: rule.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, fmt.Errorf("insert alert rule %q: %w", rule.Name, err)
	}
	return record.ID, nil
}

// DeleteAlertRule removes a rule together with its trigger history.
func (s *Store) DeleteAlertRule(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("alert_id = ?", id).Delete(&triggerRecord{}).Error; err != nil {
			return fmt.Errorf("delete history of alert %d: %w", id, err)
		}
		res := tx.Delete(&alertRecord{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete alert %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("alert %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ListAlertRules returns every stored rule in creation order.
func (s *Store) ListAlertRules(ctx context.Context) ([]models.AlertRule, error) {
	var records []alertRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	out := make([]models.AlertRule, len(records))
	for i, r := range records {
		out[i] = r.model()
	}
	return out, nil
}

// InsertTriggerEvent appends to the trigger history.
func (s *Store) InsertTriggerEvent(ctx context.Context, event models.TriggerEvent) error {
	record := triggerRecord{
		AlertID:       event.AlertID,
		Name:          event.Name,
		Condition:     string(event.Condition),
		Symbol:        event.Symbol,
		Threshold:     event.Threshold,
		ObservedValue: event.ObservedValue,
		Timestamp:     event.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("insert trigger event for alert %d: %w", event.AlertID, err)
	}
	return nil
}

// ListRecentTriggerEvents returns up to limit events, newest first.
func (s *Store) ListRecentTriggerEvents(ctx context.Context, limit int) ([]models.TriggerEvent, error) {
	q := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []triggerRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list trigger events: %w", err)
	}
	out := make([]models.TriggerEvent, len(records))
	for i, r := range records {
		out[i] = r.model()
	}
	return out, nil
}
