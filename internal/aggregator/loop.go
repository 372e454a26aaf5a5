package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"analytics/internal/models"
	"analytics/internal/resample"
)

const finalFlushTimeout = 5 * time.Second

// Run drives the refresh and flush cadences until ctx is cancelled, then
// performs a best-effort final flush.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator_started",
		"refresh_interval", c.cfg.RefreshInterval,
		"flush_interval", c.cfg.FlushInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.loop(gctx, "refresh", c.cfg.RefreshInterval, func(ctx context.Context) error {
			c.Refresh(ctx)
			return nil
		})
	})
	g.Go(func() error {
		return c.loop(gctx, "flush", c.cfg.FlushInterval, c.Flush)
	})
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if ferr := c.Flush(flushCtx); ferr != nil {
		c.logger.Warn("final_flush_failed", "error", ferr)
	}

	c.logger.Info("coordinator_stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop runs fn every interval. A failed or panicking iteration is logged and
// followed by the configured back-off; the loop is never abandoned.
func (c *Coordinator) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.safeRun(ctx, fn); err != nil {
			c.metrics.RecordError("coordinator", name+"_failed")
			c.logger.Error(name+"_failed", "error", err, "backoff", c.cfg.ErrorBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
}

func (c *Coordinator) safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Flush writes ticks added since the last successful flush (the most recent
// FlushBatchSize per symbol) and upserts the live 1m candles opened since the
// previous flush. Failures leave the in-memory state
// untouched and are retried next cycle.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	var errs []error
	total := 0
	for _, s := range c.states() {
		s.mu.Lock()
		added := s.added
		pending := min(added-s.flushed, uint64(c.cfg.FlushBatchSize))
		ticks := s.buf.RecentN(int(pending))
		since := s.candleSince
		var live []models.Tick
		if !math.IsInf(since, 1) {
			live = s.buf.Since(since)
		}
		s.mu.Unlock()

		if len(ticks) > 0 {
			if err := c.store.InsertTicksBatch(ctx, s.symbol, ticks); err != nil {
				c.metrics.RecordError("store", "insert_ticks")
				c.logger.Error("flush_ticks_failed", "symbol", s.symbol, "count", len(ticks), "error", err)
				errs = append(errs, fmt.Errorf("flush %s ticks: %w", s.symbol, err))
			} else {
				s.mu.Lock()
				s.flushed = added
				s.mu.Unlock()
				total += len(ticks)
			}
		}

		if len(live) == 0 {
			continue
		}
		next, err := c.flushCandles(ctx, live)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s candles: %w", s.symbol, err))
			continue
		}
		s.mu.Lock()
		if next > s.candleSince {
			s.candleSince = next
		}
		s.mu.Unlock()
	}

	if total > 0 {
		c.metrics.RecordFlushed(total)
		c.logger.Info("ticks_flushed", "count", total)
	}
	return errors.Join(errs...)
}

// flushCandles upserts 1m candles built from ticks and returns the start of
// the newest bucket, which stays open until a later flush.
func (c *Coordinator) flushCandles(ctx context.Context, ticks []models.Tick) (float64, error) {
	candles, err := resample.Resample(ticks, models.Timeframe1m)
	if err != nil {
		return 0, err
	}
	for _, candle := range candles {
		if err := c.store.InsertCandle(ctx, candle, models.Timeframe1m); err != nil {
			c.metrics.RecordError("store", "insert_candle")
			c.logger.Error("flush_candle_failed", "symbol", candle.Symbol, "timestamp", candle.Timestamp, "error", err)
			return 0, err
		}
	}
	return candles[len(candles)-1].Timestamp, nil
}

func bucketStart1m(ts float64) float64 {
	width, _ := resample.Width(models.Timeframe1m)
	return resample.BucketStart(ts, width)
}
