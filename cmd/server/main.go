package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"analytics/internal/aggregator"
	"analytics/internal/alerts"
	"analytics/internal/broadcast"
	"analytics/internal/cache"
	"analytics/internal/config"
	"analytics/internal/consumer"
	"analytics/internal/handlers"
	"analytics/internal/instrumentation"
	"analytics/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("analytics_service_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("analytics_service_stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("analytics_service_starting",
		"http_port", cfg.HTTPPort,
		"redis_enabled", cfg.RedisURL != "",
		"kafka_enabled", len(cfg.KafkaBrokers) > 0,
		"pair_window", cfg.PairWindow,
		"refresh_interval", cfg.RefreshInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := instrumentation.NewMetrics(prometheus.DefaultRegisterer)

	db, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hub := broadcast.NewHub(cfg.BroadcastQueueSize, logger, metrics)

	engine := alerts.New(db, hub, alerts.Options{
		Cooldown:    cfg.AlertCooldown,
		HistorySize: cfg.AlertHistorySize,
	}, logger, metrics)
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("load alert rules: %w", err)
	}

	coord := aggregator.New(aggregator.Config{
		BufferCapacity:  cfg.BufferCapacity,
		RefreshInterval: cfg.RefreshInterval,
		FlushInterval:   cfg.FlushInterval,
		FlushBatchSize:  cfg.FlushBatchSize,
		ErrorBackoff:    cfg.ErrorBackoff,
		Window:          cfg.ZScoreWindow,
		PairWindow:      cfg.PairWindow,
	}, db, engine, hub, logger, metrics)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return coord.Run(ctx) })

	var cacheReader handlers.CacheReader
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()

		mirror := cache.NewSnapshotMirror(client, coord, cfg.CacheTTL, cfg.RefreshInterval, logger)
		g.Go(func() error { return mirror.Run(ctx) })
		cacheReader = cache.NewReader(client, logger)

		g.Go(func() error {
			return broadcast.RunRelay(ctx, hub, client, cfg.BroadcastQueueSize, cfg.ErrorBackoff, logger)
		})

		hostname, _ := os.Hostname()
		cons, err := consumer.New(ctx, client, consumer.Config{
			StreamKey:     cfg.StreamKey,
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  fmt.Sprintf("analytics-%s", hostname),
		}, coord, logger)
		if err != nil {
			return fmt.Errorf("create stream consumer: %w", err)
		}
		g.Go(func() error { return cons.Start(ctx) })
	}

	if len(cfg.KafkaBrokers) > 0 {
		kc := consumer.NewKafka(consumer.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		}, coord, logger)
		defer kc.Close()
		g.Go(func() error { return kc.Start(ctx) })
	}

	srv := handlers.NewServer(coord, engine, db, hub, cacheReader, handlers.Options{
		RequestTimeout:    cfg.RequestTimeout,
		BroadcastInterval: cfg.BroadcastInterval,
		ListenerQueueSize: cfg.BroadcastQueueSize,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second},
	}
	for _, s := range servers {
		s := s
		g.Go(func() error {
			logger.Info("http_server_starting", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown_started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			errs = append(errs, s.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	logger.Info("analytics_service_running", "status", "healthy")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
