// Command analytics starts the standalone search analytics service.
//
// It consumes search events from Kafka, aggregates them in memory (searches
// per kind, latency percentiles, zero-result patterns, top patterns),
// snapshots the aggregate to PostgreSQL and serves GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

const snapshotInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The handler needs the aggregator and the aggregator needs the consumer,
	// so the handler closes over a variable assigned below.
	var aggregator *analytics.Aggregator
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, func(ctx context.Context, msg kafka.Message) error {
		return analytics.HandleEvent(aggregator)(ctx, msg)
	})
	aggregator = analytics.NewAggregator(consumer)

	go func() {
		if err := aggregator.Start(ctx); err != nil {
			slog.Error("aggregator error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.SearchEvents)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
	})

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "snapshots disabled"}
		})
	} else {
		defer db.Close()
		store := snapshot.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create snapshot schema", "error", err)
			os.Exit(1)
		}
		if last, err := store.Latest(ctx); err != nil {
			slog.Warn("failed to read last snapshot", "error", err)
		} else if last != nil {
			slog.Info("previous snapshot found", "total_searches", last.TotalSearches)
		}
		store.StartPeriodicSave(ctx, aggregator, snapshotInterval)
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			return health.FromError(db.Ping(ctx), health.StatusDegraded)
		})
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdown(context.Background())
	}

	analyticsHandler := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
