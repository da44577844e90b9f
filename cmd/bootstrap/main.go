// Command bootstrap runs the index lifecycle once and exits: it seeds the
// catalog, rebuilds missing indexes and prepares the similarity graph and
// rank scores. It exits non-zero only when no catalog could be loaded.
//
// Usage:
//
//	go run ./cmd/bootstrap [-config configs/development.yaml] [-force]
//	go run ./cmd/bootstrap -issue-key <name>
//
// -issue-key stores a new admin API key, prints it once and exits without
// running the lifecycle.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/bookindex"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/remote"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	force := flag.Bool("force", false, "rebuild indexes even when they are present")
	issueKey := flag.String("issue-key", "", "create an admin API key with this name and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting bootstrap", "force", *force)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *issueKey != "" {
		keys := auth.NewStore(db)
		if err := keys.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create admin key schema", "error", err)
			os.Exit(1)
		}
		raw, err := keys.CreateKey(ctx, *issueKey, nil)
		if err != nil {
			slog.Error("failed to create admin key", "error", err)
			os.Exit(1)
		}
		fmt.Println(raw)
		return
	}

	books := catalog.NewPostgresStore(db, cfg.Bootstrap.BatchSize)
	indexes := bookindex.NewPostgresStore(db, cfg.Search.CaseInsensitive)
	if err := books.EnsureSchema(ctx); err != nil {
		slog.Error("failed to create catalog schema", "error", err)
		os.Exit(1)
	}
	if err := indexes.EnsureSchema(ctx); err != nil {
		slog.Error("failed to create index schema", "error", err)
		os.Exit(1)
	}

	var publisher lifecycle.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexLifecycle)
		defer producer.Close()
		publisher = producer
	}

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdown(context.Background())
	}

	coordinator := lifecycle.New(
		cfg.Bootstrap,
		catalog.NewLoader(books, cfg.Bootstrap.CatalogPath),
		indexes,
		remote.NewClient(cfg.Remote, m),
		publisher,
		m,
	)

	report, runErr := coordinator.Run(ctx, lifecycle.Options{Force: *force})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to write report", "error", err)
	}

	if runErr != nil {
		slog.Error("bootstrap failed", "error", runErr)
		os.Exit(1)
	}
	slog.Info("bootstrap complete", "state", report.Final, "degraded", report.Degraded())
}
