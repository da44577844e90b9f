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
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/bookindex"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/remote"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/session"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: time.Second}, func() error {
		var connErr error
		db, connErr = postgres.New(cfg.Postgres)
		return connErr
	})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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

	m := metrics.New(nil)
	service := remote.NewClient(cfg.Remote, m)

	// Redis is optional: sessions fall back to process memory and the word
	// cache to request coalescing only.
	var (
		sessions    session.Store
		wordKV      cache.KV
		redisClient *pkgredis.Client
	)
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, using in-memory sessions", "error", err)
		mem := session.NewMemoryStore(cfg.Search.SessionTTL)
		go sweepSessions(ctx, mem)
		sessions = mem
	} else {
		defer redisClient.Close()
		sessions = session.NewRedisStore(redisClient, cfg.Search.SessionTTL)
		wordKV = redisClient
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	words := cache.New(wordKV, service, cfg.Search.WordCacheTTL, m).
		WithCallTimeout(cfg.Remote.RequestTimeout)

	var (
		lifecyclePub lifecycle.Publisher
		collector    *analytics.Collector
	)
	aggregator := analytics.NewAggregator(nil)
	if len(cfg.Kafka.Brokers) > 0 {
		lifecycleProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexLifecycle)
		defer lifecycleProducer.Close()
		lifecyclePub = lifecycleProducer

		eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer eventsProducer.Close()
		collector = analytics.NewCollector(eventsProducer, aggregator, 500, 5*time.Second)
	} else {
		slog.Warn("no kafka brokers configured, search events stay local")
		collector = analytics.NewCollector(nil, aggregator, 500, 5*time.Second)
	}
	collector.Start(ctx)
	defer collector.Close()

	coordinator := lifecycle.New(
		cfg.Bootstrap,
		catalog.NewLoader(books, cfg.Bootstrap.CatalogPath),
		indexes,
		service,
		lifecyclePub,
		m,
	).OnIndexRebuilt(func(ctx context.Context, kind bookindex.Kind) {
		// generated words depend on the remote index
		if err := words.Invalidate(ctx); err != nil {
			slog.Warn("word cache not invalidated after rebuild", "kind", kind.String(), "error", err)
		}
	})
	report, err := coordinator.Run(ctx, lifecycle.Options{})
	if err != nil {
		// lookups fall through to postgres, so an empty store serves empty
		// results until a reload succeeds
		slog.Error("bootstrap finished without a catalog", "error", err)
	}
	slog.Info("bootstrap finished",
		"state", report.Final,
		"books", report.Catalog.Loaded,
		"degraded", report.Degraded(),
	)

	finder := catalog.NewCachedFinder(coordinator.Catalog, books)
	search := pipeline.New(finder, indexes, words, service, pipeline.Options{
		SuggestionLimit: cfg.Search.SuggestionLimit,
		ExcludeSeeds:    cfg.Search.ExcludeSeeds,
		Concurrency:     cfg.Search.SuggestionConcurrency,
		RankAvailable: func() bool {
			return coordinator.Latest().Capabilities.Rank
		},
	})

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		return health.FromError(db.Ping(ctx), health.StatusDown)
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.FromError(redisClient.Ping(ctx), health.StatusDegraded)
	})
	checker.Register("lifecycle", func(ctx context.Context) health.ComponentHealth {
		latest := coordinator.Latest()
		switch {
		case coordinator.Running():
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "reload in progress"}
		case latest.Degraded():
			return health.ComponentHealth{Status: health.StatusDegraded, Message: latest.Final.String()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(search, sessions, coordinator, collector, m, cfg.Search).WithBaseContext(ctx)
	analyticsH := analytics.NewHandler(aggregator)

	var adminGuard func(http.Handler) http.Handler
	if cfg.Server.AdminAuth {
		keys := auth.NewStore(db)
		if err := keys.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create admin key schema", "error", err)
			os.Exit(1)
		}
		validators := []auth.Validator{keys}
		if cfg.Server.AdminKey != "" {
			static := auth.NewStaticValidator()
			static.Add("config", cfg.Server.AdminKey, nil)
			validators = append(validators, static)
		}
		adminGuard = auth.Require(auth.Any(validators...))
		slog.Info("admin routes require an api key")
	}

	mux := http.NewServeMux()
	h.Register(mux, adminGuard)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	limiter := middleware.NewClientLimiter(cfg.Search.RateLimitPerSecond, cfg.Search.RateLimitBurst, 10*time.Minute)
	go sweepLimiter(ctx, limiter)

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Metrics(m)(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// a reload may still be writing to postgres
	coordinator.Wait()
	slog.Info("search service stopped")
}

func sweepSessions(ctx context.Context, store *session.MemoryStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func sweepLimiter(ctx context.Context, l *middleware.ClientLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.Sweep(now)
		case <-ctx.Done():
			return
		}
	}
}
