package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/tao-metrics/internal/cache"
	"github.com/web3-frozen/tao-metrics/internal/collector"
	"github.com/web3-frozen/tao-metrics/internal/config"
	"github.com/web3-frozen/tao-metrics/internal/dedup"
	"github.com/web3-frozen/tao-metrics/internal/emission"
	"github.com/web3-frozen/tao-metrics/internal/fetch"
	"github.com/web3-frozen/tao-metrics/internal/handler"
	"github.com/web3-frozen/tao-metrics/internal/history"
	"github.com/web3-frozen/tao-metrics/internal/kv"
	"github.com/web3-frozen/tao-metrics/internal/middleware"
	"github.com/web3-frozen/tao-metrics/internal/network"
	"github.com/web3-frozen/tao-metrics/internal/sources"
	"github.com/web3-frozen/tao-metrics/internal/store"
	"github.com/web3-frozen/tao-metrics/internal/subtensor"
)

const serviceName = "tao-metrics"

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pingers []handler.Pinger

	// Database (optional)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.New(ctx, cfg.DatabaseURL, cfg.HistoryCapacity)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		pingers = append(pingers, db)
		logger.Info("database connected and migrated")
	}

	// Redis (optional, retry up to 30s for ExternalSecret to sync)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		for i := 0; i < 6; i++ {
			rdb, err = dedup.Connect(cfg.RedisURL, cfg.RedisPassword)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Error("failed to connect to redis after retries", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		pingers = append(pingers, redisPinger{rdb})
		logger.Info("redis connected")
	}

	// Snapshot persistence: Postgres, then Redis, then the JSON file.
	var backend history.Backend
	switch {
	case db != nil:
		backend = db
	case rdb != nil:
		backend = history.NewRedisBackend(rdb, "issuance_history", cfg.HistoryCapacity)
	default:
		backend = history.NewFileBackend(cfg.HistoryFile, cfg.HistoryCapacity)
	}

	publisher := kv.Open(kv.CloudflareConfig{
		AccountID:   cfg.CFAccountID,
		NamespaceID: cfg.CFNamespaceID,
		APIToken:    cfg.CFAPIToken,
	}, rdb, logger)

	// Upstreams
	chain := subtensor.New(cfg.SubtensorURL, logger)
	defer chain.Close()

	issuance := collector.Failover{chain}
	var indexer network.Indexer
	if cfg.TaostatsAPIKey != "" {
		ts := sources.NewTaostats(fetch.New(sources.TaostatsOptions(cfg.TaostatsAPIKey), logger))
		issuance = append(issuance, ts)
		indexer = ts
	} else {
		logger.Warn("TAOSTATS_API_KEY not set, indexer fallback disabled")
	}

	opts := collector.Options{
		Source:     issuance,
		SourceName: "subtensor",
		Buffer:     history.NewBuffer(cfg.HistoryCapacity),
		Backend:    backend,
		Estimator:  emission.New(cfg.TrimFraction),
		Interval:   cfg.PollInterval,
	}
	if publisher.Len() > 0 {
		opts.Publisher = publisher
	}
	coll := collector.New(opts, logger)
	gatherer := network.NewGatherer(chain, indexer, coll, cfg.DailyEmission, logger)

	go coll.Run(ctx)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", handler.Root(serviceName))
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(pingers...))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))

		r.Get("/metrics", handler.NetworkMetrics(gatherer, &cache.Cache[*network.Metrics]{}, cfg.CacheTTL, logger))
		r.Get("/emission", handler.Emission(coll))
		r.Get("/emission/history", handler.EmissionHistory(coll, cfg.HistoryCapacity))

		r.Get("/kv/{key}", handler.KV(publisher, logger))
		r.Get("/taostats_aggregates", handler.TaostatsAggregates(publisher, logger))
		r.Get("/price_history", handler.PriceHistory(publisher, logger))
		r.Get("/dex", handler.Dex(publisher, logger))

		if db != nil {
			r.Get("/jobs", handler.JobRuns(db))
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "network", cfg.Network)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
