package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/b0r1v0j3/workers-united/api"
	dbfs "github.com/b0r1v0j3/workers-united/db"
	"github.com/b0r1v0j3/workers-united/internal/config"
	"github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/b0r1v0j3/workers-united/internal/jobs"
	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/internal/repository/sqlite"
	"github.com/b0r1v0j3/workers-united/internal/sweeper"
	"github.com/b0r1v0j3/workers-united/internal/verify"
	"github.com/b0r1v0j3/workers-united/pkg/ollama"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	ollama.SetLogger(logger)

	logger.Info("starting workers-united server", "version", version, "build_time", buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer conn.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn, dbfs.Migrations); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
	}

	store := sqlite.New(conn, logger)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// The engine enqueues notifications; the pool delivers them.
	pool := jobs.NewWorkerPool(store, nil, jobs.Options{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		Logger:       logger,
		Metrics:      collector,
	})
	var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: logger}
	if cfg.Notify.RelayURL != "" {
		dispatcher = notify.NewHTTPDispatcher(cfg.Notify.RelayURL, cfg.Notify.From, cfg.Notify.Timeout, nil)
	}
	notify.Register(pool, dispatcher)
	pool.Start(ctx)
	defer pool.Stop()

	engine := matching.NewEngine(store, notify.NewQueueNotifier(store, cfg.Jobs.MaxAttempts, logger), matching.Options{
		OfferTTL:      cfg.Matching.OfferTTL,
		RefundWindow:  cfg.Matching.RefundWindow,
		MinConfidence: cfg.Verify.MinConfidence,
		Logger:        logger,
		Metrics:       collector,
	})

	sw := sweeper.New(engine, store, sweeper.Options{Logger: logger, Metrics: collector})
	if cfg.Sweeper.Enabled {
		sched := sweeper.NewScheduler(ctx, sw, sweeper.SchedulerConfig{
			Interval:   cfg.Sweeper.Interval,
			AutoMatch:  cfg.Sweeper.AutoMatch,
			RunOnStart: true,
		}, logger)
		sched.Start()
		defer sched.Stop()
	}

	var verifier *verify.Verifier
	if cfg.Verify.Enabled {
		client, err := ollama.NewDefaultClient(cfg.Verify.Ollama)
		if err != nil {
			log.Fatalf("Failed to create ollama client: %v", err)
		}
		defer client.Close()
		if err := client.Health(ctx); err != nil {
			// Verification requests fail until the model host is back.
			logger.Warn("ollama health check failed", "error", err)
		}
		verifier = verify.New(client, cfg.Verify.Model, logger)
	}

	handler, err := api.SetupRoutes(api.Deps{
		Config:    cfg,
		Version:   version,
		BuildTime: buildTime,
		DB:        conn.GetConn(),
		Store:     store,
		Engine:    engine,
		Sweeper:   sw,
		Verifier:  verifier,
		Metrics:   collector,
		Gatherer:  prometheus.DefaultGatherer,
	})
	if err != nil {
		log.Fatalf("Failed to set up routes: %v", err)
	}

	writeTimeout := cfg.APITimeout
	if verifier != nil && cfg.Verify.Ollama.Timeout > writeTimeout {
		writeTimeout = cfg.Verify.Ollama.Timeout
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
