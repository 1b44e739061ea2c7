/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the yield engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file + env overrides)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire the ledger mutator, commission observer, and domain services
  5. Start the accrual scheduler and (optionally) the Kafka watcher
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (optional; env vars also work,
           e.g. YIELD_SERVER_PORT=9090)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Stop the scheduler and wait for the in-flight run
  3. Close the Kafka consumer and database

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/warp/yield-engine/api"
	"github.com/warp/yield-engine/config"
	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/invest"
	"github.com/warp/yield-engine/ledger"
	"github.com/warp/yield-engine/logging"
	"github.com/warp/yield-engine/referral"
	"github.com/warp/yield-engine/store/sqlite"
	"github.com/warp/yield-engine/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	commissionRate, err := decimal.NewFromString(cfg.Referral.Rate)
	if err != nil {
		logger.Fatalw("invalid referral rate", "rate", cfg.Referral.Rate, "error", err)
	}

	// Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatalw("failed to initialize database", "path", cfg.Database.Path, "error", err)
	}
	defer store.Close()

	// Ledger core. The commission observer fires on newly applied
	// entries only, so replays and retries never double-pay referrers.
	mutator := ledger.NewMutator(store)
	mutator.AddObserver(referral.NewEngine(store, mutator, commissionRate, logger))

	// Domain services
	investSvc := invest.NewService(store, mutator)

	pool, err := ants.NewPool(cfg.Scheduler.Workers)
	if err != nil {
		logger.Fatalw("failed to create accrual pool", "error", err)
	}
	defer pool.Release()

	engine := invest.NewEngine(store, mutator, pool, logger)
	reconciler := funding.NewReconciler(store, mutator, cfg.Deposits.MinConfirmations, logger)
	workflow := funding.NewWorkflow(store, mutator, cfg.Withdrawals.TTL, logger)

	// Background scheduler
	scheduler := api.NewAccrualScheduler(engine, workflow, cfg.Scheduler.Interval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// Optional chain watcher
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled {
		w, err := watcher.New(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, reconciler, logger)
		if err != nil {
			logger.Fatalw("failed to create chain watcher", "error", err)
		}
		defer w.Close()
		go func() {
			if err := w.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.Errorw("chain watcher stopped", "error", err)
			}
		}()
		logger.Infow("chain watcher started",
			"brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group)
	}

	// HTTP API
	handler := &api.Handler{
		Mutator:       mutator,
		Invest:        investSvc,
		Positions:     store,
		Deposits:      store,
		Withdrawals:   store,
		Reconciler:    reconciler,
		Workflow:      workflow,
		Scheduler:     scheduler,
		GatewaySecret: cfg.Gateway.Secret,
		Log:           logger,
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infow("shutting down")
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("forced shutdown", "error", err)
	}

	logger.Infow("server stopped")
}
