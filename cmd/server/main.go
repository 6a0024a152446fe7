/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the harvest ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (configs/config.yaml, .env, HARVEST_* env)
  2. Build the zap logger
  3. Open the SQL store (SQLite or Postgres)
  4. Connect the Redis wallet cache, if enabled (continues without it)
  5. Register Prometheus metrics, if enabled
  6. Build the ledger with its observers
  7. Configure HTTP router, start the sweeper and the server

COMMAND-LINE FLAGS:
  -config  Config file path (default: configs/config.yaml, optional)
  -port    Overrides server.port
  -db      Overrides database.dsn

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close cache and database connections

EXAMPLES:
  # SQLite file
  ./server -db="./data/harvest.db"

  # In-memory SQLite
  ./server -db=":memory:"

  # Postgres with JWT auth
  HARVEST_DATABASE_DRIVER=pgx \
  HARVEST_DATABASE_DSN=postgres://harvest@localhost/harvest \
  HARVEST_JWT_SECRET=change-me ./server

SEE ALSO:
  - config/config.go: All configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/warp/harvest-ledger/api"
	"github.com/warp/harvest-ledger/cache"
	"github.com/warp/harvest-ledger/config"
	"github.com/warp/harvest-ledger/harvest"
	"github.com/warp/harvest-ledger/logging"
	"github.com/warp/harvest-ledger/metrics"
	"github.com/warp/harvest-ledger/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", config.DefaultPath, "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Database DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logger.Development,
		Encoding:    cfg.Logger.Encoding,
		Level:       cfg.Logger.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	ledger := harvest.NewLedger(store, harvest.Config{SaleCrops: cfg.Settlement.SaleCrops}, logger.Named("ledger"))
	var observers harvest.Observers

	// Wallet cache
	var wallets *cache.WalletCache
	if cfg.Redis.Enabled {
		wallets, err = cache.Connect(context.Background(), cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger.Named("cache"))
		if err != nil {
			logger.Warn("redis unavailable, wallet cache disabled", zap.Error(err))
		} else {
			defer wallets.Close()
			observers = append(observers, wallets)
		}
	}

	// Metrics
	routerOpts := api.RouterOptions{
		CorsOrigins: cfg.Server.CorsAllowedOrigins,
		Logger:      logger.Named("http"),
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		observers = append(observers, collector)
		routerOpts.Metrics = collector
		routerOpts.Gatherer = reg
	}
	if len(observers) > 0 {
		ledger.Observer = observers
	}

	// Auth
	if cfg.JWT.Secret == "" {
		logger.Warn("jwt secret not set, identity taken from X-Company-ID headers")
	}
	routerOpts.Auth = api.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Sweeper
	sweeper := api.NewSweeper(ledger, logger)
	sweeper.Enabled = cfg.Sweep.Enabled
	if cfg.Sweep.Interval > 0 {
		sweeper.Interval = cfg.Sweep.Interval
	}
	routerOpts.Sweeper = sweeper

	handler := api.NewHandler(ledger, store, wallets, logger.Named("api"))
	router := api.NewRouter(handler, routerOpts)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sweeper.Start()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		sweeper.Stop()
		return err
	}

	logger.Info("shutting down server")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
