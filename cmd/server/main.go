/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cession engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Open the ledger store (sqlite, postgres or memory)
  4. Ensure a bootstrap ADMIN exists
  5. Create API handler, authenticator and reconciliation scheduler
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)
  -port    HTTP server port, overrides server.port

ENVIRONMENT:
  Every config key can be set from the environment with "." replaced
  by "_", e.g. DATABASE_DRIVER=postgres, DATABASE_URL=..., AUTH_SIGNING_KEY=...

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the reconciliation scheduler
  4. Close the store
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and defaults
  - cmd/issue-token: Issue a bearer token for a directory user
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

	"go.uber.org/zap"

	"github.com/warp/cession-engine/api"
	"github.com/warp/cession-engine/config"
	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/ledger/store"
	"github.com/warp/cession-engine/logger"
	"github.com/warp/cession-engine/store/postgres"
	"github.com/warp/cession-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logs, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logs.Sync() }()

	if err := run(cfg, logs); err != nil {
		logs.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logs *logger.Logger) error {
	log := logs.Named("server")
	ctx := context.Background()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	// Initialize handler
	handler := api.NewHandler(st, cfg.Database.OperationTimeout, logs.Named("api"))

	admin, err := handler.Users.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.AdminName, cfg.Bootstrap.AdminEmail)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if admin != nil {
		log.Info("bootstrap admin ready", zap.String("user_id", string(admin.ID)), zap.String("email", admin.Email))
	}

	scheduler, err := api.NewReconciliationScheduler(handler.Policies, handler.Reports, cfg.Scheduler.PoolSize, logs.Named("reconciliation"))
	if err != nil {
		return err
	}
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	auth := &api.Authenticator{
		Tokens: api.TokenConfig{
			SigningKey: []byte(cfg.Auth.SigningKey),
			Issuer:     cfg.Auth.Issuer,
			ExpiresIn:  cfg.Auth.TokenTTL,
		},
		Users: handler.Users,
		Log:   logs.Named("auth"),
	}

	// Create router
	router := api.NewRouter(handler, auth, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		LogLevel:       logs.Level,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// openStore opens the configured ledger store and returns its closer.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (ledger.TxStore, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			URL:      cfg.URL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
