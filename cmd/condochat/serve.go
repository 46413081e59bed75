package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/condohub/condochat/internal/api"
	"github.com/condohub/condochat/internal/config"
	"github.com/condohub/condochat/internal/repository"
	"github.com/condohub/condochat/internal/service"
	"github.com/condohub/condochat/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger
	logger, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	// Durable store; the pool connects lazily so an unreachable database
	// does not stop the server from starting
	pool, err := repository.NewPool(ctx, repository.PoolConfig{
		URL:            cfg.Database.URL,
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.Ping(ctx, pool, cfg.Database.PingTimeout); err != nil {
		logger.Warn("PostgreSQL is not reachable, requests will be served from memory once it fails",
			zap.Error(err))
	} else if cfg.Database.MigrateOnStart {
		if err := repository.RunMigrations(cfg.Database.URL, repository.MigrationsFS(), logger); err != nil {
			logger.Warn("Failed to apply migrations", zap.Error(err))
		}
	}

	// Volatile fallback
	fallbackDB, err := repository.NewDB(cfg.Store.FallbackDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize fallback store: %w", err)
	}
	defer fallbackDB.Close()

	var policy repository.DegradePolicy = repository.DegradeOnAny
	if cfg.Store.DegradeOn == config.DegradeOnConnectivity {
		policy = repository.DegradeOnConnectivity
	}

	store := repository.NewHybridStore(
		repository.NewPostgresStore(pool),
		repository.NewVolatileStore(fallbackDB),
		repository.WithDegradePolicy(policy),
		repository.WithLogger(logger.Named("store")),
	)

	sessionService := service.NewSessionService(cfg, store, logger.Named("service"))

	// Setup router
	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(sessionService, logger.Named("http"), api.RouterConfig{
		AllowOrigins: cfg.CORS.AllowOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting condochat server",
			zap.String("address", cfg.Address()),
			zap.String("degrade_on", cfg.Store.DegradeOn),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited", zap.Bool("degraded", store.Degraded()))
	return nil
}
