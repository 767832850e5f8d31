package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/spahost/cmd/backend/handlers"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/maintenance"
	"github.com/hairizuan-noorazman/spahost/operation"
	"github.com/hairizuan-noorazman/spahost/resolver"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.NewLogrusLogger(cfg.Log.Level)
	log.Info(ctx, "starting server", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res := resolver.New(a.store, a.metrics, log)
	dispatcher := operation.NewDispatcher(a.coordinator, res, log)

	// Repair leftovers of a previous run before accepting uploads.
	scheduler, err := maintenance.NewScheduler(cfg.Maintenance.Schedule, a.coordinator, log)
	if err != nil {
		return err
	}
	if _, err := scheduler.RunOnce(ctx); err != nil {
		log.Warn(ctx, "startup recovery failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Dispatcher:     dispatcher,
		ProjectStore:   a.store,
		Resolver:       res,
		Metrics:        a.metrics,
		MetricsHandler: a.metrics.Handler(),
		DB:             sqlDB,
		MaxUploadBytes: cfg.Ingest.MaxUploadSizeBytes,
		Logger:         log,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down server", nil)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(shutdownCtx, "server stopped", nil)
	return nil
}
