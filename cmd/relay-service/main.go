package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/btquang/promptrelay/internal/api"
	"github.com/btquang/promptrelay/internal/config"
	"github.com/btquang/promptrelay/internal/generator"
	"github.com/btquang/promptrelay/internal/queue"
	"github.com/btquang/promptrelay/internal/relay"
	"github.com/btquang/promptrelay/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("RELAY_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/relay-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRelayConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting relay service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize queue store
	store := queue.NewStore(&queue.Config{
		Root:        cfg.Queue.Root,
		ResetSignal: cfg.Queue.ResetSignal,
		Logger:      appLogger.Logger,
	})
	if err := store.EnsureLayout(); err != nil {
		return fmt.Errorf("failed to prepare queue directories: %w", err)
	}

	// Initialize generator runner
	runner := generator.NewRunner(&generator.Config{
		Binary:              cfg.Generator.Binary,
		SkipPermissionsFlag: cfg.Generator.SkipPermissionsFlag,
		Timeout:             cfg.Generator.Timeout,
		Logger:              appLogger.Logger,
	})

	// Create coordinator instance
	coordinator := relay.New(&relay.Config{
		Logger:       appLogger.Logger,
		Store:        store,
		Generator:    runner,
		ConfigPath:   *configPath,
		Model:        cfg.ResolveModel(cfg.Generator.Model),
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start coordinator in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := coordinator.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Start the read-only status server if enabled
	var statusServer *http.Server
	if cfg.Status.Enabled {
		router := api.SetupRouter(&api.Dependencies{
			Logger:    appLogger.Logger,
			Store:     store,
			AppName:   cfg.App.Name,
			StartedAt: coordinator.StartedAt,
		})
		statusServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Status.Port),
			Handler: router,
		}
		go func() {
			appLogger.Info("Status server listening",
				slog.Int("port", cfg.Status.Port),
			)
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Status server error",
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	appLogger.Info("Relay service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Coordinator error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop the coordinator and abort any in-flight
	// generator call
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		coordinator.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Coordinator stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Coordinator shutdown timeout exceeded, forcing exit")
	}

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Status server shutdown error",
				slog.String("error", err.Error()),
			)
		}
	}

	appLogger.Info("Relay service shutdown complete")
	return nil
}

// initLogger initializes the application logger; a relative "file" output
// resolves into the queue's log directory
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	output := cfg.Logging.Output
	if output == "file" {
		output = filepath.Join(cfg.Queue.Root, queue.DirLogs, "relay-service.log")
	}

	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}
