package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/btquang/promptrelay/internal/config"
	"github.com/btquang/promptrelay/internal/heartbeat"
	"github.com/btquang/promptrelay/internal/queue"
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
	defaultConfigPath := os.Getenv("HEARTBEAT_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/heartbeat-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateHeartbeatConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting heartbeat service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize queue store; the trigger shares the coordinator's queue
	// directories and nothing else
	store := queue.NewStore(&queue.Config{
		Root:        cfg.Queue.Root,
		ResetSignal: cfg.Queue.ResetSignal,
		Logger:      appLogger.Logger,
	})
	if err := store.EnsureLayout(); err != nil {
		return fmt.Errorf("failed to prepare queue directories: %w", err)
	}

	// Create trigger instance
	trigger := heartbeat.New(&heartbeat.Config{
		Logger:           appLogger.Logger,
		Store:            store,
		Interval:         cfg.Heartbeat.Interval,
		Prompt:           cfg.Heartbeat.Prompt,
		CollectResponses: cfg.Heartbeat.CollectResponses,
		ResponseWait:     cfg.Heartbeat.ResponseWait,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start trigger in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := trigger.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Heartbeat service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Trigger error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		trigger.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Trigger stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Trigger shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Heartbeat service shutdown complete")
	return nil
}

// initLogger initializes the application logger; a relative "file" output
// resolves into the queue's log directory
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	output := cfg.Logging.Output
	if output == "file" {
		output = filepath.Join(cfg.Queue.Root, queue.DirLogs, "heartbeat-service.log")
	}

	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}
