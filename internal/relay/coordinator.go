// Package relay implements the queue coordinator: a single poller that
// claims pending jobs oldest first and processes them strictly one at a
// time. Sequential processing is load-bearing, not an optimization target:
// the external generator keeps conversational state across calls, and
// parallel invocation would interleave unrelated conversations.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/btquang/promptrelay/internal/generator"
	"github.com/btquang/promptrelay/internal/queue"
)

// Config holds coordinator configuration
type Config struct {
	Logger    *slog.Logger
	Store     *queue.Store
	Generator generator.Generator
	// ConfigPath is re-read per job for the model hint; settings are
	// deliberately not cached
	ConfigPath string
	// Model is the boot-time resolved model hint, used when the per-job
	// settings re-read fails
	Model        string
	PollInterval time.Duration
	// MaxAttempts dead-letters a job after this many release-backs;
	// 0 retries forever
	MaxAttempts int
}

// Coordinator owns the poll/claim/process/resolve loop
type Coordinator struct {
	logger       *slog.Logger
	store        *queue.Store
	gen          generator.Generator
	configPath   string
	model        string
	pollInterval time.Duration
	maxAttempts  int

	// attempts counts release-backs per job file name; in-memory only,
	// which is fine for a single consumer (a restart resets the count
	// along with everything else)
	attempts map[string]int

	workerID  string
	startedAt time.Time
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

// New creates a coordinator instance
func New(cfg *Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Coordinator{
		logger:       logger,
		store:        cfg.Store,
		gen:          cfg.Generator,
		configPath:   cfg.ConfigPath,
		model:        cfg.Model,
		pollInterval: pollInterval,
		maxAttempts:  cfg.MaxAttempts,
		attempts:     make(map[string]int),
		workerID:     "relay-" + uuid.New().String()[:8],
		stopChan:     make(chan struct{}),
	}
}

// StartedAt reports when Start was called, for the status API
func (c *Coordinator) StartedAt() time.Time {
	return c.startedAt
}

// Start recovers stranded jobs, then polls until the context is canceled.
// Cancellation also aborts an in-flight generator call.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startedAt = time.Now()

	c.logger.Info("Starting coordinator",
		slog.String("worker_id", c.workerID),
		slog.Duration("poll_interval", c.pollInterval),
		slog.Int("max_attempts", c.maxAttempts),
	)

	if err := c.store.EnsureLayout(); err != nil {
		return err
	}

	recovered, err := c.store.Recover()
	if err != nil {
		return err
	}
	if recovered > 0 {
		c.logger.Info("Requeued jobs stranded by a previous run",
			slog.Int("count", recovered),
		)
	}

	wake := c.watchIncoming(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.wg.Add(1)
	defer c.wg.Done()

	// Jobs already waiting, including the ones Recover just requeued, get
	// a first cycle without waiting out a tick.
	attempted := c.pollCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator context canceled, stopping")
			return nil
		case <-c.stopChan:
			c.logger.Info("Coordinator stop requested")
			return nil
		case <-ticker.C:
			attempted = c.pollCycle(ctx)
		case <-wake:
			// The watcher cannot tell a fresh job from a file the last
			// cycle released back after a failure. Honoring wake-ups only
			// after an idle cycle keeps retry pacing on the poll interval
			// instead of spinning on the coordinator's own renames.
			if attempted > 0 {
				continue
			}
			attempted = c.pollCycle(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the cycle in progress
func (c *Coordinator) Stop() {
	c.logger.Info("Stopping coordinator...")
	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Coordinator stopped")
}

// pollCycle lists pending jobs and processes the whole batch sequentially,
// oldest first. Job i fully completes, generator call included, before job
// i+1 starts. Returns how many jobs the cycle attempted, so the loop can
// tell a busy cycle from an idle one.
func (c *Coordinator) pollCycle(ctx context.Context) int {
	pending, err := c.store.ListPending()
	if err != nil {
		c.logger.Error("Failed to list pending jobs",
			slog.String("error", err.Error()),
		)
		return 0
	}

	if len(pending) == 0 {
		return 0
	}

	c.logger.Debug("Poll cycle",
		slog.Int("pending", len(pending)),
	)

	attempted := 0
	for _, p := range pending {
		select {
		case <-ctx.Done():
			return attempted
		case <-c.stopChan:
			return attempted
		default:
		}
		c.processJob(ctx, p.Name)
		attempted++
	}
	return attempted
}

// watchIncoming wakes the poll loop when a file lands in the incoming
// directory, so fresh jobs don't wait out the tick. Best effort: if the
// watcher cannot start, the ticker alone drives the loop.
func (c *Coordinator) watchIncoming(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("Incoming watcher unavailable, polling only",
			slog.String("error", err.Error()),
		)
		return wake
	}
	if err := watcher.Add(c.store.IncomingDir()); err != nil {
		c.logger.Warn("Failed to watch incoming directory, polling only",
			slog.String("error", err.Error()),
		)
		watcher.Close()
		return wake
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("Incoming watcher error",
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return wake
}
