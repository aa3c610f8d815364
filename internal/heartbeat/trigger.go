// Package heartbeat implements the periodic trigger: an independent process
// that enqueues a synthetic job on a fixed interval, through the exact same
// producer path a channel adapter uses. The coordinator has no special case
// for it beyond the response filename convention.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btquang/promptrelay/internal/queue"
	"github.com/btquang/promptrelay/internal/relay/domain"
)

// Config holds trigger configuration
type Config struct {
	Logger   *slog.Logger
	Store    *queue.Store
	Interval time.Duration
	Prompt   string
	// CollectResponses makes the trigger poll the outgoing directory for
	// its own response and discard it after reading
	CollectResponses bool
	// ResponseWait bounds how long one tick waits for its response
	ResponseWait time.Duration
}

// Trigger synthesizes jobs on a timer
type Trigger struct {
	logger           *slog.Logger
	store            *queue.Store
	interval         time.Duration
	prompt           string
	collectResponses bool
	responseWait     time.Duration

	// triggerID ties this process's message ids together; combined with
	// epoch millis it keeps ids unique among in-flight jobs
	triggerID string
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

// New creates a trigger instance
func New(cfg *Config) *Trigger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Trigger{
		logger:           logger,
		store:            cfg.Store,
		interval:         interval,
		prompt:           cfg.Prompt,
		collectResponses: cfg.CollectResponses,
		responseWait:     cfg.ResponseWait,
		triggerID:        uuid.New().String()[:8],
		stopChan:         make(chan struct{}),
	}
}

// Start fires one tick per interval until the context is canceled
func (t *Trigger) Start(ctx context.Context) error {
	t.logger.Info("Starting heartbeat trigger",
		slog.String("trigger_id", t.triggerID),
		slog.Duration("interval", t.interval),
		slog.Bool("collect_responses", t.collectResponses),
	)

	if err := t.store.EnsureLayout(); err != nil {
		return err
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.wg.Add(1)
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Heartbeat trigger context canceled, stopping")
			return nil
		case <-t.stopChan:
			t.logger.Info("Heartbeat trigger stop requested")
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the tick in progress
func (t *Trigger) Stop() {
	t.logger.Info("Stopping heartbeat trigger...")
	close(t.stopChan)
	t.wg.Wait()
	t.logger.Info("Heartbeat trigger stopped")
}

// tick enqueues one synthetic job and optionally waits for its response
func (t *Trigger) tick(ctx context.Context) {
	job := t.newJob()

	if err := t.store.Enqueue(job); err != nil {
		t.logger.Error("Failed to enqueue heartbeat job",
			slog.String("message_id", job.MessageID),
			slog.String("error", err.Error()),
		)
		return
	}

	t.logger.Info("Heartbeat job enqueued",
		slog.String("message_id", job.MessageID),
	)

	if t.collectResponses {
		t.collectResponse(ctx, job.MessageID)
	}
}

// newJob builds the synthetic job record on the reserved channel
func (t *Trigger) newJob() *domain.Job {
	now := time.Now()
	return &domain.Job{
		Channel:   domain.ChannelHeartbeat,
		Sender:    "heartbeat",
		SenderID:  fmt.Sprintf("%s-%d", t.triggerID, os.Getpid()),
		Message:   t.prompt,
		Timestamp: now.UnixMilli(),
		MessageID: fmt.Sprintf("%d-%s", now.UnixMilli(), t.triggerID),
	}
}

// collectResponse polls the outgoing directory for this tick's response,
// keyed by <messageId>.json, and deletes it after reading
func (t *Trigger) collectResponse(ctx context.Context, messageID string) {
	name := messageID + domain.JobFileExt
	deadline := time.Now().Add(t.responseWait)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(time.Second):
		}

		rec, err := t.store.ReadResponse(name)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			t.logger.Error("Failed to read heartbeat response",
				slog.String("message_id", messageID),
				slog.String("error", err.Error()),
			)
			return
		}

		t.logger.Info("Heartbeat response collected",
			slog.String("message_id", messageID),
			slog.Int("response_len", len(rec.Message)),
		)

		if err := t.store.RemoveResponse(name); err != nil {
			t.logger.Error("Failed to discard heartbeat response",
				slog.String("message_id", messageID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	t.logger.Debug("Heartbeat response not seen before deadline",
		slog.String("message_id", messageID),
	)
}
