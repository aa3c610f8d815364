package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/btquang/promptrelay/internal/config"
	"github.com/btquang/promptrelay/internal/generator"
	"github.com/btquang/promptrelay/internal/relay/domain"
)

// processJob runs one job end to end: claim, decode, reset check, generate,
// shape, write response, complete. Resolution on failure depends on the
// failure class (see the error taxonomy in the package tests).
func (c *Coordinator) processJob(ctx context.Context, name string) {
	if err := c.store.Claim(name); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			// Lost the rename race; not an error.
			c.logger.Debug("Job already claimed, skipping",
				slog.String("job", name),
			)
			return
		}
		c.logger.Error("Failed to claim job",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return
	}

	job, err := c.store.ReadJob(name)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedJob) {
			// A corrupt record cannot be safely replayed; abandon it in
			// processing for an operator to inspect.
			c.logger.Error("Malformed job record, abandoning",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		c.logger.Error("Failed to read job",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		c.resolveFailure(name)
		return
	}

	c.logger.Info("Processing job",
		jobAttrs(job)...,
	)

	continueConversation := true
	if c.store.ResetRequested() {
		if err := c.store.ConsumeReset(); err != nil {
			c.logger.Error("Failed to consume reset signal",
				slog.String("error", err.Error()),
			)
		} else {
			continueConversation = false
			c.logger.Info("Reset signal consumed, starting fresh conversation",
				slog.String("job", name),
			)
		}
	}

	text, err := c.gen.Generate(ctx, &generator.Request{
		Prompt:   job.Message,
		Continue: continueConversation,
		Model:    c.modelHint(),
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown canceled the call mid-flight. The job was never
			// answered, so it goes back to pending for the next run
			// rather than completing with the fallback text. Does not
			// count toward the attempt ceiling.
			c.logger.Info("Generation interrupted by shutdown, releasing job",
				jobAttrs(job)...,
			)
			if relErr := c.store.Release(name); relErr != nil {
				c.logger.Error("Failed to release job, leaving it stranded in processing",
					slog.String("job", name),
					slog.String("error", relErr.Error()),
				)
			}
			return
		}
		// Generation failures are user-visible soft failures, not job
		// failures; the job still completes with the fallback text.
		c.logger.Error("Generator invocation failed, using fallback response",
			append(jobAttrs(job), slog.String("error", err.Error()))...,
		)
		text = domain.FallbackResponse
	}

	rec := &domain.Response{
		Channel:         job.Channel,
		Sender:          job.Sender,
		OriginalMessage: job.Message,
		Message:         ShapeResponse(text),
		Timestamp:       time.Now().UnixMilli(),
		MessageID:       job.MessageID,
	}

	if err := c.store.WriteResponse(rec); err != nil {
		c.logger.Error("Failed to write response, releasing job",
			append(jobAttrs(job), slog.String("error", err.Error()))...,
		)
		c.resolveFailure(name)
		return
	}

	if err := c.store.Complete(name); err != nil {
		c.logger.Error("Failed to remove completed job",
			append(jobAttrs(job), slog.String("error", err.Error()))...,
		)
		c.resolveFailure(name)
		return
	}

	delete(c.attempts, name)

	c.logger.Info("Job completed",
		slog.String("job", name),
		slog.String("channel", job.Channel),
		slog.String("message_id", job.MessageID),
	)
}

// resolveFailure returns a failed job to incoming for a later retry, or
// dead-letters it once the attempt ceiling is hit. A failed release leaves
// the job stranded in processing for manual intervention.
func (c *Coordinator) resolveFailure(name string) {
	c.attempts[name]++

	if c.maxAttempts > 0 && c.attempts[name] >= c.maxAttempts {
		if err := c.store.Fail(name); err != nil {
			c.logger.Error("Failed to dead-letter job, leaving it stranded in processing",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		delete(c.attempts, name)
		c.logger.Error("Job moved to failed directory after exhausting attempts",
			slog.String("job", name),
			slog.Int("attempts", c.maxAttempts),
		)
		return
	}

	if err := c.store.Release(name); err != nil {
		c.logger.Error("Failed to release job, leaving it stranded in processing",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("Job released for retry",
		slog.String("job", name),
		slog.Int("attempt", c.attempts[name]),
	)
}

// modelHint re-reads the settings document for the model alias and resolves
// it. Settings are read once per job, never cached, so an edited config
// takes effect on the very next job. A read failure falls back to the
// boot-time hint.
func (c *Coordinator) modelHint() string {
	if c.configPath == "" {
		return c.model
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		c.logger.Error("Failed to reload settings, keeping boot-time model hint",
			slog.String("error", err.Error()),
		)
		return c.model
	}
	return cfg.ResolveModel(cfg.Generator.Model)
}

// ShapeResponse trims the generated text and bounds its length. Text over
// ResponseMaxLen runes is cut to ResponseTruncLen with the marker appended;
// already-shaped text passes through unchanged, so applying it twice is a
// no-op.
func ShapeResponse(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= domain.ResponseMaxLen {
		return text
	}
	return string(runes[:domain.ResponseTruncLen]) + domain.TruncationMarker
}

// jobAttrs builds log context without retaining the full payload: the
// sender is reduced to a prefix, the message to its head.
func jobAttrs(job *domain.Job) []any {
	return []any{
		slog.String("channel", job.Channel),
		slog.String("sender", prefix(job.Sender, 8)),
		slog.String("message", prefix(job.Message, 80)),
		slog.String("message_id", job.MessageID),
	}
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
