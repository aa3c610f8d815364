// Package generator wraps the external text-generation CLI behind a single
// call contract. The tool holds conversational state across calls, so it
// must never be invoked concurrently; the coordinator enforces that.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Request describes a single invocation
type Request struct {
	// Prompt is the message text, passed as the final argument
	Prompt string
	// Continue keeps the prior conversation; false after a reset
	Continue bool
	// Model is the concrete model identifier; empty uses the tool default
	Model string
}

// Generator is the invocation contract the coordinator depends on
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// Config holds runner configuration
type Config struct {
	// Binary is the CLI executable, resolved through PATH
	Binary string
	// SkipPermissionsFlag suppresses the tool's interactive permission
	// prompts; always passed when non-empty
	SkipPermissionsFlag string
	// Timeout bounds one invocation; 0 means no timeout
	Timeout time.Duration
	Logger  *slog.Logger
}

// Runner invokes the CLI as a subprocess; stdout is the response text
type Runner struct {
	binary   string
	skipFlag string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner for the configured binary
func NewRunner(cfg *Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		binary:   cfg.Binary,
		skipFlag: cfg.SkipPermissionsFlag,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Generate runs one invocation. Non-zero exit, a start failure, or hitting
// the timeout is an error carrying a stderr excerpt; the caller decides
// what a failure means for the job.
func (r *Runner) Generate(ctx context.Context, req *Request) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := r.buildArgs(req)

	r.logger.Debug("Invoking generator",
		slog.String("binary", r.binary),
		slog.Bool("continue", req.Continue),
		slog.String("model", req.Model),
	)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("generator canceled after %s: %w", elapsed.Round(time.Millisecond), ctxErr)
		}
		return "", fmt.Errorf("generator failed after %s: %w (stderr: %s)",
			elapsed.Round(time.Millisecond), err, excerpt(stderr.String()))
	}

	r.logger.Debug("Generator finished",
		slog.Duration("elapsed", elapsed),
		slog.Int("response_len", stdout.Len()),
	)

	return stdout.String(), nil
}

// buildArgs assembles the CLI arguments; the prompt is always last
func (r *Runner) buildArgs(req *Request) []string {
	args := make([]string, 0, 6)
	if r.skipFlag != "" {
		args = append(args, r.skipFlag)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Continue {
		args = append(args, "--continue")
	}
	args = append(args, req.Prompt)
	return args
}

// excerpt keeps error logs readable when the tool dumps a stack trace
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
