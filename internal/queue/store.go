// Package queue implements the directory-backed job queue. A job's state is
// its file location: incoming = pending, processing = in flight, a response
// in outgoing plus a deleted job file = done. All transitions are renames or
// deletes, never in-place edits, so a claim either wins the rename or
// observes the file already gone.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/btquang/promptrelay/internal/relay/domain"
)

// Directory names under the queue root
const (
	DirIncoming   = "incoming"
	DirProcessing = "processing"
	DirOutgoing   = "outgoing"
	DirFailed     = "failed"
	DirLogs       = "logs"
)

// defaultResetSignal is the flag file consumed by the first job processed
// after it appears
const defaultResetSignal = "reset_signal"

// Config holds queue store configuration
type Config struct {
	Root string
	// ResetSignal overrides the flag file path; empty means
	// <root>/reset_signal
	ResetSignal string
	Logger      *slog.Logger
}

// Store provides the atomic filesystem primitives the coordinator and the
// producers rely on
type Store struct {
	root        string
	resetSignal string
	logger      *slog.Logger
}

// PendingJob is an incoming job file annotated with its modification time
type PendingJob struct {
	Name    string
	ModTime time.Time
}

// Depths reports how many files sit in each queue directory
type Depths struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Outgoing   int `json:"outgoing"`
	Failed     int `json:"failed"`
}

// NewStore creates a store rooted at cfg.Root
func NewStore(cfg *Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resetSignal := cfg.ResetSignal
	if resetSignal == "" {
		resetSignal = filepath.Join(cfg.Root, defaultResetSignal)
	}
	return &Store{
		root:        cfg.Root,
		resetSignal: resetSignal,
		logger:      logger,
	}
}

// EnsureLayout idempotently creates the queue directories
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{DirIncoming, DirProcessing, DirOutgoing, DirFailed, DirLogs} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create queue directory %s: %w", dir, err)
		}
	}
	return nil
}

// ListPending returns the job files currently in the incoming directory,
// sorted oldest first (ties broken by name for a stable order)
func (s *Store) ListPending() ([]PendingJob, error) {
	entries, err := os.ReadDir(s.dir(DirIncoming))
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming directory: %w", err)
	}

	jobs := make([]PendingJob, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != domain.JobFileExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between listing and stat; another claimer
			// or the producer took it.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		jobs = append(jobs, PendingJob{Name: entry.Name(), ModTime: info.ModTime()})
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].ModTime.Equal(jobs[j].ModTime) {
			return jobs[i].Name < jobs[j].Name
		}
		return jobs[i].ModTime.Before(jobs[j].ModTime)
	})

	return jobs, nil
}

// Claim atomically moves a job file from incoming to processing. Losing the
// rename race surfaces as domain.ErrAlreadyClaimed; the caller skips the
// job rather than retrying.
func (s *Store) Claim(name string) error {
	err := os.Rename(s.path(DirIncoming, name), s.path(DirProcessing, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrAlreadyClaimed
		}
		return fmt.Errorf("failed to claim %s: %w", name, err)
	}
	return nil
}

// Release moves a claimed job back to incoming so a later poll cycle can
// retry it
func (s *Store) Release(name string) error {
	if err := os.Rename(s.path(DirProcessing, name), s.path(DirIncoming, name)); err != nil {
		return fmt.Errorf("failed to release %s: %w", name, err)
	}
	return nil
}

// Fail moves a claimed job to the failed directory; used once the attempt
// ceiling is exceeded
func (s *Store) Fail(name string) error {
	if err := os.Rename(s.path(DirProcessing, name), s.path(DirFailed, name)); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", name, err)
	}
	return nil
}

// Complete deletes a claimed job after its response has been written
func (s *Store) Complete(name string) error {
	if err := os.Remove(s.path(DirProcessing, name)); err != nil {
		return fmt.Errorf("failed to complete %s: %w", name, err)
	}
	return nil
}

// ReadJob decodes the claimed job file
func (s *Store) ReadJob(name string) (*domain.Job, error) {
	data, err := os.ReadFile(s.path(DirProcessing, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", name, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedJob, err)
	}
	return &job, nil
}

// Enqueue writes a job record into the incoming directory; this is the same
// producer path the external channel adapters use
func (s *Store) Enqueue(job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	name := fmt.Sprintf("%s_%s%s", job.Channel, job.MessageID, domain.JobFileExt)
	if err := os.WriteFile(s.path(DirIncoming, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ResponseFileName returns the outgoing filename for a response. The
// heartbeat channel is keyed by message id alone so the trigger can find
// its own response; other channels embed the channel and completion time to
// avoid collisions.
func ResponseFileName(rec *domain.Response) string {
	if rec.Channel == domain.ChannelHeartbeat {
		return rec.MessageID + domain.JobFileExt
	}
	return fmt.Sprintf("%s_%s_%d%s", rec.Channel, rec.MessageID, rec.Timestamp, domain.JobFileExt)
}

// WriteResponse writes a response record into the outgoing directory. Side
// effect only; the job file transition is the caller's business.
func (s *Store) WriteResponse(rec *domain.Response) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := os.WriteFile(s.path(DirOutgoing, ResponseFileName(rec)), data, 0o644); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// ReadResponse reads and decodes an outgoing response file by name
func (s *Store) ReadResponse(name string) (*domain.Response, error) {
	data, err := os.ReadFile(s.path(DirOutgoing, name))
	if err != nil {
		return nil, err
	}
	var rec domain.Response
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode response %s: %w", name, err)
	}
	return &rec, nil
}

// RemoveResponse deletes an outgoing response file by name
func (s *Store) RemoveResponse(name string) error {
	return os.Remove(s.path(DirOutgoing, name))
}

// Recover moves every file stranded in processing back to incoming. Run
// once at startup, before the coordinator loop, so jobs claimed by a
// crashed run become pending again.
func (s *Store) Recover() (int, error) {
	entries, err := os.ReadDir(s.dir(DirProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to list processing directory: %w", err)
	}

	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != domain.JobFileExt {
			continue
		}
		if err := s.Release(entry.Name()); err != nil {
			return recovered, err
		}
		s.logger.Info("Recovered stranded job",
			slog.String("job", entry.Name()),
		)
		recovered++
	}
	return recovered, nil
}

// ResetRequested reports whether the reset flag file exists
func (s *Store) ResetRequested() bool {
	_, err := os.Stat(s.resetSignal)
	return err == nil
}

// ConsumeReset deletes the reset flag file. A missing file is not an
// error; someone else consumed it first.
func (s *Store) ConsumeReset() error {
	if err := os.Remove(s.resetSignal); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to consume reset signal: %w", err)
	}
	return nil
}

// RequestReset creates the reset flag file
func (s *Store) RequestReset() error {
	if err := os.WriteFile(s.resetSignal, nil, 0o644); err != nil {
		return fmt.Errorf("failed to create reset signal: %w", err)
	}
	return nil
}

// Depths counts the files in each queue directory, for the status API
func (s *Store) Depths() (*Depths, error) {
	var d Depths
	for dir, target := range map[string]*int{
		DirIncoming:   &d.Pending,
		DirProcessing: &d.Processing,
		DirOutgoing:   &d.Outgoing,
		DirFailed:     &d.Failed,
	} {
		entries, err := os.ReadDir(s.dir(dir))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s directory: %w", dir, err)
		}
		count := 0
		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == domain.JobFileExt {
				count++
			}
		}
		*target = count
	}
	return &d, nil
}

// IncomingDir exposes the incoming directory path for the watcher
func (s *Store) IncomingDir() string {
	return s.dir(DirIncoming)
}

// LogDir exposes the log directory path
func (s *Store) LogDir() string {
	return s.dir(DirLogs)
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) path(dir, name string) string {
	return filepath.Join(s.root, dir, name)
}
