package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"parley/backend/features/message"
	"parley/backend/internal/config"
)

// ErrRunInProgress is returned when a run start is requested while another
// run is active. Requests are rejected, not queued.
var ErrRunInProgress = errors.New("re-embedding run already in progress")

type State string

const (
	StateIdle                State = "idle"
	StateRunning             State = "running"
	StateCompleted           State = "completed"
	StateCompletedWithErrors State = "completed_with_errors"
	StateAborted             State = "aborted"
)

// RunStatus is a snapshot of the current or most recent run.
type RunStatus struct {
	State             State      `json:"state"`
	MessagesProcessed int        `json:"messages_processed"`
	MessagesFailed    int        `json:"messages_failed"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

type Tracker interface {
	ListPending(ctx context.Context, limit, offset int) ([]message.Message, error)
}

type Ingestor interface {
	EmbedMessage(ctx context.Context, m message.Message) (int, error)
}

// Publisher notifies interested consumers (the chat app's indexing UI) when
// a run finishes. It is optional.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Scheduler drives incremental re-embedding. At most one run is active at a
// time; the mutex-guarded running flag is the only shared mutable state in
// the process.
type Scheduler struct {
	tracker  Tracker
	ingest   Ingestor
	pub      Publisher
	interval time.Duration
	pageSize int

	mu      sync.Mutex
	running bool
	status  RunStatus
}

func New(tracker Tracker, ingest Ingestor, pub Publisher, interval time.Duration, pageSize int) *Scheduler {
	return &Scheduler{
		tracker:  tracker,
		ingest:   ingest,
		pub:      pub,
		interval: interval,
		pageSize: pageSize,
		status:   RunStatus{State: StateIdle},
	}
}

// Start runs the periodic loop until ctx is cancelled. A tick that lands
// while a run is active is skipped rather than queued.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("re-embedding scheduler started", "interval", s.interval, "page_size", s.pageSize)
	for {
		select {
		case <-ctx.Done():
			slog.Info("re-embedding scheduler stopped")
			return
		case <-ticker.C:
			if err := s.TryRun(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
				slog.Error("scheduled run failed to start", "error", err)
			}
		}
	}
}

// TryRun starts a run synchronously, or fails with ErrRunInProgress.
func (s *Scheduler) TryRun(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.running = true
	now := time.Now()
	s.status = RunStatus{State: StateRunning, StartedAt: &now}
	s.mu.Unlock()

	s.run(ctx)
	return nil
}

// Status returns a copy of the current run snapshot.
func (s *Scheduler) Status() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) run(ctx context.Context) {
	var processed, failed int
	var lastError string
	aborted := false

	// One bounded page per run. Failed messages keep their failed checkpoint
	// and stay eligible, so offset 0 cannot starve: succeeding messages drop
	// out of the pending set as the run progresses.
	pending, err := s.tracker.ListPending(ctx, s.pageSize, 0)
	if err != nil {
		lastError = err.Error()
		slog.Error("failed to list pending messages", "error", err)
		s.finish(processed, failed, lastError, ctx.Err() != nil)
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		if _, err := s.ingest.EmbedMessage(ctx, m); err != nil {
			// Recorded in the checkpoint by the ingestor; the run moves on.
			failed++
			lastError = err.Error()
			continue
		}
		processed++
	}

	s.finish(processed, failed, lastError, aborted)
}

func (s *Scheduler) finish(processed, failed int, lastError string, aborted bool) {
	state := StateCompleted
	switch {
	case aborted:
		state = StateAborted
	case failed > 0 || lastError != "":
		state = StateCompletedWithErrors
	}

	s.mu.Lock()
	now := time.Now()
	s.status.State = state
	s.status.MessagesProcessed = processed
	s.status.MessagesFailed = failed
	s.status.FinishedAt = &now
	s.status.LastError = lastError
	snapshot := s.status
	s.running = false
	s.mu.Unlock()

	slog.Info("re-embedding run finished",
		"state", state, "processed", processed, "failed", failed)

	if s.pub != nil {
		body, _ := json.Marshal(snapshot)
		if err := s.pub.Publish(config.TopicRunStatus, body); err != nil {
			slog.Warn("failed to publish run status", "error", err)
		}
	}
}
