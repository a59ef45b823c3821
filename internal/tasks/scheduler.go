// Package tasks is a durable delayed-work queue. Scheduled tasks are
// journaled to a write-ahead log before their timer is armed, so they
// survive process restarts and are delivered at least once. Handlers run
// with retries and may therefore observe duplicate delivery; every handler
// registered here must be idempotent.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boutique/internal/reliability"

	"github.com/google/uuid"
)

// Task is one journaled unit of work.
type Task struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	FireAt  time.Time       `json:"fire_at"`
}

// Handle identifies a scheduled task.
type Handle struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Handler processes one task delivery. Returning nil acknowledges the task;
// any error leaves it due for redelivery.
type Handler func(ctx context.Context, payload json.RawMessage) error

// WAL is the journal the scheduler writes through.
type WAL interface {
	Write(data []byte) error
	Replay(fn func(record []byte) error) error
}

// Observer receives scheduling and delivery counts, typically the metrics
// registry. A nil observer is valid.
type Observer interface {
	TaskScheduled(kind string)
	TaskDelivered(kind string, failed bool)
}

type journalRecord struct {
	Op   string `json:"op"` // "scheduled" or "done"
	Task Task   `json:"task,omitempty"`
	ID   string `json:"id,omitempty"`
}

var (
	ErrUnknownKind = errors.New("no handler registered for task kind")
	ErrNotStarted  = errors.New("scheduler is not running")
	ErrAlreadyUp   = errors.New("scheduler already started")
)

// Scheduler journals tasks and runs their handlers once due.
type Scheduler struct {
	wal      WAL
	retry    reliability.RetryPolicy
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]Task
	started  bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option tweaks scheduler construction.
type Option func(*Scheduler)

// WithRetryPolicy overrides the handler retry policy.
func WithRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = policy }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithObserver attaches a delivery observer.
func WithObserver(observer Observer) Option {
	return func(s *Scheduler) { s.observer = observer }
}

// WithClock overrides time sources (used by tests).
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

// NewScheduler constructs a Scheduler journaling through the given WAL.
func NewScheduler(wal WAL, opts ...Option) *Scheduler {
	s := &Scheduler{
		wal: wal,
		retry: reliability.RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    30 * time.Second,
		},
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    reliability.SleepWithContext,
		handlers: make(map[string]Handler),
		pending:  make(map[string]Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds a handler to a task kind. Must be called before Start.
func (s *Scheduler) Register(kind string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// Start replays the journal and begins delivering tasks. Tasks whose fire
// time passed while the process was down run immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyUp
	}

	if err := s.recoverLocked(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("recover journal: %w", err)
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true

	recovered := make([]Task, 0, len(s.pending))
	for _, task := range s.pending {
		recovered = append(recovered, task)
	}
	s.mu.Unlock()

	for _, task := range recovered {
		s.arm(task)
	}
	if len(recovered) > 0 {
		s.logger.Info("recovered pending tasks", "count", len(recovered))
	}
	return nil
}

// Stop cancels delivery and waits for in-flight handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Schedule journals a task to run after delay and arms its timer. The task
// will execute at least once, even across a restart.
func (s *Scheduler) Schedule(ctx context.Context, kind string, payload any, delay time.Duration) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if delay < 0 {
		delay = 0
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal task payload: %w", err)
	}

	task := Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: raw,
		FireAt:  s.now().UTC().Add(delay),
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return Handle{}, ErrNotStarted
	}
	if _, ok := s.handlers[kind]; !ok {
		s.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if err := s.journal(journalRecord{Op: "scheduled", Task: task}); err != nil {
		s.mu.Unlock()
		return Handle{}, fmt.Errorf("journal task: %w", err)
	}
	s.pending[task.ID] = task
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.TaskScheduled(task.Kind)
	}
	s.arm(task)
	return Handle{ID: task.ID, Kind: task.Kind}, nil
}

// PendingCount reports how many tasks are journaled but not yet done.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) arm(task Task) {
	s.mu.Lock()
	if !s.started {
		// Stopping; the journal keeps the task for the next start.
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		delay := task.FireAt.Sub(s.now())
		if delay > 0 {
			if err := s.sleep(s.runCtx, delay); err != nil {
				// Shut down before firing; the journal keeps the task for
				// the next start.
				return
			}
		}
		s.deliver(task)
	}()
}

func (s *Scheduler) deliver(task Task) {
	s.mu.Lock()
	handler, ok := s.handlers[task.Kind]
	s.mu.Unlock()
	if !ok {
		s.logger.Error("task has no handler", "kind", task.Kind, "task_id", task.ID)
		return
	}

	err := s.retry.Do(s.runCtx, func() error {
		return handler(s.runCtx, task.Payload)
	})
	if err != nil {
		if s.observer != nil {
			s.observer.TaskDelivered(task.Kind, true)
		}
		if s.runCtx.Err() != nil {
			// Shutting down; the journal keeps the task for the next start.
			return
		}
		// Still journaled pending, so keep redelivering in-process instead
		// of waiting for a restart. The policy's max delay paces the sweep.
		backoff := s.retry.MaxDelay
		if backoff <= 0 {
			backoff = time.Second
		}
		s.logger.Error("task handler failed, re-arming",
			"kind", task.Kind, "task_id", task.ID,
			"retry_in", backoff, "error", err)
		task.FireAt = s.now().UTC().Add(backoff)
		s.arm(task)
		return
	}
	if s.observer != nil {
		s.observer.TaskDelivered(task.Kind, false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.journal(journalRecord{Op: "done", ID: task.ID}); err != nil {
		// The handler ran; a lost ack means one extra delivery after
		// restart, which handlers tolerate.
		s.logger.Warn("journal ack failed", "task_id", task.ID, "error", err)
	}
	delete(s.pending, task.ID)
}

func (s *Scheduler) journal(rec journalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.wal.Write(data)
}

func (s *Scheduler) recoverLocked() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Replay(func(record []byte) error {
		var rec journalRecord
		if err := json.Unmarshal(record, &rec); err != nil {
			return fmt.Errorf("malformed journal record: %w", err)
		}
		switch rec.Op {
		case "scheduled":
			s.pending[rec.Task.ID] = rec.Task
		case "done":
			delete(s.pending, rec.ID)
		default:
			return fmt.Errorf("unknown journal op %q", rec.Op)
		}
		return nil
	})
}
