package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boutique/internal/tasks"

	"github.com/google/uuid"
)

// TaskKindSendEmail is the durable task kind for confirmation emails.
const TaskKindSendEmail = "emailer.send-email"

// ErrExactlyOneBody rejects requests that carry both or neither of the
// text/html bodies. Malformed input is never retried.
var ErrExactlyOneBody = errors.New("exactly one of text or html must be set")

// SendRequest is what callers hand to the emailer.
type SendRequest struct {
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
}

// Task is the journaled send-email payload. ID doubles as the idempotency
// key: it is generated once per logical send and survives every retry.
type Task struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	BodyType  string `json:"body_type"`
}

// Scheduler is the slice of the durable task scheduler the emailer consumes.
type Scheduler interface {
	Schedule(ctx context.Context, kind string, payload any, delay time.Duration) (tasks.Handle, error)
}

// Emailer turns send requests into durable tasks and executes them through
// the idempotency guard. With no guard configured (missing credential) the
// task is acknowledged with a warning instead of failing startup or orders.
type Emailer struct {
	scheduler Scheduler
	guard     *Guard
	logger    *slog.Logger
}

// NewEmailer constructs an Emailer. A nil guard selects degraded mode.
func NewEmailer(scheduler Scheduler, guard *Guard, logger *slog.Logger) *Emailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emailer{scheduler: scheduler, guard: guard, logger: logger}
}

// PrepareSend validates the request and enqueues one durable send task.
func (e *Emailer) PrepareSend(ctx context.Context, req SendRequest) (tasks.Handle, error) {
	hasText := req.Text != ""
	hasHTML := req.HTML != ""
	if hasText == hasHTML {
		return tasks.Handle{}, ErrExactlyOneBody
	}

	task := Task{
		ID:        uuid.NewString(),
		Recipient: req.Recipient,
		Sender:    req.Sender,
		Subject:   req.Subject,
		Body:      req.Text,
		BodyType:  "text",
	}
	if hasHTML {
		task.Body = req.HTML
		task.BodyType = "html"
	}

	handle, err := e.scheduler.Schedule(ctx, TaskKindSendEmail, task, 0)
	if err != nil {
		return tasks.Handle{}, fmt.Errorf("enqueue email: %w", err)
	}
	return handle, nil
}

// SendEmailTask is the durable task handler. It may run more than once for
// the same task; the guard's ledger check keeps the visible effect single.
func (e *Emailer) SendEmailTask(ctx context.Context, payload json.RawMessage) error {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("send-email payload: %w", err)
	}

	if e.guard == nil {
		e.logger.Warn("mail credential not configured, confirmation email skipped",
			"recipient", task.Recipient, "idempotency_key", task.ID)
		return nil
	}

	err := e.guard.SendOnce(ctx, Message{
		Sender:         task.Sender,
		Recipient:      task.Recipient,
		Subject:        task.Subject,
		Body:           task.Body,
		BodyType:       task.BodyType,
		IdempotencyKey: task.ID,
	})
	if err != nil {
		return err
	}

	e.logger.Info("confirmation email delivered", "recipient", task.Recipient, "idempotency_key", task.ID)
	return nil
}
