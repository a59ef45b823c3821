package mail

import (
	"context"
	"fmt"
	"time"

	"boutique/internal/reliability"
)

// DefaultQuiescence bounds the staleness of the events ledger. The check
// runs only after this wait so that a retry does not read a false negative
// from a previous attempt that the ledger has not absorbed yet.
//
// A provider-side idempotency key, checked at send time, would remove this
// wait entirely; the events ledger is what Mailgun gives us today.
const DefaultQuiescence = 10 * time.Second

// Guard makes a non-idempotent send effectively idempotent: wait for the
// ledger to quiesce, check it, and only then act. The guard holds no state
// of its own; the ledger is the source of truth, which is what makes the
// aggregate effect idempotent across task redeliveries.
type Guard struct {
	provider   Provider
	quiescence time.Duration
	sleep      func(context.Context, time.Duration) error
}

// GuardOption tweaks Guard construction.
type GuardOption func(*Guard)

// WithQuiescence overrides the ledger quiescence wait (tests shrink it).
func WithQuiescence(d time.Duration) GuardOption {
	return func(g *Guard) { g.quiescence = d }
}

// WithSleep overrides the sleep function (tests).
func WithSleep(sleep func(context.Context, time.Duration) error) GuardOption {
	return func(g *Guard) { g.sleep = sleep }
}

// NewGuard constructs a Guard over the provider.
func NewGuard(provider Provider, opts ...GuardOption) *Guard {
	g := &Guard{
		provider:   provider,
		quiescence: DefaultQuiescence,
		sleep:      reliability.SleepWithContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SendOnce delivers the message unless the ledger shows it was already
// accepted. A failed ledger check propagates: the caller's retry will run
// the whole wait-check-act sequence again, which is safe.
func (g *Guard) SendOnce(ctx context.Context, msg Message) error {
	if err := g.sleep(ctx, g.quiescence); err != nil {
		return err
	}

	sent, err := g.provider.IsSent(ctx, msg.Recipient, msg.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if sent {
		return nil
	}

	return g.provider.Send(ctx, msg)
}
