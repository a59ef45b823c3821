// Package shipping issues time-bounded shipping quotes. A quote sits in a
// pending set from GetQuote until it is either consumed by PrepareShipOrder
// or removed by its scheduled expiry task; both paths mutate the set under
// one lock, so exactly one of them wins.
package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boutique/internal/money"
	"boutique/internal/tasks"

	"github.com/google/uuid"
)

// Task kinds registered on the durable scheduler. Both handlers tolerate
// duplicate delivery.
const (
	TaskKindExpireQuote = "shipping.expire-quote"
	TaskKindShipOrder   = "shipping.ship-order"
)

// ErrQuoteInvalidOrExpired rejects consumption of a quote that is unknown,
// already consumed, or expired. It is a business outcome, not a fault.
var ErrQuoteInvalidOrExpired = errors.New("shipping quote invalid or expired")

// Quote is a time-bounded shipping offer.
type Quote struct {
	ID       string        `json:"id"`
	Cost     money.Money   `json:"cost"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"ttl"`
}

// CostFunc computes the shipping cost for a quote.
type CostFunc func() money.Money

// FlatRate is the default cost rule.
func FlatRate() money.Money {
	return money.Money{CurrencyCode: "USD", Units: 8, Nanos: 990_000_000}
}

// Scheduler is the slice of the durable task scheduler the manager consumes.
type Scheduler interface {
	Schedule(ctx context.Context, kind string, payload any, delay time.Duration) (tasks.Handle, error)
}

// Manager owns the pending-quote set.
type Manager struct {
	scheduler Scheduler
	cost      CostFunc
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]Quote
}

// NewManager constructs a Manager with the flat-rate cost rule.
func NewManager(scheduler Scheduler, opts ...ManagerOption) *Manager {
	m := &Manager{
		scheduler: scheduler,
		cost:      FlatRate,
		logger:    slog.Default(),
		now:       time.Now,
		pending:   make(map[string]Quote),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ManagerOption tweaks Manager construction.
type ManagerOption func(*Manager)

// WithCostFunc overrides the cost rule.
func WithCostFunc(cost CostFunc) ManagerOption {
	return func(m *Manager) { m.cost = cost }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

type expireQuotePayload struct {
	QuoteID string `json:"quote_id"`
}

type shipOrderPayload struct {
	QuoteID    string `json:"quote_id"`
	TrackingID string `json:"tracking_id"`
}

// GetQuote issues a quote that stays consumable for ttl. The expiry is
// enforced by a durable scheduled task, not by blocking the caller.
func (m *Manager) GetQuote(ctx context.Context, ttl time.Duration) (Quote, error) {
	if ttl < 0 {
		ttl = 0
	}

	quote := Quote{
		ID:       uuid.NewString(),
		Cost:     m.cost(),
		IssuedAt: m.now().UTC(),
		TTL:      ttl,
	}

	m.mu.Lock()
	m.pending[quote.ID] = quote
	m.mu.Unlock()

	if _, err := m.scheduler.Schedule(ctx, TaskKindExpireQuote, expireQuotePayload{QuoteID: quote.ID}, ttl); err != nil {
		m.mu.Lock()
		delete(m.pending, quote.ID)
		m.mu.Unlock()
		return Quote{}, fmt.Errorf("schedule quote expiry: %w", err)
	}

	return quote, nil
}

// PrepareShipOrder consumes the quote and dispatches the shipment task.
// Consumption is a check-and-remove under the set's lock: a quote can be
// consumed exactly once, and never after its expiry task has removed it.
func (m *Manager) PrepareShipOrder(ctx context.Context, quoteID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	quote, ok := m.pending[quoteID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrQuoteInvalidOrExpired, quoteID)
	}
	delete(m.pending, quoteID)
	m.mu.Unlock()

	trackingID := uuid.NewString()

	// The actual shipment dispatch is not compensatable, so it runs as a
	// scheduled task rather than inline. If enqueueing fails the quote goes
	// back, leaving the operation not-yet-committed for a retry.
	if _, err := m.scheduler.Schedule(ctx, TaskKindShipOrder, shipOrderPayload{QuoteID: quote.ID, TrackingID: trackingID}, 0); err != nil {
		m.mu.Lock()
		m.pending[quote.ID] = quote
		m.mu.Unlock()
		return "", fmt.Errorf("schedule shipment: %w", err)
	}

	return trackingID, nil
}

// ExpireQuoteTask removes the quote from the pending set if still there.
// Duplicate or late delivery is a no-op; expiring a consumed quote is too.
func (m *Manager) ExpireQuoteTask(ctx context.Context, payload json.RawMessage) error {
	var p expireQuotePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("expire-quote payload: %w", err)
	}

	m.mu.Lock()
	_, wasPending := m.pending[p.QuoteID]
	delete(m.pending, p.QuoteID)
	m.mu.Unlock()

	if wasPending {
		m.logger.Info("shipping quote expired", "quote_id", p.QuoteID)
	}
	return nil
}

// ShipOrderTask is where the shipment would actually be handed to a carrier.
func (m *Manager) ShipOrderTask(ctx context.Context, payload json.RawMessage) error {
	var p shipOrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("ship-order payload: %w", err)
	}

	m.logger.Info("shipment dispatched", "quote_id", p.QuoteID, "tracking_id", p.TrackingID)
	return nil
}

// Pending reports whether the quote is still consumable.
func (m *Manager) Pending(quoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[quoteID]
	return ok
}

// QuoteCost returns the quoted cost while the quote is still pending.
func (m *Manager) QuoteCost(quoteID string) (money.Money, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.pending[quoteID]
	if !ok {
		return money.Money{}, false
	}
	return quote.Cost, true
}
