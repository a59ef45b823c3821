package checkout_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"boutique/internal/cart"
	"boutique/internal/catalog"
	"boutique/internal/checkout"
	"boutique/internal/mail"
	"boutique/internal/money"
	"boutique/internal/shipping"
	"boutique/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmails struct {
	sent []mail.SendRequest
}

func (e *recordingEmails) PrepareSend(ctx context.Context, req mail.SendRequest) (tasks.Handle, error) {
	e.sent = append(e.sent, req)
	return tasks.Handle{ID: "task", Kind: mail.TaskKindSendEmail}, nil
}

type stack struct {
	carts     *cart.Service
	shipping  *shipping.Manager
	scheduler *tasks.Scheduler
	emails    *recordingEmails
	svc       *checkout.Service
	store     *checkout.MemoryOrderStore
}

func newStack(t *testing.T) *stack {
	t.Helper()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	wal, err := tasks.NewFileWAL(filepath.Join(t.TempDir(), "tasks.wal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wal.Close() })

	scheduler := tasks.NewScheduler(wal, tasks.WithLogger(quiet))
	manager := shipping.NewManager(scheduler, shipping.WithLogger(quiet))
	scheduler.Register(shipping.TaskKindExpireQuote, manager.ExpireQuoteTask)
	scheduler.Register(shipping.TaskKindShipOrder, manager.ShipOrderTask)
	require.NoError(t, scheduler.Start(context.Background()))
	t.Cleanup(scheduler.Stop)

	products, err := catalog.Load()
	require.NoError(t, err)
	converter, err := money.NewConverter()
	require.NoError(t, err)

	carts := cart.NewService(cart.NewMemoryStore())
	emails := &recordingEmails{}
	store := checkout.NewMemoryOrderStore()

	svc := checkout.NewService(carts, products, converter, manager, emails, store,
		checkout.WithLogger(quiet))

	return &stack{carts: carts, shipping: manager, scheduler: scheduler, emails: emails, svc: svc, store: store}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestCheckoutFlow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	require.NoError(t, s.carts.AddItem(ctx, "user-1", "OLJCESPC7Z", 42))

	quote, err := s.shipping.GetQuote(ctx, time.Hour)
	require.NoError(t, err)

	order, err := s.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID:   "user-1",
		Currency: "USD",
		QuoteID:  quote.ID,
		Email:    "jane@example.com",
		Address:  checkout.Address{StreetAddress: "42 Main St", City: "Springfield", Country: "USA"},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(42), order.Items[0].Item.Quantity)
	assert.Equal(t, quote.Cost, order.ShippingCost)

	items, err := s.carts.GetItems(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, items, "cart is cleared once the order is placed")

	stored, err := s.svc.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, order.OrderID, stored[0].OrderID)

	require.Len(t, s.emails.sent, 1)
	assert.Contains(t, s.emails.sent[0].HTML, order.OrderID)

	// A second attempt with the same quote is rejected and mutates nothing.
	_, err = s.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID:   "user-1",
		Currency: "USD",
		QuoteID:  quote.ID,
		Email:    "jane@example.com",
	})
	require.ErrorIs(t, err, shipping.ErrQuoteInvalidOrExpired)
	stored, err = s.svc.Orders(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCheckoutExpiredQuoteLeavesCartIntact(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	require.NoError(t, s.carts.AddItem(ctx, "user-1", "OLJCESPC7Z", 1))

	quote, err := s.shipping.GetQuote(ctx, 0)
	require.NoError(t, err)

	// The zero-TTL expiry task fires as soon as the scheduler delivers it.
	waitFor(t, time.Second, func() bool { return !s.shipping.Pending(quote.ID) })

	_, err = s.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		UserID:   "user-1",
		Currency: "USD",
		QuoteID:  quote.ID,
		Email:    "jane@example.com",
	})
	require.ErrorIs(t, err, shipping.ErrQuoteInvalidOrExpired)

	items, err := s.carts.GetItems(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1, "rejected checkout must not touch the cart")
	assert.Equal(t, int64(1), items[0].Quantity)

	stored, err := s.svc.Orders(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, s.emails.sent)
}
