package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"boutique/internal/tasks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduledTask struct {
	kind    string
	payload any
	delay   time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
	err   error
}

func (f *fakeScheduler) Schedule(ctx context.Context, kind string, payload any, delay time.Duration) (tasks.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tasks.Handle{}, f.err
	}
	f.tasks = append(f.tasks, scheduledTask{kind: kind, payload: payload, delay: delay})
	return tasks.Handle{ID: uuid.NewString(), Kind: kind}, nil
}

func (f *fakeScheduler) scheduled() []scheduledTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduledTask, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func expirePayload(t *testing.T, quoteID string) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(expireQuotePayload{QuoteID: quoteID})
	require.NoError(t, err)
	return raw
}

func TestGetQuote_SchedulesExpiryWithTTL(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	quote, err := m.GetQuote(context.Background(), 30*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, quote.ID)
	assert.Equal(t, "USD", quote.Cost.CurrencyCode)
	assert.Equal(t, int64(8), quote.Cost.Units)
	assert.Equal(t, int32(990_000_000), quote.Cost.Nanos)
	assert.True(t, m.Pending(quote.ID))

	scheduled := sched.scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, TaskKindExpireQuote, scheduled[0].kind)
	assert.Equal(t, 30*time.Second, scheduled[0].delay)
	assert.Equal(t, expireQuotePayload{QuoteID: quote.ID}, scheduled[0].payload)
}

func TestGetQuote_SchedulerFailureLeavesNothingPending(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{err: errors.New("journal full")}
	m := NewManager(sched)

	_, err := m.GetQuote(context.Background(), time.Second)
	require.Error(t, err)
}

func TestPrepareShipOrder_ConsumesExactlyOnce(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	quote, err := m.GetQuote(context.Background(), 30*time.Second)
	require.NoError(t, err)

	trackingID, err := m.PrepareShipOrder(context.Background(), quote.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trackingID)
	assert.False(t, m.Pending(quote.ID))

	// The same quote id is rejected on a second attempt.
	_, err = m.PrepareShipOrder(context.Background(), quote.ID)
	require.ErrorIs(t, err, ErrQuoteInvalidOrExpired)

	scheduled := sched.scheduled()
	require.Len(t, scheduled, 2)
	assert.Equal(t, TaskKindShipOrder, scheduled[1].kind)
}

func TestPrepareShipOrder_UnknownQuoteRejected(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeScheduler{})

	_, err := m.PrepareShipOrder(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrQuoteInvalidOrExpired)
}

func TestPrepareShipOrder_DispatchFailureRestoresQuote(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	quote, err := m.GetQuote(context.Background(), 30*time.Second)
	require.NoError(t, err)

	sched.mu.Lock()
	sched.err = errors.New("journal full")
	sched.mu.Unlock()

	_, err = m.PrepareShipOrder(context.Background(), quote.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrQuoteInvalidOrExpired)

	// The quote went back to pending, so a retry can still consume it.
	sched.mu.Lock()
	sched.err = nil
	sched.mu.Unlock()

	trackingID, err := m.PrepareShipOrder(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trackingID)
}

func TestExpireQuoteTask_RemovesPendingQuote(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	quote, err := m.GetQuote(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), sched.scheduled()[0].delay)

	require.NoError(t, m.ExpireQuoteTask(context.Background(), expirePayload(t, quote.ID)))
	assert.False(t, m.Pending(quote.ID))

	_, err = m.PrepareShipOrder(context.Background(), quote.ID)
	require.ErrorIs(t, err, ErrQuoteInvalidOrExpired)
}

func TestExpireQuoteTask_IsIdempotent(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	quote, err := m.GetQuote(context.Background(), 0)
	require.NoError(t, err)
	other, err := m.GetQuote(context.Background(), time.Hour)
	require.NoError(t, err)

	// Firing the same expiry twice: the second delivery is a no-op and the
	// rest of the pending set is untouched.
	require.NoError(t, m.ExpireQuoteTask(context.Background(), expirePayload(t, quote.ID)))
	require.NoError(t, m.ExpireQuoteTask(context.Background(), expirePayload(t, quote.ID)))
	assert.True(t, m.Pending(other.ID))
}

func TestExpireQuoteTask_AfterConsumptionIsNoop(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	quote, err := m.GetQuote(context.Background(), time.Hour)
	require.NoError(t, err)

	_, err = m.PrepareShipOrder(context.Background(), quote.ID)
	require.NoError(t, err)

	require.NoError(t, m.ExpireQuoteTask(context.Background(), expirePayload(t, quote.ID)))
}

func TestExpireQuoteTask_MalformedPayload(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeScheduler{})

	err := m.ExpireQuoteTask(context.Background(), json.RawMessage(`{`))
	require.Error(t, err)
}

func TestConcurrentConsumeAndExpire_OneWinner(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := NewManager(sched)

	for i := 0; i < 100; i++ {
		quote, err := m.GetQuote(context.Background(), time.Hour)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var consumeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, consumeErr = m.PrepareShipOrder(context.Background(), quote.ID)
		}()
		go func() {
			defer wg.Done()
			_ = m.ExpireQuoteTask(context.Background(), expirePayload(t, quote.ID))
		}()
		wg.Wait()

		// Whichever path won, the quote must be gone and a second
		// consumption must be rejected.
		assert.False(t, m.Pending(quote.ID))
		_, err = m.PrepareShipOrder(context.Background(), quote.ID)
		require.ErrorIs(t, err, ErrQuoteInvalidOrExpired)
		_ = consumeErr
	}
}
