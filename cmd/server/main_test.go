package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"boutique/cmd/server/config"
	"boutique/internal/cart"
	"boutique/internal/checkout"
	"boutique/internal/observability"
)

func TestBuildCartStoreFallsBackToMemory(t *testing.T) {
	t.Setenv("REDIS_URL", "")

	store, cleanup, err := buildCartStore(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	if _, ok := store.(*cart.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestBuildCartStoreRejectsBadURL(t *testing.T) {
	t.Setenv("REDIS_URL", "not a url")

	_, cleanup, err := buildCartStore(context.Background())
	if err == nil {
		cleanup()
		t.Fatalf("expected parse error for malformed REDIS_URL")
	}
}

func TestBuildEmailerDegradedWithoutCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	emailer := buildEmailer(config.MailConfig{}, nil, logger)
	if emailer == nil {
		t.Fatalf("expected degraded emailer, got nil")
	}
}

type nopPublisher struct {
	calls int
}

func (p *nopPublisher) OrderPlaced(ctx context.Context, order checkout.OrderResult) error {
	p.calls++
	return nil
}

func TestCountingPublisherBumpsMetric(t *testing.T) {
	metrics := observability.NewMetrics()
	inner := &nopPublisher{}
	pub := &countingPublisher{inner: inner, metrics: metrics}

	if err := pub.OrderPlaced(context.Background(), checkout.OrderResult{OrderID: "order-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.calls != 1 {
		t.Fatalf("expected inner publisher call, got %d", inner.calls)
	}
	if got := metrics.Snapshot().OrdersPlaced; got != 1 {
		t.Fatalf("expected 1 order counted, got %d", got)
	}
}
