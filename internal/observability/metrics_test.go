package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsTracksRoutes(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("POST /carts/{userID}/items")
	time.Sleep(1 * time.Millisecond)
	span.End(nil)

	span = metrics.Start("POST /carts/{userID}/items")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Routes["POST /carts/{userID}/items"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 calls, got %d", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 inflight, got %d", stats.InFlight)
	}
	if snap.TotalRequests != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsObserve(t *testing.T) {
	metrics := NewMetrics()
	metrics.Observe("GET /products", 10*time.Millisecond, false)
	metrics.Observe("GET /products", 30*time.Millisecond, true)

	snap := metrics.Snapshot()
	stats := snap.Routes["GET /products"]
	if stats.Count != 2 || stats.Errors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.MaxLatencyMs != 30 {
		t.Fatalf("expected max latency 30ms, got %v", stats.MaxLatencyMs)
	}
	if stats.AvgLatencyMs != 20 {
		t.Fatalf("expected avg latency 20ms, got %v", stats.AvgLatencyMs)
	}
}

func TestMetricsTracksTasks(t *testing.T) {
	metrics := NewMetrics()
	metrics.TaskScheduled("emailer.send-email")
	metrics.TaskScheduled("emailer.send-email")
	metrics.TaskDelivered("emailer.send-email", false)
	metrics.TaskDelivered("emailer.send-email", true)

	snap := metrics.Snapshot()
	stats := snap.Tasks["emailer.send-email"]
	if stats.Scheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %d", stats.Scheduled)
	}
	if stats.Delivered != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected task stats: %+v", stats)
	}
}

func TestMetricsCountsOrders(t *testing.T) {
	metrics := NewMetrics()
	metrics.OrderPlaced()
	metrics.OrderPlaced()

	if got := metrics.Snapshot().OrdersPlaced; got != 2 {
		t.Fatalf("expected 2 orders, got %d", got)
	}
}

func TestMetricsTracksRateLimitWait(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddRateLimitWait(50 * time.Millisecond)
	metrics.AddRateLimitWait(25 * time.Millisecond)
	metrics.AddRateLimitWait(0)

	snap := metrics.Snapshot()
	if snap.RateLimitWaits != 2 {
		t.Fatalf("expected 2 waits, got %d", snap.RateLimitWaits)
	}
	if snap.RateLimitWaitMs != 75 {
		t.Fatalf("expected 75ms, got %d", snap.RateLimitWaitMs)
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 5 {
		t.Fatalf("expected inflight 5, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
	if snap.Lifecycle.ShutdownAt.IsZero() {
		t.Fatalf("expected shutdown timestamp")
	}
}

func TestHandlerReturnsJSON(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("GET /products")
	span.End(errors.New("fail"))
	metrics.TaskScheduled("shipping.expire-quote")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	Handler(metrics).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("expected total errors 1, got %d", snap.TotalErrors)
	}
	if len(snap.Routes) == 0 {
		t.Fatalf("expected routes in snapshot")
	}
	if len(snap.Tasks) == 0 {
		t.Fatalf("expected tasks in snapshot")
	}
}

func TestMetricsNilSafePaths(t *testing.T) {
	var m *Metrics
	span := m.Start("ignored")
	span.End(nil)

	m.Observe("ignored", time.Millisecond, false)
	m.TaskScheduled("ignored")
	m.TaskDelivered("ignored", true)
	m.OrderPlaced()
	m.MarkShutdown(10)
}
