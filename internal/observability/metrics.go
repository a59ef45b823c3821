// Package observability keeps process-local counters for the HTTP API,
// the task scheduler, and checkout, exposed as a JSON snapshot.
package observability

import (
	"sync"
	"time"
)

type RouteSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type TaskSnapshot struct {
	Scheduled int64 `json:"scheduled"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

type Snapshot struct {
	UptimeSec       int64                    `json:"uptime_sec"`
	TotalRequests   int64                    `json:"total_requests"`
	TotalErrors     int64                    `json:"total_errors"`
	InFlight        int64                    `json:"in_flight"`
	OrdersPlaced    int64                    `json:"orders_placed"`
	RateLimitWaits  int64                    `json:"rate_limit_waits"`
	RateLimitWaitMs int64                    `json:"rate_limit_wait_ms"`
	Lifecycle       *LifecycleSnapshot       `json:"lifecycle,omitempty"`
	Routes          map[string]RouteSnapshot `json:"routes"`
	Tasks           map[string]TaskSnapshot  `json:"tasks"`
}

type routeStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type taskStats struct {
	scheduled int64
	delivered int64
	failed    int64
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	routes         map[string]*routeStats
	tasks          map[string]*taskStats
	ordersPlaced   int64
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	route   string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:  time.Now(),
		routes: make(map[string]*routeStats),
		tasks:  make(map[string]*taskStats),
	}
}

// Start opens a span for one request against the route.
func (m *Metrics) Start(route string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureRoute(route)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		route:   route,
		start:   time.Now(),
	}
}

// Observe records one completed request against the route. Unlike
// Start/End it carries no in-flight gauge; the HTTP middleware only knows
// the route pattern once the request has been served.
func (m *Metrics) Observe(route string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureRoute(route)
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.route, dur, err != nil)
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

// TaskScheduled counts one task journaled for the kind.
func (m *Metrics) TaskScheduled(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureTask(kind).scheduled++
	m.mu.Unlock()
}

// TaskDelivered counts one task acked (failed=false) or abandoned to
// redelivery (failed=true) for the kind.
func (m *Metrics) TaskDelivered(kind string, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureTask(kind)
	if failed {
		stats.failed++
	} else {
		stats.delivered++
	}
	m.mu.Unlock()
}

// OrderPlaced counts one completed checkout.
func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ordersPlaced++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Routes:          make(map[string]RouteSnapshot),
		Tasks:           make(map[string]TaskSnapshot),
		OrdersPlaced:    m.ordersPlaced,
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for route, stats := range m.routes {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Routes[route] = RouteSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	for kind, stats := range m.tasks {
		snap.Tasks[kind] = TaskSnapshot{
			Scheduled: stats.scheduled,
			Delivered: stats.delivered,
			Failed:    stats.failed,
		}
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureRoute(route string) *routeStats {
	stats, ok := m.routes[route]
	if !ok {
		stats = &routeStats{}
		m.routes[route] = stats
	}
	return stats
}

func (m *Metrics) ensureTask(kind string) *taskStats {
	stats, ok := m.tasks[kind]
	if !ok {
		stats = &taskStats{}
		m.tasks[kind] = stats
	}
	return stats
}

func (m *Metrics) finish(route string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureRoute(route)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
