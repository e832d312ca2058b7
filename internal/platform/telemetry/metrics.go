// Package telemetry keeps in-process request and lifecycle-event metrics
// and serves them in the Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/platform/events"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores non-cumulative bucket counts; exposition accumulates them.
type histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]int64, len(bounds))}
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) write(b *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := labels
	if prefix != "" {
		prefix += ","
	}
	var running int64
	for i, bound := range h.bounds {
		running += h.buckets[i]
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, running)
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.sum)
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

type eventKey struct {
	eventType string
	outcome   string
}

// Metrics is safe for concurrent use.
type Metrics struct {
	active int64

	mu       sync.RWMutex
	requests map[string]*histogram
	events   map[eventKey]int64

	pool *pgxpool.Pool
}

func New() *Metrics {
	return &Metrics{
		requests: make(map[string]*histogram),
		events:   make(map[eventKey]int64),
	}
}

// WithPool adds connection pool gauges to the exposition.
func (m *Metrics) WithPool(pool *pgxpool.Pool) *Metrics {
	m.pool = pool
	return m
}

func requestLabels(method, route string, status int) string {
	return fmt.Sprintf("method=%q,route=%q,status_code=%q", method, route, strconv.Itoa(status))
}

func (m *Metrics) observeRequest(labels string, seconds float64) {
	m.mu.RLock()
	h, ok := m.requests[labels]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.requests[labels]; !ok {
			h = newHistogram(defaultDurationBuckets)
			m.requests[labels] = h
		}
		m.mu.Unlock()
	}
	h.Observe(seconds)
}

func (m *Metrics) countEvent(eventType, outcome string) {
	m.mu.Lock()
	m.events[eventKey{eventType, outcome}]++
	m.mu.Unlock()
}

// EventCount returns how many events of eventType ended with outcome
// ("published" or "failed").
func (m *Metrics) EventCount(eventType, outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[eventKey{eventType, outcome}]
}

// Middleware records request durations by method, route pattern and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)
			if err != nil {
				// Render now so the recorded status is the one the client sees.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observeRequest(requestLabels(c.Request().Method, route, c.Response().Status), time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves every metric in Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		m.mu.RLock()
		labels := make([]string, 0, len(m.requests))
		for l := range m.requests {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			m.requests[l].write(&b, "http_server_request_duration_seconds", l)
		}

		b.WriteString("# HELP claims_events_total Lifecycle events by type and publish outcome.\n")
		b.WriteString("# TYPE claims_events_total counter\n")
		keys := make([]eventKey, 0, len(m.events))
		for k := range m.events {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].eventType != keys[j].eventType {
				return keys[i].eventType < keys[j].eventType
			}
			return keys[i].outcome < keys[j].outcome
		})
		for _, k := range keys {
			fmt.Fprintf(&b, "claims_events_total{type=%q,outcome=%q} %d\n", k.eventType, k.outcome, m.events[k])
		}
		m.mu.RUnlock()

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n", atomic.LoadInt64(&m.active))

		if m.pool != nil {
			stat := m.pool.Stat()
			for _, g := range []struct {
				name, help string
				val        int32
			}{
				{"db_pool_total_connections", "Open database pool connections.", stat.TotalConns()},
				{"db_pool_acquired_connections", "Database pool connections in use.", stat.AcquiredConns()},
				{"db_pool_idle_connections", "Idle database pool connections.", stat.IdleConns()},
			} {
				fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", g.name, g.help, g.name, g.name, g.val)
			}
		}

		return c.String(http.StatusOK, b.String())
	}
}

// CountingPublisher counts every event passed to the wrapped publisher.
type CountingPublisher struct {
	next    events.Publisher
	metrics *Metrics
}

func (m *Metrics) Publisher(next events.Publisher) *CountingPublisher {
	return &CountingPublisher{next: next, metrics: m}
}

func (p *CountingPublisher) Publish(ctx context.Context, evt events.Event) error {
	err := p.next.Publish(ctx, evt)
	outcome := "published"
	if err != nil {
		outcome = "failed"
	}
	p.metrics.countEvent(evt.Type, outcome)
	return err
}
