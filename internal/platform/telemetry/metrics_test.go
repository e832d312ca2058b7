package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/platform/events"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error { return errors.New("broker down") }

func newTestEcho(m *Metrics) *echo.Echo {
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/claims/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "claim not found")
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", m.Handler())
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMetrics_RecordsRequestsByRoute(t *testing.T) {
	m := New()
	e := newTestEcho(m)

	get(e, "/api/v1/claims/a")
	get(e, "/api/v1/claims/b")
	if rec := get(e, "/api/v1/claims/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected the error status to reach the client, got %d", rec.Code)
	}

	body := get(e, "/metrics").Body.String()
	for _, want := range []string{
		`http_server_request_duration_seconds_count{method="GET",route="/api/v1/claims/:id",status_code="200"} 2`,
		`http_server_request_duration_seconds_count{method="GET",route="/api/v1/claims/:id",status_code="404"} 1`,
		`http_server_request_duration_seconds_bucket{method="GET",route="/api/v1/claims/:id",status_code="200",le="+Inf"} 2`,
		"# TYPE http_server_active_requests gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q\n%s", want, body)
		}
	}
	if strings.Contains(body, "/api/v1/claims/a") {
		t.Error("routes must be labelled by pattern, not by raw path")
	}
}

func TestHistogram_Buckets(t *testing.T) {
	h := newHistogram([]float64{1, 5})
	for _, v := range []float64{0.5, 2, 3, 10} {
		h.Observe(v)
	}
	var b strings.Builder
	h.write(&b, "x", `k="v"`)
	got := b.String()
	for _, want := range []string{
		`x_bucket{k="v",le="1"} 1`,
		`x_bucket{k="v",le="5"} 3`,
		`x_bucket{k="v",le="+Inf"} 4`,
		`x_sum{k="v"} 15.5`,
		`x_count{k="v"} 4`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
}

func TestCountingPublisher(t *testing.T) {
	m := New()
	rec := &events.Recorder{}
	ok := m.Publisher(rec)
	bad := m.Publisher(failingPublisher{})
	ctx := context.Background()

	_ = ok.Publish(ctx, events.New(events.BatchPaid, "default", nil))
	_ = ok.Publish(ctx, events.New(events.BatchPaid, "default", nil))
	if err := bad.Publish(ctx, events.New(events.ClaimApproved, "default", nil)); err == nil {
		t.Fatal("expected the wrapped error to be returned")
	}

	if n := m.EventCount(events.BatchPaid, "published"); n != 2 {
		t.Errorf("expected 2 published batch.paid, got %d", n)
	}
	if n := m.EventCount(events.ClaimApproved, "failed"); n != 1 {
		t.Errorf("expected 1 failed claim.approved, got %d", n)
	}
	if len(rec.Types()) != 2 {
		t.Errorf("wrapped publisher should receive every event, got %d", len(rec.Types()))
	}

	e := newTestEcho(m)
	body := get(e, "/metrics").Body.String()
	if !strings.Contains(body, `claims_events_total{type="batch.paid",outcome="published"} 2`) {
		t.Errorf("event counter missing from output\n%s", body)
	}
}
