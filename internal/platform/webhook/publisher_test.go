package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/events"
)

type received struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	failures int32
}

// server answers 500 for the first n requests, then 204.
func (r *received) server(t *testing.T, failFirst int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&r.failures, 1) <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPublisher(t *testing.T, endpoints []Endpoint, opts ...Option) *Publisher {
	t.Helper()
	opts = append([]Option{WithRetryDelays(time.Millisecond, time.Millisecond)}, opts...)
	p, err := NewPublisher(endpoints, "test-secret", zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return p
}

func TestSignPayload_RoundTrip(t *testing.T) {
	payload := []byte(`{"type":"batch.paid"}`)
	sig := SignPayload(payload, "s3cret")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature(payload, "s3cret", sig) {
		t.Error("signature should verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("signature must not verify under another secret")
	}
}

func TestValidateURL(t *testing.T) {
	for _, bad := range []string{"", "ftp://example.com/hook", "http://", "::"} {
		if ValidateURL(bad) == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
	if err := ValidateURL("https://finance.example.com/hooks/claims"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewPublisher([]Endpoint{{URL: "mailto:x@y"}}, "", zerolog.Nop()); err == nil {
		t.Error("NewPublisher should reject invalid endpoint URLs")
	}
}

func TestPublisher_DeliversSigned(t *testing.T) {
	var rec received
	srv := rec.server(t, 0)
	p := newTestPublisher(t, []Endpoint{{URL: srv.URL, Events: []string{"batch.*"}}})

	evt := events.New(events.BatchPaid, "default", map[string]string{"batch_number": "PB-202609-X"})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(rec.bodies) != 1 {
		t.Fatalf("expected one delivery, got %d", len(rec.bodies))
	}

	h := rec.headers[0]
	if h.Get(EventTypeHeader) != events.BatchPaid || h.Get(EventIDHeader) != evt.ID {
		t.Errorf("unexpected headers %v", h)
	}
	sig := strings.TrimPrefix(h.Get(SignatureHeader), "sha256=")
	if !VerifySignature(rec.bodies[0], "test-secret", sig) {
		t.Error("delivered body does not match its signature")
	}
	var got events.Event
	if err := json.Unmarshal(rec.bodies[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != evt.ID || got.SchemeID != "default" {
		t.Errorf("unexpected body %s", rec.bodies[0])
	}
}

func TestPublisher_SkipsUnsubscribed(t *testing.T) {
	var rec received
	srv := rec.server(t, 0)
	p := newTestPublisher(t, []Endpoint{{URL: srv.URL, Events: []string{"batch.paid"}}})

	if err := p.Publish(context.Background(), events.New(events.ClaimApproved, "default", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(rec.bodies) != 0 {
		t.Errorf("expected no delivery, got %d", len(rec.bodies))
	}
}

func TestPublisher_Retries(t *testing.T) {
	var rec received
	srv := rec.server(t, 2)
	p := newTestPublisher(t, []Endpoint{{URL: srv.URL}})

	if err := p.Publish(context.Background(), events.New(events.ClaimSubmitted, "default", nil)); err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if n := atomic.LoadInt32(&rec.failures); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestPublisher_ReportsExhaustedEndpoints(t *testing.T) {
	var bad, good received
	badSrv, goodSrv := bad.server(t, 100), good.server(t, 0)
	p := newTestPublisher(t, []Endpoint{{URL: badSrv.URL}, {URL: goodSrv.URL}})

	err := p.Publish(context.Background(), events.New(events.BatchFailed, "default", nil))
	if err == nil || !strings.Contains(err.Error(), badSrv.URL) {
		t.Fatalf("expected an error naming the failing endpoint, got %v", err)
	}
	if len(good.bodies) != 1 {
		t.Error("a failing endpoint must not block the others")
	}
	if n := atomic.LoadInt32(&bad.failures); n != 3 {
		t.Errorf("expected 3 attempts against the failing endpoint, got %d", n)
	}
}
