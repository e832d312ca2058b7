package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/auth"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
)

func recv(t *testing.T, c *Client) (events.Event, bool) {
	t.Helper()
	select {
	case data := <-c.Send:
		var evt events.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt, true
	default:
		return events.Event{}, false
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("nhis", []string{"*"})

	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, open := <-c.Send; open {
		t.Error("Send should be closed after unregister")
	}
}

func TestHub_PublishFiltersBySchemeAndTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	finance := NewClient("nhis", []string{"batch.*"})
	facility := NewClient("nhis", []string{"claim.approved", "claim.rejected"})
	otherScheme := NewClient("state", []string{"*"})
	for _, c := range []*Client{finance, facility, otherScheme} {
		hub.Register(c)
	}

	ctx := context.Background()
	_ = hub.Publish(ctx, events.New(events.BatchPaid, "nhis", map[string]string{"batch_number": "PB-202609-A"}))
	_ = hub.Publish(ctx, events.New(events.ClaimApproved, "nhis", nil))

	if evt, ok := recv(t, finance); !ok || evt.Type != events.BatchPaid {
		t.Errorf("finance client: got %+v, %v", evt, ok)
	}
	if _, ok := recv(t, finance); ok {
		t.Error("finance client should not receive claim events")
	}
	if evt, ok := recv(t, facility); !ok || evt.Type != events.ClaimApproved {
		t.Errorf("facility client: got %+v, %v", evt, ok)
	}
	if _, ok := recv(t, otherScheme); ok {
		t.Error("events must not cross schemes")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("nhis", nil)
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"batch.paid", " ", "batch.paid", "claim.*"}})
	if got := strings.Join(c.Topics, ","); got != "batch.paid,claim.*" {
		t.Fatalf("topics after subscribe = %q", got)
	}
	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"claim.*"}})
	hub.ProcessMessage(c, ClientMessage{Action: "shout", Topics: []string{"x"}})
	if got := strings.Join(c.Topics, ","); got != "batch.paid" {
		t.Fatalf("topics after unsubscribe = %q", got)
	}
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("nhis", []string{"*"})
	hub.Register(c)

	for i := 0; i < sendBuffer+5; i++ {
		if err := hub.Publish(context.Background(), events.New(events.ClaimSubmitted, "nhis", nil)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if hub.Dropped() != 5 {
		t.Errorf("expected 5 dropped deliveries, got %d", hub.Dropped())
	}
}

func TestHub_ConcurrentPublishAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		c := NewClient("nhis", []string{"*"})
		hub.Register(c)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = hub.Publish(context.Background(), events.New(events.BatchCreated, "nhis", nil))
		}()
		go func() {
			defer wg.Done()
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected all clients gone, got %d", hub.ClientCount())
	}
}

func TestHandler_RequiresUpgrade(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewHub(zerolog.Nop()), []string{"*"})
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/events/stream", nil), rec)

	if err := h.Connect(c); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a plain GET, got %d", rec.Code)
	}
}

func newStreamServer(t *testing.T, hub *Hub, origins []string) string {
	t.Helper()
	e := echo.New()
	withScheme := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), db.SchemeIDKey, c.Request().Header.Get(db.SchemeHeader))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	NewHandler(hub, origins).RegisterRoutes(e.Group("/api/v1", auth.DevAuthMiddleware(), withScheme))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_StreamsSchemeEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	url := newStreamServer(t, hub, []string{"https://portal.scheme.test"})

	header := http.Header{}
	header.Set("X-Dev-Roles", auth.RoleFinance)
	header.Set(db.SchemeHeader, "nhis")
	header.Set("Origin", "https://portal.scheme.test")
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(url+"?topics=batch.*", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	ctx := context.Background()
	_ = hub.Publish(ctx, events.New(events.BatchPaid, "state", nil))
	_ = hub.Publish(ctx, events.New(events.ClaimApproved, "nhis", nil))
	_ = hub.Publish(ctx, events.New(events.BatchPaid, "nhis", map[string]string{"batch_number": "PB-202609-B"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != events.BatchPaid || got.SchemeID != "nhis" {
		t.Fatalf("expected nhis batch.paid, got %s/%s", got.SchemeID, got.Type)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"claim.approved"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return contains(c.Topics, "claim.approved")
		}
		return false
	})
	_ = hub.Publish(ctx, events.New(events.ClaimApproved, "nhis", nil))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != events.ClaimApproved {
		t.Fatalf("expected claim.approved after subscribing, got %s", got.Type)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	url := newStreamServer(t, hub, []string{"https://portal.scheme.test"})

	header := http.Header{}
	header.Set("Origin", "https://evil.test")
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}
