// Package websocket streams claim and payment-batch lifecycle events to
// connected portal clients. Each client belongs to one scheme and receives
// only that scheme's events matching its subscribed type patterns.
package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/auth"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
)

const (
	sendBuffer     = 64
	maxMessageSize = 4096
	writeWait      = 10 * time.Second
)

// ClientMessage is sent by a client to change its subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected stream. Topics are event type patterns as
// accepted by events.MatchType.
type Client struct {
	ID       string
	SchemeID string
	Topics   []string
	Send     chan []byte
}

func NewClient(schemeID string, topics []string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		SchemeID: schemeID,
		Topics:   topics,
		Send:     make(chan []byte, sendBuffer),
	}
}

func (c *Client) wants(evt events.Event) bool {
	if c.SchemeID != evt.SchemeID {
		return false
	}
	for _, t := range c.Topics {
		if events.MatchType(t, evt.Type) {
			return true
		}
	}
	return false
}

// Hub tracks connected clients. It implements events.Publisher so it can sit
// beside the configured backend in an events.Fanout.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped int64
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[*Client]struct{}), logger: logger}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Unregistering twice is a
// no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" && !contains(c.Topics, t) {
			c.Topics = append(c.Topics, t)
		}
	}
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remaining := c.Topics[:0]
	for _, t := range c.Topics {
		if !contains(topics, t) {
			remaining = append(remaining, t)
		}
	}
	c.Topics = remaining
}

func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Publish queues evt for every interested client. A client whose buffer is
// full misses the event; publishing never blocks on a slow reader.
func (h *Hub) Publish(_ context.Context, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.dropped++
			h.logger.Warn().Str("client_id", c.ID).Str("event_type", evt.Type).Msg("stream client too slow, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped because a client's
// buffer was full.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Handler upgrades GET /events/stream to a websocket bound to the caller's
// scheme.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts browser connections only from allowedOrigins. "*"
// allows any origin; requests without an Origin header are always allowed.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || contains(allowedOrigins, "*") || contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/events/stream", h.Connect, auth.RequireRole(auth.ReadRoles...))
}

// Connect subscribes the new client to the comma separated "topics" query
// parameter, or to every event type when it is absent.
func (h *Handler) Connect(c echo.Context) error {
	topics := []string{"*"}
	if raw := c.QueryParam("topics"); raw != "" {
		topics = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return nil
	}

	client := NewClient(db.SchemeFromContext(c.Request().Context()), topics)
	h.hub.Register(client)
	h.hub.logger.Debug().Str("client_id", client.ID).Str("scheme_id", client.SchemeID).Strs("topics", topics).Msg("stream client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for data := range client.Send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
}
