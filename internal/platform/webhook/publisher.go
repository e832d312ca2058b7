// Package webhook delivers lifecycle events to subscriber URLs as signed
// JSON POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/events"
)

const (
	SignatureHeader = "X-Claims-Signature"
	EventTypeHeader = "X-Claims-Event"
	EventIDHeader   = "X-Claims-Event-ID"
)

// Endpoint is one subscriber. Events holds type patterns: exact
// ("batch.paid"), prefix ("batch.*"), suffix ("*.approved") or "*".
type Endpoint struct {
	URL    string
	Events []string
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is payload's HMAC under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

func (ep Endpoint) matches(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, p := range ep.Events {
		if events.MatchType(p, eventType) {
			return true
		}
	}
	return false
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	return nil
}

type Option func(*Publisher)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.httpClient = c }
}

// WithRetryDelays sets the waits between attempts; n delays allow n+1
// attempts per endpoint.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(p *Publisher) { p.retryDelays = delays }
}

// Publisher implements events.Publisher over HTTP.
type Publisher struct {
	endpoints   []Endpoint
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
}

func NewPublisher(endpoints []Endpoint, secret string, logger zerolog.Logger, opts ...Option) (*Publisher, error) {
	for _, ep := range endpoints {
		if err := ValidateURL(ep.URL); err != nil {
			return nil, err
		}
	}
	p := &Publisher{
		endpoints:   endpoints,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second},
		logger:      logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Publish posts evt to every subscribed endpoint. Failed endpoints are
// retried, then reported together.
func (p *Publisher) Publish(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	var errs []error
	for _, ep := range p.endpoints {
		if !ep.matches(evt.Type) {
			continue
		}
		if err := p.deliver(ctx, ep, evt, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) deliver(ctx context.Context, ep Endpoint, evt events.Event, payload []byte) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = p.post(ctx, ep.URL, evt, payload); err == nil {
			return nil
		}
		if attempt >= len(p.retryDelays) {
			return err
		}
		p.logger.Warn().Err(err).Str("url", ep.URL).Str("event_id", evt.ID).Int("attempt", attempt+1).Msg("webhook delivery failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelays[attempt]):
		}
	}
}

func (p *Publisher) post(ctx context.Context, target string, evt events.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, evt.Type)
	req.Header.Set(EventIDHeader, evt.ID)
	if p.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, p.secret))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
