// Package events publishes claim and payment-batch lifecycle notifications
// to downstream consumers (finance systems, facility portals).
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	ClaimSubmitted    = "claim.submitted"
	ClaimApproved     = "claim.approved"
	ClaimRejected     = "claim.rejected"
	BatchCreated      = "batch.created"
	BatchProcessing   = "batch.processing"
	BatchPaid         = "batch.paid"
	BatchFailed       = "batch.failed"
	AdmissionCreated  = "admission.created"
	PatientDischarged = "admission.discharged"
)

type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	SchemeID   string      `json:"scheme_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func New(eventType, schemeID string, payload interface{}) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		SchemeID:   schemeID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// LogPublisher writes events to the process log. Used when no broker is
// configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Str("scheme_id", evt.SchemeID).
		Interface("payload", evt.Payload).
		Msg("event")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// PublishAfterCommit sends evt and only logs a failure: the state change it
// describes is already committed.
func PublishAfterCommit(ctx context.Context, pub Publisher, logger zerolog.Logger, evt Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Error().Err(err).Str("event_type", evt.Type).Str("event_id", evt.ID).Msg("publish event failed")
	}
}

// MatchType reports whether eventType is selected by pattern. Patterns are
// an exact type, "*", a "batch.*" prefix or a "*.approved" suffix.
func MatchType(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// Fanout publishes every event to each of its publishers and joins their
// errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
