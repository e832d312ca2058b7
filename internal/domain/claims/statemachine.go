package claims

import "github.com/schemehealth/claims/internal/platform/apperr"

type ClaimStatus string

const (
	StatusDraft     ClaimStatus = "draft"
	StatusSubmitted ClaimStatus = "submitted"
	StatusReviewing ClaimStatus = "reviewing"
	StatusApproved  ClaimStatus = "approved"
	StatusRejected  ClaimStatus = "rejected"
)

// Terminal reports whether no further review event applies.
func (s ClaimStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Event string

const (
	EventSubmit  Event = "submit"
	EventApprove Event = "approve"
	EventReject  Event = "reject"
)

var transitions = map[ClaimStatus]map[Event]ClaimStatus{
	StatusDraft: {
		EventSubmit: StatusSubmitted,
	},
	StatusSubmitted: {
		EventSubmit:  StatusReviewing,
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
	},
	StatusReviewing: {
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
	},
}

// Transition returns the status a claim moves to when ev is applied in
// current, or an INVALID_TRANSITION error.
func Transition(current ClaimStatus, ev Event) (ClaimStatus, error) {
	if next, ok := transitions[current][ev]; ok {
		return next, nil
	}
	return current, apperr.Domain(apperr.CodeInvalidTransition,
		"cannot "+string(ev)+" a claim in status "+string(current)).
		WithDetail("status", current).
		WithDetail("event", ev)
}
