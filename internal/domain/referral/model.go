package referral

import (
	"time"

	"github.com/google/uuid"

	"github.com/schemehealth/claims/internal/domain/preauth"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Referral is a patient transfer between two facilities. Its UTN gates
// every admission and claim raised against it.
type Referral struct {
	ID                  uuid.UUID  `json:"id"`
	ReferralCode        string     `json:"referral_code"`
	EnrolleeID          uuid.UUID  `json:"enrollee_id"`
	ReferringFacilityID uuid.UUID  `json:"referring_facility_id"`
	ReceivingFacilityID uuid.UUID  `json:"receiving_facility_id"`
	Status              Status     `json:"status"`
	UTN                 *string    `json:"utn,omitempty"`
	UTNValidated        bool       `json:"utn_validated"`
	UTNValidatedAt      *time.Time `json:"utn_validated_at,omitempty"`
	UTNValidatedBy      *string    `json:"utn_validated_by,omitempty"`
	ValidUntil          *time.Time `json:"valid_until,omitempty"`
	ServiceBundleID     *int64     `json:"service_bundle_id,omitempty"`
	ClaimSubmitted      bool       `json:"claim_submitted"`
	ClaimSubmittedAt    *time.Time `json:"claim_submitted_at,omitempty"`
	ApprovedBy          *string    `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	DeniedBy            *string    `json:"denied_by,omitempty"`
	DeniedAt            *time.Time `json:"denied_at,omitempty"`
	DenialReason        *string    `json:"denial_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// UTNValidation is the outcome of checking a referral's UTN. Callers branch
// on Valid; Message says why when it is false.
type UTNValidation struct {
	Valid    bool      `json:"valid"`
	Referral *Referral `json:"referral,omitempty"`
	Message  string    `json:"message"`
}

// Evaluate checks r at now without touching storage.
func Evaluate(r *Referral, now time.Time) UTNValidation {
	switch {
	case r == nil:
		return UTNValidation{Message: "referral not found"}
	case r.Status != StatusApproved:
		return UTNValidation{Referral: r, Message: "referral is " + string(r.Status) + ", not approved"}
	case r.UTN == nil || *r.UTN == "":
		return UTNValidation{Referral: r, Message: "referral has no UTN"}
	case !r.UTNValidated:
		return UTNValidation{Referral: r, Message: "UTN has not been validated"}
	case r.ValidUntil != nil && !r.ValidUntil.After(now):
		return UTNValidation{Referral: r, Message: "referral expired on " + r.ValidUntil.Format("2006-01-02")}
	}
	return UTNValidation{Valid: true, Referral: r, Message: "UTN is valid"}
}

type ApproveInput struct {
	ServiceBundleID *int64 `json:"service_bundle_id"`
	Comments        string `json:"comments" validate:"max=1000"`
}

// ApprovalResult carries the approved referral and the bundle PA issued with
// it, if any.
type ApprovalResult struct {
	Referral *Referral       `json:"referral"`
	BundlePA *preauth.PACode `json:"bundle_pa,omitempty"`
}

type DenyInput struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type ConfirmUTNInput struct {
	UTN string `json:"utn" validate:"required,max=40"`
}

// CreateInput registers a pending referral. Referral intake is owned by the
// referral desk; the seed command is the only caller here.
type CreateInput struct {
	ReferralCode        string    `json:"referral_code"`
	EnrolleeID          uuid.UUID `json:"enrollee_id" validate:"required"`
	ReferringFacilityID uuid.UUID `json:"referring_facility_id" validate:"required"`
	ReceivingFacilityID uuid.UUID `json:"receiving_facility_id" validate:"required"`
	ServiceBundleID     *int64    `json:"service_bundle_id"`
}
