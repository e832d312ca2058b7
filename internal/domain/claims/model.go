package claims

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/admission"
)

type PaymentStatus string

const (
	PaymentNotProcessed PaymentStatus = "not_processed"
	PaymentProcessed    PaymentStatus = "processed"
	PaymentPaid         PaymentStatus = "paid"
)

type TariffType string

const (
	TariffBundle TariffType = "BUNDLE"
	TariffFFS    TariffType = "FFS"
)

type ReportingType string

const (
	ReportingInBundle      ReportingType = "IN_BUNDLE"
	ReportingFFSTopUp      ReportingType = "FFS_TOP_UP"
	ReportingFFSStandalone ReportingType = "FFS_STANDALONE"
)

// Claim is a facility's reimbursement request for one referral.
// TotalAmountClaimed always equals BundleAmount + FFSAmount.
type Claim struct {
	ID                 uuid.UUID        `json:"id"`
	ClaimNumber        string           `json:"claim_number"`
	ReferralID         uuid.UUID        `json:"referral_id"`
	AdmissionID        *uuid.UUID       `json:"admission_id,omitempty"`
	EnrolleeID         uuid.UUID        `json:"enrollee_id"`
	FacilityID         uuid.UUID        `json:"facility_id"`
	UTN                string           `json:"utn"`
	BundleAmount       decimal.Decimal  `json:"bundle_amount"`
	FFSAmount          decimal.Decimal  `json:"ffs_amount"`
	TotalAmountClaimed decimal.Decimal  `json:"total_amount_claimed"`
	Status             ClaimStatus      `json:"status"`
	PaymentStatus      PaymentStatus    `json:"payment_status"`
	ApprovedAmount     *decimal.Decimal `json:"approved_amount,omitempty"`
	SubmittedAt        *time.Time       `json:"submitted_at,omitempty"`
	SubmittedBy        *string          `json:"submitted_by,omitempty"`
	ReviewStartedAt    *time.Time       `json:"review_started_at,omitempty"`
	ReviewStartedBy    *string          `json:"review_started_by,omitempty"`
	ApprovedAt         *time.Time       `json:"approved_at,omitempty"`
	ApprovedBy         *string          `json:"approved_by,omitempty"`
	ApprovalComments   *string          `json:"approval_comments,omitempty"`
	RejectedAt         *time.Time       `json:"rejected_at,omitempty"`
	RejectedBy         *string          `json:"rejected_by,omitempty"`
	RejectionReason    *string          `json:"rejection_reason,omitempty"`
	PaymentBatchID     *uuid.UUID       `json:"payment_batch_id,omitempty"`
	PaymentReference   *string          `json:"payment_reference,omitempty"`
	PaymentProcessedAt *time.Time       `json:"payment_processed_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`

	Lines []*ClaimLine `json:"lines,omitempty"`
}

// PayableAmount is what a payment batch pays for the claim.
func (c *Claim) PayableAmount() decimal.Decimal {
	if c.ApprovedAmount != nil {
		return *c.ApprovedAmount
	}
	return c.TotalAmountClaimed
}

type ClaimLine struct {
	ID                uuid.UUID        `json:"id"`
	ClaimID           uuid.UUID        `json:"claim_id"`
	TariffType        TariffType       `json:"tariff_type"`
	ReportingType     ReportingType    `json:"reporting_type"`
	ServiceCode       string           `json:"service_code"`
	Description       *string          `json:"description,omitempty"`
	Quantity          int              `json:"quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	LineTotal         decimal.Decimal  `json:"line_total"`
	PACodeID          *uuid.UUID       `json:"pa_code_id,omitempty"`
	BundleComponentID *int64           `json:"bundle_component_id,omitempty"`
	BundleID          *int64           `json:"bundle_id,omitempty"`
	ComplicationCode  *string          `json:"complication_code,omitempty"`
	IsApproved        *bool            `json:"is_approved,omitempty"`
	ApprovedAmount    *decimal.Decimal `json:"approved_amount,omitempty"`
	ReviewNote        *string          `json:"review_note,omitempty"`
	ReviewedBy        *string          `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Rejected reports whether a reviewer turned the line down.
func (l *ClaimLine) Rejected() bool {
	return l.IsApproved != nil && !*l.IsApproved
}

// Payable is the line's contribution to the default approved amount.
func (l *ClaimLine) Payable() decimal.Decimal {
	if l.IsApproved == nil {
		return l.LineTotal
	}
	if !*l.IsApproved {
		return decimal.Zero
	}
	if l.ApprovedAmount != nil {
		return *l.ApprovedAmount
	}
	return l.LineTotal
}

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

type AlertAction string

const (
	ActionRejectClaim    AlertAction = "REJECT_CLAIM"
	ActionRejectFFSLines AlertAction = "REJECT_FFS_LINES"
	ActionResolveAlert   AlertAction = "RESOLVE_ALERT"
)

const (
	AlertDoubleBundle           = "DOUBLE_BUNDLE"
	AlertUnauthorizedFFSTopUp   = "UNAUTHORIZED_FFS_TOP_UP"
	AlertMissingComplicationPA  = "MISSING_COMPLICATION_PA"
	AlertBundleTariffExceeded   = "BUNDLE_TARIFF_EXCEEDED"
	AlertAdmissionNotDischarged = "ADMISSION_NOT_DISCHARGED"
)

type ClaimAlert struct {
	ID             uuid.UUID   `json:"id"`
	ClaimID        uuid.UUID   `json:"claim_id"`
	ClaimLineID    *uuid.UUID  `json:"claim_line_id,omitempty"`
	BundleID       *int64      `json:"service_bundle_id,omitempty"`
	AlertCode      string      `json:"alert_code"`
	Severity       Severity    `json:"severity"`
	Action         AlertAction `json:"action"`
	Message        string      `json:"message"`
	Resolved       bool        `json:"resolved"`
	ResolvedBy     *string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	ResolutionNote *string     `json:"resolution_note,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// key identifies an alert by rule and subject (line or bundle) so
// re-validation does not raise it twice.
func (a *ClaimAlert) key() string {
	switch {
	case a.ClaimLineID != nil:
		return a.AlertCode + "/line/" + a.ClaimLineID.String()
	case a.BundleID != nil:
		return a.AlertCode + "/bundle/" + strconv.FormatInt(*a.BundleID, 10)
	}
	return a.AlertCode
}

type StatusHistory struct {
	ID        uuid.UUID    `json:"id"`
	ClaimID   uuid.UUID    `json:"claim_id"`
	OldStatus *ClaimStatus `json:"old_status,omitempty"`
	NewStatus ClaimStatus  `json:"new_status"`
	ChangedBy string       `json:"changed_by"`
	ChangedAt time.Time    `json:"changed_at"`
	Reason    *string      `json:"reason,omitempty"`
}

// Amounts is the money view of a claim used by the summary endpoint.
type Amounts struct {
	BundleAmount       decimal.Decimal  `json:"bundle_amount"`
	FFSAmount          decimal.Decimal  `json:"ffs_amount"`
	TotalAmountClaimed decimal.Decimal  `json:"total_amount_claimed"`
	LinesPayable       decimal.Decimal  `json:"lines_payable"`
	ApprovedAmount     *decimal.Decimal `json:"approved_amount,omitempty"`
}

type Summary struct {
	Claim       *Claim               `json:"claim"`
	Admission   *admission.Admission `json:"admission,omitempty"`
	BundleLines []*ClaimLine         `json:"bundle_lines"`
	FFSLines    []*ClaimLine         `json:"ffs_lines"`
	Alerts      []*ClaimAlert        `json:"alerts"`
	Amounts     Amounts              `json:"amounts"`
	History     []*StatusHistory     `json:"history"`
}

// -- Inputs --

type BundleComponentInput struct {
	BundleComponentID int64           `json:"bundle_component_id" validate:"required,gt=0"`
	Quantity          int             `json:"quantity" validate:"omitempty,gt=0"`
	ActualAmount      decimal.Decimal `json:"actual_amount" validate:"gte=0"`
	PACodeID          *uuid.UUID      `json:"pa_code_id"`
}

type LineItemInput struct {
	ServiceCode      string          `json:"service_code" validate:"required,max=50"`
	Description      *string         `json:"description" validate:"omitempty,max=255"`
	Quantity         int             `json:"quantity" validate:"gt=0"`
	UnitPrice        decimal.Decimal `json:"unit_price" validate:"gte=0"`
	PACodeID         *uuid.UUID      `json:"pa_code_id"`
	ComplicationCode *string         `json:"complication_code" validate:"omitempty,max=20"`
}

type CreateClaimInput struct {
	ReferralID       uuid.UUID              `json:"referral_id" validate:"required"`
	AdmissionID      *uuid.UUID             `json:"admission_id"`
	BundleComponents []BundleComponentInput `json:"bundle_components" validate:"dive"`
	LineItems        []LineItemInput        `json:"line_items" validate:"dive"`
}

type BundleTreatmentInput struct {
	PACodeID          uuid.UUID       `json:"pa_code_id" validate:"required"`
	BundleComponentID int64           `json:"bundle_component_id" validate:"required,gt=0"`
	Quantity          int             `json:"quantity" validate:"omitempty,gt=0"`
	ActualAmount      decimal.Decimal `json:"actual_amount" validate:"gte=0"`
}

type FFSTreatmentInput struct {
	PACodeID         *uuid.UUID      `json:"pa_code_id"`
	ServiceCode      string          `json:"service_code" validate:"required,max=50"`
	Description      *string         `json:"description" validate:"omitempty,max=255"`
	Quantity         int             `json:"quantity" validate:"gt=0"`
	UnitPrice        decimal.Decimal `json:"unit_price" validate:"gte=0"`
	ComplicationCode *string         `json:"complication_code" validate:"omitempty,max=20"`
}

type ApproveInput struct {
	ApprovalComments string           `json:"approval_comments" validate:"max=2000"`
	ApprovedAmount   *decimal.Decimal `json:"approved_amount"`
}

type RejectInput struct {
	RejectionReason string `json:"rejection_reason" validate:"required,max=2000"`
}

type LineReviewInput struct {
	Approved       *bool            `json:"approved" validate:"required"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
	Note           string           `json:"note" validate:"max=2000"`
}

type ApplyAlertInput struct {
	Note string `json:"note" validate:"max=2000"`
}

type ListFilter struct {
	Status         ClaimStatus
	PaymentStatus  PaymentStatus
	FacilityID     *uuid.UUID
	ReferralID     *uuid.UUID
	PaymentBatchID *uuid.UUID
	Limit          int
	Offset         int
}
