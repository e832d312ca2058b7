package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/platform/apperr"
)

type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusProcessing BatchStatus = "processing"
	StatusPaid       BatchStatus = "paid"
	StatusFailed     BatchStatus = "failed"
)

type Event string

const (
	EventProcess    Event = "process"
	EventMarkPaid   Event = "mark-paid"
	EventMarkFailed Event = "mark-failed"
)

var transitions = map[BatchStatus]map[Event]BatchStatus{
	StatusPending:    {EventProcess: StatusProcessing},
	StatusProcessing: {EventMarkPaid: StatusPaid, EventMarkFailed: StatusFailed},
}

// Transition returns the status a batch moves to on ev. paid and failed
// batches accept nothing.
func Transition(current BatchStatus, ev Event) (BatchStatus, error) {
	if next, ok := transitions[current][ev]; ok {
		return next, nil
	}
	return current, apperr.Domain(apperr.CodeInvalidBatchState,
		"cannot "+string(ev)+" a batch in status "+string(current)).
		WithDetail("status", current)
}

// Batch groups a month's approved claims into one payment run.
type Batch struct {
	ID                uuid.UUID       `json:"id"`
	BatchNumber       string          `json:"batch_number"`
	BatchMonth        string          `json:"batch_month"`
	FacilityID        *uuid.UUID      `json:"facility_id,omitempty"`
	Status            BatchStatus     `json:"status"`
	ClaimsCount       int             `json:"claims_count"`
	TotalBundleAmount decimal.Decimal `json:"total_bundle_amount"`
	TotalFFSAmount    decimal.Decimal `json:"total_ffs_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaymentReference  *string         `json:"payment_reference,omitempty"`
	PaymentMethod     *string         `json:"payment_method,omitempty"`
	BankDetails       *string         `json:"bank_details,omitempty"`
	PaymentDate       *time.Time      `json:"payment_date,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	CreatedBy         string          `json:"created_by"`
	ProcessedBy       *string         `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	PaidBy            *string         `json:"paid_by,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type CreateBatchInput struct {
	BatchMonth string     `json:"batch_month" validate:"required,batch_month"`
	FacilityID *uuid.UUID `json:"facility_id"`
}

type ProcessInput struct {
	PaymentReference *string    `json:"payment_reference" validate:"omitempty,max=100"`
	PaymentMethod    string     `json:"payment_method" validate:"required,oneof=bank_transfer cheque mobile_money"`
	BankDetails      *string    `json:"bank_details" validate:"omitempty,max=2000"`
	PaymentDate      *time.Time `json:"payment_date"`
}

type MarkPaidInput struct {
	PaymentReference *string `json:"payment_reference" validate:"omitempty,max=100"`
	Notes            *string `json:"notes" validate:"omitempty,max=2000"`
}

type MarkFailedInput struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type ListFilter struct {
	Status     BatchStatus
	BatchMonth string
	FacilityID *uuid.UUID
	Limit      int
	Offset     int
}
