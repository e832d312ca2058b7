package claims

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDuplicateReferral is returned by Create when the referral already has
// a claim. The aggregate transaction is aborted at that point, so callers
// look the existing claim up afterwards.
var ErrDuplicateReferral = errors.New("claim already exists for referral")

// ErrClaimNumberTaken is returned by Create when the generated claim number
// collides with an existing one.
var ErrClaimNumberTaken = errors.New("claim number already in use")

type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByReferral(ctx context.Context, referralID uuid.UUID) (*Claim, error)
	List(ctx context.Context, f ListFilter) ([]*Claim, int, error)
	UpdateStatus(ctx context.Context, c *Claim) error
	// UpdateAmounts fails with CLAIM_BATCHED once the claim joined a batch.
	UpdateAmounts(ctx context.Context, id uuid.UUID, bundle, ffs decimal.Decimal) error

	AddLine(ctx context.Context, l *ClaimLine) error
	GetLine(ctx context.Context, claimID, lineID uuid.UUID) (*ClaimLine, error)
	ListLines(ctx context.Context, claimID uuid.UUID) ([]*ClaimLine, error)
	UpdateLineReview(ctx context.Context, l *ClaimLine) error

	AddAlert(ctx context.Context, a *ClaimAlert) error
	GetAlert(ctx context.Context, claimID, alertID uuid.UUID) (*ClaimAlert, error)
	ListAlerts(ctx context.Context, claimID uuid.UUID, openOnly bool) ([]*ClaimAlert, error)
	ResolveAlert(ctx context.Context, a *ClaimAlert) error

	AddHistory(ctx context.Context, h *StatusHistory) error
	ListHistory(ctx context.Context, claimID uuid.UUID) ([]*StatusHistory, error)
}
