package referral

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	// LockForUpdate reads the referral with a row lock held until the
	// surrounding transaction ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	// MarkClaimSubmitted flips claim_submitted and reports whether this call
	// did the flip.
	MarkClaimSubmitted(ctx context.Context, id uuid.UUID) (bool, error)
}
