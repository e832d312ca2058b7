package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/schemehealth/claims/internal/domain/claims"
)

type Repository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error)
	List(ctx context.Context, f ListFilter) ([]*Batch, int, error)
	Update(ctx context.Context, b *Batch) error

	// SelectEligible locks approved, unbatched claims approved in [from, to).
	SelectEligible(ctx context.Context, from, to time.Time, facilityID *uuid.UUID) ([]*claims.Claim, error)
	// AssignClaims sets payment_batch_id on claims that are still unbatched
	// and reports how many it touched.
	AssignClaims(ctx context.Context, batchID uuid.UUID, claimIDs []uuid.UUID) (int64, error)
	MarkClaimsProcessed(ctx context.Context, batchID uuid.UUID) (int64, error)
	MarkClaimsPaid(ctx context.Context, batchID uuid.UUID, reference string, at time.Time) (int64, error)
	ReleaseClaims(ctx context.Context, batchID uuid.UUID) (int64, error)
}
