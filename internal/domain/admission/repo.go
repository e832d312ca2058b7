package admission

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	GetByReferral(ctx context.Context, referralID uuid.UUID) (*Admission, error)
	// GetActiveByEnrollee returns the most recent active admission.
	GetActiveByEnrollee(ctx context.Context, enrolleeID uuid.UUID) (*Admission, error)
	Discharge(ctx context.Context, a *Admission) error
	List(ctx context.Context, f ListFilter) ([]*Admission, int, error)
}
