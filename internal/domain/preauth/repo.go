package preauth

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *PACode) error
	GetByID(ctx context.Context, id uuid.UUID) (*PACode, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*PACode, error)
	// ListActive returns active codes of type t for a referral, oldest first.
	ListActive(ctx context.Context, referralID uuid.UUID, t Type) ([]*PACode, error)
	LinkAdmission(ctx context.Context, id, admissionID uuid.UUID) error
}
