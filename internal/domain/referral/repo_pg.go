package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const referralCols = `id, referral_code, enrollee_id, referring_facility_id, receiving_facility_id,
	status, utn, utn_validated, utn_validated_at, utn_validated_by, valid_until, service_bundle_id,
	claim_submitted, claim_submitted_at, approved_by, approved_at, denied_by, denied_at,
	denial_reason, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(&r.ID, &r.ReferralCode, &r.EnrolleeID, &r.ReferringFacilityID, &r.ReceivingFacilityID,
		&r.Status, &r.UTN, &r.UTNValidated, &r.UTNValidatedAt, &r.UTNValidatedBy, &r.ValidUntil, &r.ServiceBundleID,
		&r.ClaimSubmitted, &r.ClaimSubmittedAt, &r.ApprovedBy, &r.ApprovedAt, &r.DeniedBy, &r.DeniedAt,
		&r.DenialReason, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (r *repoPG) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referrals (id, referral_code, enrollee_id, referring_facility_id, receiving_facility_id,
			status, service_bundle_id, valid_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		ref.ID, ref.ReferralCode, ref.EnrolleeID, ref.ReferringFacilityID, ref.ReceivingFacilityID,
		ref.Status, ref.ServiceBundleID, ref.ValidUntil,
	).Scan(&ref.CreatedAt, &ref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := scanReferral(r.conn(ctx).QueryRow(ctx, `SELECT `+referralCols+` FROM referrals WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "referral")
	}
	return ref, nil
}

func (r *repoPG) LockForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := scanReferral(r.conn(ctx).QueryRow(ctx, `SELECT `+referralCols+` FROM referrals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "referral")
	}
	return ref, nil
}

func (r *repoPG) Update(ctx context.Context, ref *Referral) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE referrals SET status = $2, utn = $3, utn_validated = $4, utn_validated_at = $5,
			utn_validated_by = $6, valid_until = $7, service_bundle_id = $8,
			approved_by = $9, approved_at = $10, denied_by = $11, denied_at = $12,
			denial_reason = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		ref.ID, ref.Status, ref.UTN, ref.UTNValidated, ref.UTNValidatedAt,
		ref.UTNValidatedBy, ref.ValidUntil, ref.ServiceBundleID,
		ref.ApprovedBy, ref.ApprovedAt, ref.DeniedBy, ref.DeniedAt,
		ref.DenialReason,
	).Scan(&ref.UpdatedAt)
	if err != nil {
		return db.MapNotFound(err, "referral")
	}
	return nil
}

func (r *repoPG) MarkClaimSubmitted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE referrals SET claim_submitted = TRUE, claim_submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND NOT claim_submitted`, id)
	if err != nil {
		return false, fmt.Errorf("mark claim submitted: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM referrals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, apperr.NotFound("referral")
	}
	return false, nil
}
