package preauth

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

const paCols = `id, code, type, status, referral_id, admission_id, service_bundle_id,
	service_code, justification, issued_by, issued_at, expires_at`

func scanPACode(row pgx.Row) (*PACode, error) {
	var p PACode
	err := row.Scan(&p.ID, &p.Code, &p.Type, &p.Status, &p.ReferralID, &p.AdmissionID, &p.ServiceBundleID,
		&p.ServiceCode, &p.Justification, &p.IssuedBy, &p.IssuedAt, &p.ExpiresAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *PACode) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pa_codes (id, code, type, status, referral_id, admission_id, service_bundle_id,
			service_code, justification, issued_by, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING issued_at`,
		p.ID, p.Code, p.Type, p.Status, p.ReferralID, p.AdmissionID, p.ServiceBundleID,
		p.ServiceCode, p.Justification, p.IssuedBy, p.ExpiresAt,
	).Scan(&p.IssuedAt)
	if err != nil {
		return fmt.Errorf("insert pa code: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*PACode, error) {
	p, err := scanPACode(r.conn(ctx).QueryRow(ctx, `SELECT `+paCols+` FROM pa_codes WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "pa code")
	}
	return p, nil
}

func (r *repoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*PACode, error) {
	return r.list(ctx, `SELECT `+paCols+` FROM pa_codes WHERE referral_id = $1 ORDER BY issued_at`, referralID)
}

func (r *repoPG) ListActive(ctx context.Context, referralID uuid.UUID, t Type) ([]*PACode, error) {
	return r.list(ctx, `SELECT `+paCols+` FROM pa_codes
		WHERE referral_id = $1 AND type = $2 AND status = 'active'
			AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY issued_at`, referralID, t)
}

func (r *repoPG) list(ctx context.Context, q string, args ...interface{}) ([]*PACode, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pa codes: %w", err)
	}
	defer rows.Close()
	var items []*PACode
	for rows.Next() {
		p, err := scanPACode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) LinkAdmission(ctx context.Context, id, admissionID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE pa_codes SET admission_id = $2 WHERE id = $1 AND admission_id IS NULL`, id, admissionID)
	if err != nil {
		return fmt.Errorf("link pa code to admission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("unlinked pa code")
	}
	return nil
}
