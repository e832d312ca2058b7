package admission

import (
	"context"
	"fmt"
	"strings"

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

const admissionCols = `id, admission_code, referral_id, enrollee_id, facility_id, bundle_id,
	principal_diagnosis, diagnosis_description, admission_date, discharge_date, status,
	ward_type, ward_days, discharge_summary, admitted_by, discharged_by, created_at, updated_at`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.AdmissionCode, &a.ReferralID, &a.EnrolleeID, &a.FacilityID, &a.BundleID,
		&a.PrincipalDiagnosis, &a.DiagnosisDescription, &a.AdmissionDate, &a.DischargeDate, &a.Status,
		&a.WardType, &a.WardDays, &a.DischargeSummary, &a.AdmittedBy, &a.DischargedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admissions (id, admission_code, referral_id, enrollee_id, facility_id, bundle_id,
			principal_diagnosis, diagnosis_description, admission_date, status, ward_type, admitted_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.AdmissionCode, a.ReferralID, a.EnrolleeID, a.FacilityID, a.BundleID,
		a.PrincipalDiagnosis, a.DiagnosisDescription, a.AdmissionDate, a.Status, a.WardType, a.AdmittedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "admissions_referral_id_key") {
		return apperr.Domain(apperr.CodeAdmissionExists, "an admission already exists for this referral")
	}
	if err != nil {
		return fmt.Errorf("insert admission: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "admission")
	}
	return a, nil
}

func (r *repoPG) LockForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "admission")
	}
	return a, nil
}

func (r *repoPG) GetByReferral(ctx context.Context, referralID uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE referral_id = $1`, referralID))
	if err != nil {
		return nil, db.MapNotFound(err, "admission")
	}
	return a, nil
}

func (r *repoPG) GetActiveByEnrollee(ctx context.Context, enrolleeID uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `
		SELECT `+admissionCols+` FROM admissions
		WHERE enrollee_id = $1 AND status = 'active'
		ORDER BY admission_date DESC, created_at DESC
		LIMIT 1`, enrolleeID))
	if err != nil {
		return nil, db.MapNotFound(err, "active admission")
	}
	return a, nil
}

func (r *repoPG) Discharge(ctx context.Context, a *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admissions SET status = $2, discharge_date = $3, discharge_summary = $4,
			ward_days = $5, discharged_by = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING updated_at`,
		a.ID, a.Status, a.DischargeDate, a.DischargeSummary, a.WardDays, a.DischargedBy,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return db.MapNotFound(err, "active admission")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Admission, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EnrolleeID != nil {
		add("enrollee_id = $%d", *f.EnrolleeID)
	}
	if f.FacilityID != nil {
		add("facility_id = $%d", *f.FacilityID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admissions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count admissions: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM admissions%s ORDER BY admission_date DESC LIMIT $%d OFFSET $%d`,
		admissionCols, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list admissions: %w", err)
	}
	defer rows.Close()
	var items []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
