package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemehealth/claims/internal/domain/claims"
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

const batchCols = `id, batch_number, batch_month, facility_id, status, claims_count,
	total_bundle_amount, total_ffs_amount, total_amount, payment_reference, payment_method,
	bank_details, payment_date, notes, failure_reason, created_by, processed_by, processed_at,
	paid_by, paid_at, failed_at, created_at, updated_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.BatchNumber, &b.BatchMonth, &b.FacilityID, &b.Status, &b.ClaimsCount,
		&b.TotalBundleAmount, &b.TotalFFSAmount, &b.TotalAmount, &b.PaymentReference, &b.PaymentMethod,
		&b.BankDetails, &b.PaymentDate, &b.Notes, &b.FailureReason, &b.CreatedBy, &b.ProcessedBy, &b.ProcessedAt,
		&b.PaidBy, &b.PaidAt, &b.FailedAt, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *repoPG) Create(ctx context.Context, b *Batch) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_payment_batches (id, batch_number, batch_month, facility_id, status, claims_count,
			total_bundle_amount, total_ffs_amount, total_amount, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		b.ID, b.BatchNumber, b.BatchMonth, b.FacilityID, b.Status, b.ClaimsCount,
		b.TotalBundleAmount, b.TotalFFSAmount, b.TotalAmount, b.CreatedBy,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment batch: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM claim_payment_batches WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "payment batch")
	}
	return b, nil
}

func (r *repoPG) LockForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM claim_payment_batches WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "payment batch")
	}
	return b, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Batch, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.BatchMonth != "" {
		add("batch_month = $%d", f.BatchMonth)
	}
	if f.FacilityID != nil {
		add("facility_id = $%d", *f.FacilityID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim_payment_batches`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payment batches: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM claim_payment_batches%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		batchCols, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payment batches: %w", err)
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, b *Batch) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE claim_payment_batches SET status = $2, payment_reference = $3, payment_method = $4,
			bank_details = $5, payment_date = $6, notes = $7, failure_reason = $8,
			processed_by = $9, processed_at = $10, paid_by = $11, paid_at = $12, failed_at = $13,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.Status, b.PaymentReference, b.PaymentMethod,
		b.BankDetails, b.PaymentDate, b.Notes, b.FailureReason,
		b.ProcessedBy, b.ProcessedAt, b.PaidBy, b.PaidAt, b.FailedAt,
	).Scan(&b.UpdatedAt)
	if err != nil {
		return db.MapNotFound(err, "payment batch")
	}
	return nil
}

func (r *repoPG) SelectEligible(ctx context.Context, from, to time.Time, facilityID *uuid.UUID) ([]*claims.Claim, error) {
	q := `SELECT ` + claims.ClaimColumns + ` FROM claims
		WHERE status = 'approved' AND payment_batch_id IS NULL
		AND approved_at >= $1 AND approved_at < $2`
	args := []interface{}{from, to}
	if facilityID != nil {
		q += ` AND facility_id = $3`
		args = append(args, *facilityID)
	}
	q += ` ORDER BY approved_at, id FOR UPDATE`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select eligible claims: %w", err)
	}
	defer rows.Close()
	var items []*claims.Claim
	for rows.Next() {
		c, err := claims.ScanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) AssignClaims(ctx context.Context, batchID uuid.UUID, claimIDs []uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET payment_batch_id = $1, updated_at = NOW()
		WHERE id = ANY($2::uuid[]) AND payment_batch_id IS NULL`,
		batchID, claimIDs)
	if err != nil {
		return 0, fmt.Errorf("assign claims to batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) MarkClaimsProcessed(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET payment_status = 'processed', updated_at = NOW()
		WHERE payment_batch_id = $1 AND payment_status = 'not_processed'`, batchID)
	if err != nil {
		return 0, fmt.Errorf("mark batch claims processed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) MarkClaimsPaid(ctx context.Context, batchID uuid.UUID, reference string, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET payment_status = 'paid', payment_reference = $2, payment_processed_at = $3,
			updated_at = NOW()
		WHERE payment_batch_id = $1 AND payment_status <> 'paid'`, batchID, reference, at)
	if err != nil {
		return 0, fmt.Errorf("mark batch claims paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ReleaseClaims(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET payment_batch_id = NULL, payment_status = 'not_processed', updated_at = NOW()
		WHERE payment_batch_id = $1 AND payment_status <> 'paid'`, batchID)
	if err != nil {
		return 0, fmt.Errorf("release batch claims: %w", err)
	}
	return tag.RowsAffected(), nil
}
