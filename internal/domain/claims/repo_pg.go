package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// -- Claims --

const claimCols = `id, claim_number, referral_id, admission_id, enrollee_id, facility_id, utn,
	bundle_amount, ffs_amount, total_amount_claimed, status, payment_status, approved_amount,
	submitted_at, submitted_by, review_started_at, review_started_by, approved_at, approved_by,
	approval_comments, rejected_at, rejected_by, rejection_reason, payment_batch_id,
	payment_reference, payment_processed_at, created_at, updated_at`

// ClaimColumns lets the payment repository scan claims it selects itself.
const ClaimColumns = claimCols

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.ReferralID, &c.AdmissionID, &c.EnrolleeID, &c.FacilityID, &c.UTN,
		&c.BundleAmount, &c.FFSAmount, &c.TotalAmountClaimed, &c.Status, &c.PaymentStatus, &c.ApprovedAmount,
		&c.SubmittedAt, &c.SubmittedBy, &c.ReviewStartedAt, &c.ReviewStartedBy, &c.ApprovedAt, &c.ApprovedBy,
		&c.ApprovalComments, &c.RejectedAt, &c.RejectedBy, &c.RejectionReason, &c.PaymentBatchID,
		&c.PaymentReference, &c.PaymentProcessedAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

// ScanClaim scans a row selected with ClaimColumns.
func ScanClaim(row pgx.Row) (*Claim, error) { return scanClaim(row) }

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claims (id, claim_number, referral_id, admission_id, enrollee_id, facility_id, utn,
			bundle_amount, ffs_amount, total_amount_claimed, status, payment_status,
			submitted_at, submitted_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		c.ID, c.ClaimNumber, c.ReferralID, c.AdmissionID, c.EnrolleeID, c.FacilityID, c.UTN,
		c.BundleAmount, c.FFSAmount, c.TotalAmountClaimed, c.Status, c.PaymentStatus,
		c.SubmittedAt, c.SubmittedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsUniqueViolation(err, "claims_referral_id_key") {
		return ErrDuplicateReferral
	}
	if db.IsUniqueViolation(err, "claims_claim_number_key") {
		return ErrClaimNumberTaken
	}
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "claim")
	}
	return c, nil
}

func (r *repoPG) LockForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "claim")
	}
	return c, nil
}

func (r *repoPG) GetByReferral(ctx context.Context, referralID uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE referral_id = $1`, referralID))
	if err != nil {
		return nil, db.MapNotFound(err, "claim")
	}
	return c, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Claim, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.FacilityID != nil {
		add("facility_id = $%d", *f.FacilityID)
	}
	if f.ReferralID != nil {
		add("referral_id = $%d", *f.ReferralID)
	}
	if f.PaymentBatchID != nil {
		add("payment_batch_id = $%d", *f.PaymentBatchID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count claims: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM claims%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		claimCols, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, c *Claim) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE claims SET status = $2, approved_amount = $3,
			submitted_at = $4, submitted_by = $5, review_started_at = $6, review_started_by = $7,
			approved_at = $8, approved_by = $9, approval_comments = $10,
			rejected_at = $11, rejected_by = $12, rejection_reason = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Status, c.ApprovedAmount,
		c.SubmittedAt, c.SubmittedBy, c.ReviewStartedAt, c.ReviewStartedBy,
		c.ApprovedAt, c.ApprovedBy, c.ApprovalComments,
		c.RejectedAt, c.RejectedBy, c.RejectionReason,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return db.MapNotFound(err, "claim")
	}
	return nil
}

func (r *repoPG) UpdateAmounts(ctx context.Context, id uuid.UUID, bundle, ffs decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET bundle_amount = $2, ffs_amount = $3, total_amount_claimed = $4, updated_at = NOW()
		WHERE id = $1 AND payment_batch_id IS NULL`,
		id, bundle, ffs, bundle.Add(ffs))
	if err != nil {
		return fmt.Errorf("update claim amounts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Domain(apperr.CodeClaimBatched, "claim amounts are frozen once the claim is in a payment batch")
	}
	return nil
}

// -- Lines --

const lineCols = `id, claim_id, tariff_type, reporting_type, service_code, description, quantity,
	unit_price, line_total, pa_code_id, bundle_component_id, bundle_id, complication_code,
	is_approved, approved_amount, review_note, reviewed_by, reviewed_at, created_at`

func scanLine(row pgx.Row) (*ClaimLine, error) {
	var l ClaimLine
	err := row.Scan(&l.ID, &l.ClaimID, &l.TariffType, &l.ReportingType, &l.ServiceCode, &l.Description, &l.Quantity,
		&l.UnitPrice, &l.LineTotal, &l.PACodeID, &l.BundleComponentID, &l.BundleID, &l.ComplicationCode,
		&l.IsApproved, &l.ApprovedAmount, &l.ReviewNote, &l.ReviewedBy, &l.ReviewedAt, &l.CreatedAt)
	return &l, err
}

func (r *repoPG) AddLine(ctx context.Context, l *ClaimLine) error {
	l.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_lines (id, claim_id, tariff_type, reporting_type, service_code, description,
			quantity, unit_price, line_total, pa_code_id, bundle_component_id, bundle_id, complication_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		l.ID, l.ClaimID, l.TariffType, l.ReportingType, l.ServiceCode, l.Description,
		l.Quantity, l.UnitPrice, l.LineTotal, l.PACodeID, l.BundleComponentID, l.BundleID, l.ComplicationCode,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert claim line: %w", err)
	}
	return nil
}

func (r *repoPG) GetLine(ctx context.Context, claimID, lineID uuid.UUID) (*ClaimLine, error) {
	l, err := scanLine(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineCols+` FROM claim_lines WHERE claim_id = $1 AND id = $2`, claimID, lineID))
	if err != nil {
		return nil, db.MapNotFound(err, "claim line")
	}
	return l, nil
}

func (r *repoPG) ListLines(ctx context.Context, claimID uuid.UUID) ([]*ClaimLine, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineCols+` FROM claim_lines WHERE claim_id = $1 ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim lines: %w", err)
	}
	defer rows.Close()
	var items []*ClaimLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateLineReview(ctx context.Context, l *ClaimLine) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim_lines SET is_approved = $3, approved_amount = $4, review_note = $5,
			reviewed_by = $6, reviewed_at = $7
		WHERE claim_id = $1 AND id = $2`,
		l.ClaimID, l.ID, l.IsApproved, l.ApprovedAmount, l.ReviewNote, l.ReviewedBy, l.ReviewedAt)
	if err != nil {
		return fmt.Errorf("review claim line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("claim line")
	}
	return nil
}

// -- Alerts --

const alertCols = `id, claim_id, claim_line_id, service_bundle_id, alert_code, severity, action, message,
	resolved, resolved_by, resolved_at, resolution_note, created_at`

func scanAlert(row pgx.Row) (*ClaimAlert, error) {
	var a ClaimAlert
	err := row.Scan(&a.ID, &a.ClaimID, &a.ClaimLineID, &a.BundleID, &a.AlertCode, &a.Severity, &a.Action, &a.Message,
		&a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.ResolutionNote, &a.CreatedAt)
	return &a, err
}

func (r *repoPG) AddAlert(ctx context.Context, a *ClaimAlert) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_alerts (id, claim_id, claim_line_id, service_bundle_id, alert_code, severity, action, message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		a.ID, a.ClaimID, a.ClaimLineID, a.BundleID, a.AlertCode, a.Severity, a.Action, a.Message,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert claim alert: %w", err)
	}
	return nil
}

func (r *repoPG) GetAlert(ctx context.Context, claimID, alertID uuid.UUID) (*ClaimAlert, error) {
	a, err := scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM claim_alerts WHERE claim_id = $1 AND id = $2`, claimID, alertID))
	if err != nil {
		return nil, db.MapNotFound(err, "claim alert")
	}
	return a, nil
}

func (r *repoPG) ListAlerts(ctx context.Context, claimID uuid.UUID, openOnly bool) ([]*ClaimAlert, error) {
	q := `SELECT ` + alertCols + ` FROM claim_alerts WHERE claim_id = $1`
	if openOnly {
		q += ` AND resolved = FALSE`
	}
	q += ` ORDER BY created_at, id`
	rows, err := r.conn(ctx).Query(ctx, q, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim alerts: %w", err)
	}
	defer rows.Close()
	var items []*ClaimAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) ResolveAlert(ctx context.Context, a *ClaimAlert) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim_alerts SET resolved = TRUE, resolved_by = $3, resolved_at = $4, resolution_note = $5
		WHERE claim_id = $1 AND id = $2 AND resolved = FALSE`,
		a.ClaimID, a.ID, a.ResolvedBy, a.ResolvedAt, a.ResolutionNote)
	if err != nil {
		return fmt.Errorf("resolve claim alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("open claim alert")
	}
	return nil
}

// -- History --

func (r *repoPG) AddHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_status_history (id, claim_id, old_status, new_status, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.ClaimID, h.OldStatus, h.NewStatus, h.ChangedBy, h.ChangedAt, h.Reason)
	if err != nil {
		return fmt.Errorf("insert claim status history: %w", err)
	}
	return nil
}

func (r *repoPG) ListHistory(ctx context.Context, claimID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, old_status, new_status, changed_by, changed_at, reason
		FROM claim_status_history WHERE claim_id = $1 ORDER BY changed_at, id`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim status history: %w", err)
	}
	defer rows.Close()
	var items []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.ClaimID, &h.OldStatus, &h.NewStatus, &h.ChangedBy, &h.ChangedAt, &h.Reason); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
