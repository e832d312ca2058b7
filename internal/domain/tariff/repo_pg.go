package tariff

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const bundleCols = `id, code, name, diagnosis_icd10, fixed_price, is_active, created_at, updated_at`

func scanBundle(row pgx.Row) (*ServiceBundle, error) {
	var b ServiceBundle
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.DiagnosisICD10, &b.FixedPrice, &b.IsActive,
		&b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

const componentCols = `id, bundle_id, service_code, description, max_quantity, unit_price, created_at`

func scanComponent(row pgx.Row) (*BundleComponent, error) {
	var c BundleComponent
	err := row.Scan(&c.ID, &c.BundleID, &c.ServiceCode, &c.Description, &c.MaxQuantity,
		&c.UnitPrice, &c.CreatedAt)
	return &c, err
}

func (r *repoPG) CreateBundle(ctx context.Context, b *ServiceBundle) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO service_bundles (code, name, diagnosis_icd10, fixed_price, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		b.Code, b.Name, b.DiagnosisICD10, b.FixedPrice, b.IsActive,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bundle %s: %w", b.Code, err)
	}
	return nil
}

func (r *repoPG) GetBundle(ctx context.Context, id int64) (*ServiceBundle, error) {
	b, err := scanBundle(r.conn(ctx).QueryRow(ctx, `SELECT `+bundleCols+` FROM service_bundles WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "service bundle")
	}
	return b, nil
}

func (r *repoPG) ListBundles(ctx context.Context, activeOnly bool) ([]*ServiceBundle, error) {
	q := `SELECT ` + bundleCols + ` FROM service_bundles`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY id`
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()
	var items []*ServiceBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *repoPG) AddComponent(ctx context.Context, c *BundleComponent) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bundle_components (bundle_id, service_code, description, max_quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		c.BundleID, c.ServiceCode, c.Description, c.MaxQuantity, c.UnitPrice,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bundle component %s: %w", c.ServiceCode, err)
	}
	return nil
}

func (r *repoPG) GetComponent(ctx context.Context, id int64) (*BundleComponent, error) {
	c, err := scanComponent(r.conn(ctx).QueryRow(ctx, `SELECT `+componentCols+` FROM bundle_components WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapNotFound(err, "bundle component")
	}
	return c, nil
}

func (r *repoPG) ListComponents(ctx context.Context, bundleID int64) ([]*BundleComponent, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+componentCols+` FROM bundle_components WHERE bundle_id = $1 ORDER BY id`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("list bundle components: %w", err)
	}
	defer rows.Close()
	var items []*BundleComponent
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
