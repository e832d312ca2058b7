package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactor runs fn inside a single database transaction. Repositories
// pick the transaction up from the context handed to fn.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolTransactor begins transactions on the request's scheme connection when
// one is present, otherwise on the pool.
type PoolTransactor struct {
	pool beginner
}

func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	// Nested calls join the outer transaction.
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b beginner = t.pool
	if c := ConnFromContext(ctx); c != nil {
		b = c
	}

	txCtx, tx, err := WithTx(ctx, b)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(txCtx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithTx begins a transaction on b and returns a context carrying it. The
// caller commits or rolls back.
func WithTx(ctx context.Context, b beginner) (context.Context, pgx.Tx, error) {
	if b == nil {
		return ctx, nil, errors.New("no database connection available")
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// WithConn stores a scheme-scoped connection in ctx, for callers outside the
// HTTP middleware chain such as CLI commands.
func WithConn(ctx context.Context, schemeID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, SchemeIDKey, schemeID)
	return context.WithValue(ctx, DBConnKey, conn)
}

// TxFromContext returns the transaction stored in ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint violation,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
