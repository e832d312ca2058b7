package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/schemehealth/claims/internal/platform/apperr"
)

func TestTxFromContext(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx from empty context")
	}
	if TxFromContext(context.WithValue(context.Background(), DBTxKey, "not-a-tx")) != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

// fakeTx records how a transaction ended. Methods it does not override
// panic through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	committed, rolledBack bool
	commitErr             error
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	err   error
	began int
}

func (f *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	f.began++
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func TestWithTx(t *testing.T) {
	if _, _, err := WithTx(context.Background(), nil); err == nil {
		t.Fatal("expected error without a connection")
	}

	b := &fakeBeginner{tx: &fakeTx{}}
	ctx, tx, err := WithTx(context.Background(), b)
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if tx != b.tx || TxFromContext(ctx) != b.tx {
		t.Error("expected the begun transaction in the returned context")
	}

	_, _, err = WithTx(context.Background(), &fakeBeginner{err: errors.New("too many connections")})
	if err == nil || err.Error() != "begin transaction: too many connections" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPoolTransactor_InTx(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name         string
		fn           func(ctx context.Context) error
		commitErr    error
		wantErr      bool
		wantCommit   bool
		wantRollback bool
	}{
		{name: "commits on success", fn: func(context.Context) error { return nil }, wantCommit: true},
		{name: "rolls back on error", fn: func(context.Context) error { return boom }, wantErr: true, wantRollback: true},
		{name: "rolls back when commit fails", fn: func(context.Context) error { return nil }, commitErr: boom,
			wantErr: true, wantCommit: true, wantRollback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBeginner{tx: &fakeTx{commitErr: tt.commitErr}}
			tr := &PoolTransactor{pool: b}

			var sawTx bool
			err := tr.InTx(context.Background(), func(ctx context.Context) error {
				sawTx = TxFromContext(ctx) == b.tx
				return tt.fn(ctx)
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Errorf("expected wrapped boom, got %v", err)
			}
			if !sawTx {
				t.Error("fn did not receive the transaction")
			}
			if b.tx.committed != tt.wantCommit || b.tx.rolledBack != tt.wantRollback {
				t.Errorf("committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
			}
		})
	}
}

func TestPoolTransactor_InTx_NestedJoinsOuter(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	tr := &PoolTransactor{pool: b}

	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		return tr.InTx(ctx, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if b.began != 1 {
		t.Errorf("expected one transaction, began %d", b.began)
	}
}

func TestPoolTransactor_InTx_RollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	tr := &PoolTransactor{pool: b}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate")
		}
		if !b.tx.rolledBack || b.tx.committed {
			t.Error("expected rollback without commit")
		}
	}()
	_ = tr.InTx(context.Background(), func(context.Context) error { panic("boom") })
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "claims_referral_id_key"}
	wrapped := fmt.Errorf("insert claim: %w", pgErr)

	if !IsUniqueViolation(wrapped, "") {
		t.Error("expected wrapped unique violation to match")
	}
	if !IsUniqueViolation(wrapped, "claims_referral_id_key") {
		t.Error("expected constraint name to match")
	}
	if IsUniqueViolation(wrapped, "claims_claim_number_key") {
		t.Error("expected different constraint not to match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("expected foreign key violation not to match")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Error("expected plain error not to match")
	}
}

func TestMapNotFound(t *testing.T) {
	err := MapNotFound(fmt.Errorf("get claim: %w", pgx.ErrNoRows), "claim")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if err.Error() != "claim not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	other := errors.New("connection reset")
	if MapNotFound(other, "claim") != other {
		t.Error("expected unrelated error to pass through")
	}
	if MapNotFound(nil, "claim") != nil {
		t.Error("expected nil to stay nil")
	}
}
