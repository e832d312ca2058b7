// Package dbtest provides an in-memory Transactor for service tests.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories. Snapshot captures
// the current contents and returns a func that puts them back.
type Snapshotter interface {
	Snapshot() (restore func())
}

type txKey struct{}

// Transactor runs fn directly and restores every registered store when fn
// fails, mirroring a database rollback.
type Transactor struct {
	mu     sync.Mutex
	stores []Snapshotter

	Commits   int
	Rollbacks int
}

func NewTransactor(stores ...Snapshotter) *Transactor {
	return &Transactor{stores: stores}
}

// Register adds stores created after the transactor.
func (t *Transactor) Register(stores ...Snapshotter) {
	t.stores = append(t.stores, stores...)
}

func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.Snapshot())
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		t.Rollbacks++
		return err
	}
	t.Commits++
	return nil
}
