// Package testkit holds in-memory stand-ins for the transaction machinery so
// domain packages can be tested without a database.
package testkit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
)

// Tx identifies one InTx invocation. It embeds pgx.Tx so it can be passed
// where a transaction is expected; calling any pgx method on it panics.
type Tx struct {
	pgx.Tx
	ID int64
}

// Runner implements db.TxRunner. Locks taken through Lock behave like
// transaction-scoped advisory locks and are released when fn returns.
type Runner struct {
	// Err, when set, is returned by InTx without running fn.
	Err error

	next  atomic.Int64
	calls atomic.Int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	held  map[int64][]*sync.Mutex
}

var _ db.TxRunner = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{
		locks: make(map[string]*sync.Mutex),
		held:  make(map[int64][]*sync.Mutex),
	}
}

func (r *Runner) InTx(ctx context.Context, _ pgx.TxOptions, fn db.TxFunc) error {
	r.calls.Add(1)
	if r.Err != nil {
		return r.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &Tx{ID: r.next.Add(1)}
	defer r.release(tx.ID)
	return fn(tx)
}

// Calls reports how many transactions were started.
func (r *Runner) Calls() int {
	return int(r.calls.Load())
}

// Lock blocks until key is free, then holds it until tx finishes. A nil or
// foreign tx locks nothing.
func (r *Runner) Lock(tx pgx.Tx, key string) {
	t, ok := tx.(*Tx)
	if !ok {
		return
	}
	r.mu.Lock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()

	m.Lock()

	r.mu.Lock()
	r.held[t.ID] = append(r.held[t.ID], m)
	r.mu.Unlock()
}

func (r *Runner) release(id int64) {
	r.mu.Lock()
	held := r.held[id]
	delete(r.held, id)
	r.mu.Unlock()
	for i := len(held) - 1; i >= 0; i-- {
		held[i].Unlock()
	}
}
