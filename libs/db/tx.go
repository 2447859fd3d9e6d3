package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxFunc is the unit of work run by InTx. Returning an error rolls the
// transaction back.
type TxFunc func(tx pgx.Tx) error

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	InTx(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error
}

const maxTxAttempts = 3

var (
	ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	Serializable  = pgx.TxOptions{IsoLevel: pgx.Serializable}
)

// InTx begins a transaction, runs fn and commits. Serialization failures and
// deadlocks are retried from the start; fn must therefore be safe to re-run.
func (p *Pool) InTx(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := p.runOnce(ctx, opts, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", maxTxAttempts, lastErr)
}

func (p *Pool) runOnce(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error {
	tx, err := p.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsRetryable reports serialization_failure (40001) and deadlock_detected (40P01).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// AdvisoryXactLock takes a transaction-scoped advisory lock derived from the
// given key parts. The lock is released on commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, namespace string, parts ...string) error {
	key := namespace
	for _, p := range parts {
		key += "|" + p
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}
