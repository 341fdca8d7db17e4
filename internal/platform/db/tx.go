package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const txKey contextKey = "db_tx"

// Transactor runs a unit of work inside one database transaction. With
// dryRun set, the transaction is rolled back after fn returns so the
// caller can preview row-level outcomes without persisting anything.
type Transactor interface {
	RunInTx(ctx context.Context, dryRun bool, fn func(ctx context.Context) error) error
}

// PGTransactor is the pgx-backed Transactor. The open transaction is
// placed in the context so repositories pick it up via TxFromContext.
type PGTransactor struct {
	pool *pgxpool.Pool
}

func NewPGTransactor(pool *pgxpool.Pool) *PGTransactor {
	return &PGTransactor{pool: pool}
}

func (t *PGTransactor) RunInTx(ctx context.Context, dryRun bool, fn func(ctx context.Context) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}

	if dryRun {
		if err := tx.Rollback(ctx); err != nil {
			return fmt.Errorf("rollback dry run: %w", err)
		}
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxFromContext retrieves the transaction placed by RunInTx, or nil when
// the caller is operating outside a transaction.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}
