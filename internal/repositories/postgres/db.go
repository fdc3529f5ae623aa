package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx operations shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

// DB wraps a pgx pool and hands repositories the right querier: the ambient
// transaction when one is running, the pool otherwise.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB constructs the shared database handle.
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &DB{pool: pool}, nil
}

// RunInTx implements repositories.UnitOfWork over a pgx transaction. Nested
// calls reuse the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction body is required")
	}
	if _, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return newError("postgres: begin tx", err)
	}

	txCtx := context.WithValue(ctx, txContextKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return newError("postgres: commit tx", err)
	}
	return nil
}

// Ping implements repositories.HealthRepository.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return newError("postgres: ping", err)
	}
	return nil
}

func (db *DB) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}
