// Package postgres implements storage.Repository on a pgx v5 connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"txetl/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN string // connection string for pgxpool
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	close := func() { pool.Close() }
	return &Repository{pool: pool}, close, nil
}

// Classify maps SQLSTATE integrity codes to storage sentinels.
func Classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return storage.ErrUniqueViolation
	case "23503", "23514", "23502": // foreign_key, check, not_null
		return storage.ErrConstraint
	}
	return nil
}

func wrap(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNoRows
	}
	return storage.Wrap(Classify, err)
}

// Dialect implements storage.Repository.
func (r *Repository) Dialect() storage.Dialect { return storage.Postgres }

// Begin implements storage.Repository.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrap(err)
	}
	return &pgTx{tx: tx}, nil
}

// Exec implements storage.Querier.
func (r *Repository) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	return exec(ctx, r.pool, q, args)
}

// QueryRow implements storage.Querier.
func (r *Repository) QueryRow(ctx context.Context, q string, args ...any) storage.Row {
	return row{r.pool.QueryRow(ctx, storage.Postgres.Rebind(q), args...)}
}

// Query implements storage.Querier.
func (r *Repository) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	return query(ctx, r.pool, q, args)
}

// pgQuerier is the subset of *pgxpool.Pool and pgx.Tx used here.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func exec(ctx context.Context, q pgQuerier, sql string, args []any) (int64, error) {
	tag, err := q.Exec(ctx, storage.Postgres.Rebind(sql), args...)
	if err != nil {
		return 0, wrap(err)
	}
	return tag.RowsAffected(), nil
}

func query(ctx context.Context, q pgQuerier, sql string, args []any) (storage.Rows, error) {
	rs, err := q.Query(ctx, storage.Postgres.Rebind(sql), args...)
	if err != nil {
		return nil, wrap(err)
	}
	return rows{rs}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	return exec(ctx, t.tx, q, args)
}

func (t *pgTx) QueryRow(ctx context.Context, q string, args ...any) storage.Row {
	return row{t.tx.QueryRow(ctx, storage.Postgres.Rebind(q), args...)}
}

func (t *pgTx) Query(ctx context.Context, q string, args ...any) (storage.Rows, error) {
	return query(ctx, t.tx, q, args)
}

func (t *pgTx) Commit(ctx context.Context) error { return wrap(t.tx.Commit(ctx)) }

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type row struct{ r pgx.Row }

func (w row) Scan(dest ...any) error { return wrap(w.r.Scan(dest...)) }

type rows struct{ r pgx.Rows }

func (w rows) Next() bool             { return w.r.Next() }
func (w rows) Scan(dest ...any) error { return wrap(w.r.Scan(dest...)) }
func (w rows) Err() error             { return wrap(w.r.Err()) }
func (w rows) Close()                 { w.r.Close() }
