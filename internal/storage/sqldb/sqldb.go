// Package sqldb adapts a database/sql pool to storage.Repository. The SQLite,
// MySQL and SQL Server backends share it; each supplies its dialect and an
// error classifier.
package sqldb

import (
	"context"
	"database/sql"
	"errors"

	"txetl/internal/storage"
)

// DB implements storage.Repository over *sql.DB.
type DB struct {
	db       *sql.DB
	dialect  storage.Dialect
	classify storage.Classifier
}

var _ storage.Repository = (*DB)(nil)

// New wraps db. classify may be nil when the driver's errors need no mapping.
func New(db *sql.DB, d storage.Dialect, classify storage.Classifier) *DB {
	if classify == nil {
		classify = func(error) error { return nil }
	}
	return &DB{db: db, dialect: d, classify: classify}
}

// Dialect implements storage.Repository.
func (r *DB) Dialect() storage.Dialect { return r.dialect }

// Pool exposes the underlying pool for backend-specific setup.
func (r *DB) Pool() *sql.DB { return r.db }

// Close implements storage.Repository.
func (r *DB) Close() { _ = r.db.Close() }

// Begin implements storage.Repository.
func (r *DB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.wrap(err)
	}
	return &Tx{tx: tx, q: querier{ex: tx, r: r}}, nil
}

// Exec implements storage.Querier.
func (r *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return querier{ex: r.db, r: r}.Exec(ctx, query, args...)
}

// QueryRow implements storage.Querier.
func (r *DB) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return querier{ex: r.db, r: r}.QueryRow(ctx, query, args...)
}

// Query implements storage.Querier.
func (r *DB) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	return querier{ex: r.db, r: r}.Query(ctx, query, args...)
}

func (r *DB) wrap(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNoRows
	}
	return storage.Wrap(r.classify, err)
}

// Tx implements storage.Tx over *sql.Tx.
type Tx struct {
	tx *sql.Tx
	q  querier
}

// Exec implements storage.Querier.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return t.q.Exec(ctx, query, args...)
}

// QueryRow implements storage.Querier.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return t.q.QueryRow(ctx, query, args...)
}

// Query implements storage.Querier.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	return t.q.Query(ctx, query, args...)
}

// Commit implements storage.Tx.
func (t *Tx) Commit(context.Context) error { return t.q.r.wrap(t.tx.Commit()) }

// Rollback implements storage.Tx.
func (t *Tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// execer is the subset of *sql.DB and *sql.Tx used here.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type querier struct {
	ex execer
	r  *DB
}

func (q querier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.ex.ExecContext(ctx, q.r.dialect.Rebind(query), args...)
	if err != nil {
		return 0, q.r.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (q querier) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return row{row: q.ex.QueryRowContext(ctx, q.r.dialect.Rebind(query), args...), r: q.r}
}

func (q querier) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	rs, err := q.ex.QueryContext(ctx, q.r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, q.r.wrap(err)
	}
	return rows{rows: rs, r: q.r}, nil
}

type row struct {
	row *sql.Row
	r   *DB
}

func (w row) Scan(dest ...any) error { return w.r.wrap(w.row.Scan(dest...)) }

type rows struct {
	rows *sql.Rows
	r    *DB
}

func (w rows) Next() bool             { return w.rows.Next() }
func (w rows) Scan(dest ...any) error { return w.r.wrap(w.rows.Scan(dest...)) }
func (w rows) Err() error             { return w.r.wrap(w.rows.Err()) }
func (w rows) Close()                 { _ = w.rows.Close() }
