// Package storage contains the storage-agnostic contracts used by the loader
// and the aggregate maintainer, plus a small factory so callers can open a
// backend by kind without importing it.
//
// SQL passed to a Querier uses '?' placeholders; each backend rebinds them to
// its own style before execution.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name, e.g. "sqlite" or "postgres".
	Kind string
	// DSN is passed to the backend driver unchanged.
	DSN string
}

// Row is a single-row query result.
type Row interface {
	// Scan copies the columns into dest. It returns ErrNoRows when the query
	// matched nothing.
	Scan(dest ...any) error
}

// Rows iterates a multi-row query result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier runs statements. Both a Repository and a Tx implement it, so the
// resolvers work the same inside or outside a unit of work.
type Querier interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Tx is one unit of work. Rollback after Commit is a no-op.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is an open connection pool to one backend.
type Repository interface {
	Querier
	Dialect() Dialect
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// InTx runs fn inside a transaction. fn's error, or a failed commit, rolls
// the transaction back.
func InTx(ctx context.Context, r Repository, fn func(tx Tx) error) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
