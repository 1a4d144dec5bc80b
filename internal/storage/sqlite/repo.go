package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"txetl/internal/storage"
	"txetl/internal/storage/sqldb"
)

// DefaultBusyTimeout is applied when Config.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

// NewRepository opens a SQLite database and returns a Repository plus a
// Close function for cleanup.
//
// SQLite allows one writer at a time, so the pool is capped at a single
// connection; concurrent loader workers queue on it rather than failing
// with SQLITE_BUSY.
func NewRepository(ctx context.Context, cfg Config) (*sqldb.DB, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	repo := sqldb.New(db, storage.SQLite, Classify)
	return repo, repo.Close, nil
}

// Classify maps SQLite constraint result codes to storage sentinels.
func Classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return storage.ErrUniqueViolation
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_CHECK,
		sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return storage.ErrConstraint
	}
	if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		if strings.Contains(se.Error(), "UNIQUE constraint failed") {
			return storage.ErrUniqueViolation
		}
		return storage.ErrConstraint
	}
	return nil
}
