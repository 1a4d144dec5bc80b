// Package mssql implements a Microsoft SQL Server storage.Repository on
// go-mssqldb.
//
// SQL Server has no insert-or-ignore form, so duplicate keys surface as
// error 2627/2601 and are classified as storage.ErrUniqueViolation. With
// XACT_ABORT off (the default) such an error ends only the statement, not
// the surrounding transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"txetl/internal/storage"
	"txetl/internal/storage/sqldb"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN string
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*sqldb.DB, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	repo := sqldb.New(db, storage.SQLServer, Classify)
	return repo, repo.Close, nil
}

// sqlError is implemented by mssql.Error.
type sqlError interface {
	SQLErrorNumber() int32
}

// Classify maps SQL Server error numbers to storage sentinels.
func Classify(err error) error {
	var se sqlError
	if !errors.As(err, &se) {
		return nil
	}
	switch se.SQLErrorNumber() {
	case 2627, 2601: // PK/unique constraint, unique index
		return storage.ErrUniqueViolation
	case 547, 515: // FK or CHECK conflict, NULL into NOT NULL
		return storage.ErrConstraint
	}
	return nil
}
