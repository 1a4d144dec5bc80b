// Package mysql implements a MySQL storage.Repository on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"txetl/internal/storage"
	"txetl/internal/storage/sqldb"
)

// Config holds MySQL repository configuration.
type Config struct {
	DSN string // go-sql-driver DSN, e.g. "user:pass@tcp(host:3306)/etl"
}

// NewRepository opens a pool and returns it with a Close function.
// Timestamps are exchanged in UTC regardless of the DSN.
func NewRepository(ctx context.Context, cfg Config) (*sqldb.DB, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	repo := sqldb.New(db, storage.MySQL, Classify)
	return repo, repo.Close, nil
}

// Classify maps MySQL error numbers to storage sentinels.
func Classify(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case 1062: // ER_DUP_ENTRY
		return storage.ErrUniqueViolation
	case 1451, 1452, 3819, 1048: // FK parent/child, CHECK, NULL
		return storage.ErrConstraint
	}
	return nil
}
