// Package storagetest opens throwaway, fully migrated stores for package
// tests.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"txetl/internal/storage"
	"txetl/internal/storage/sqlite"
)

// SQLiteDSN returns a DSN for a fresh database file under t.TempDir.
func SQLiteDSN(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "etl.db")
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// NewSQLite opens a migrated SQLite repository that is closed when the test
// ends.
func NewSQLite(t testing.TB) storage.Repository {
	t.Helper()
	ctx := context.Background()

	repo, closeFn, err := sqlite.NewRepository(ctx, sqlite.Config{DSN: SQLiteDSN(t)})
	require.NoError(t, err)
	t.Cleanup(closeFn)

	_, err = storage.Migrate(ctx, repo)
	require.NoError(t, err)
	return repo
}

// Count returns SELECT COUNT(*) FROM table.
func Count(t testing.TB, q storage.Querier, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, q.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
