// Package sqlite implements a SQLite-backed storage.Repository using the
// pure-Go modernc driver.
package sqlite

import "time"

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:etl.db?_pragma=foreign_keys(1)"
	//   "etl.db"
	DSN string

	// BusyTimeout bounds how long a statement waits for a database lock.
	BusyTimeout time.Duration
}
