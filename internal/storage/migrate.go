package storage

import (
	"context"
	"fmt"
	"time"
)

// Migrate applies every migration newer than the highest version recorded
// in schema_migrations, each in its own transaction. It returns the versions
// applied by this call.
func Migrate(ctx context.Context, r Repository) ([]int, error) {
	d := r.Dialect()
	if _, err := r.Exec(ctx, d.CreateTable("schema_migrations", fmt.Sprintf(
		"version INTEGER NOT NULL PRIMARY KEY, name %s NOT NULL, applied_at %s NOT NULL",
		d.Text, d.Timestamp))); err != nil {
		return nil, fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	current, err := SchemaVersion(ctx, r)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		err := InTx(ctx, r, func(tx Tx) error {
			for i, stmt := range m.Statements(d) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("statement %d: %w", i+1, err)
				}
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, d.Time(time.Now()))
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrate: version %d (%s): %w", m.Version, m.Name, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration version, or 0.
func SchemaVersion(ctx context.Context, q Querier) (int, error) {
	var v int
	if err := q.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}
	return v, nil
}
