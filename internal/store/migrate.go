package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// Migration is one numbered schema change found on disk.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
	Applied bool
}

// LoadMigrations reads NNNN_name.up.sql / .down.sql pairs from dir, ordered
// by version. Files that do not follow the pattern are ignored.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m, ok := byVersion[match[1]]
		if !ok {
			m = &Migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		path := filepath.Join(dir, entry.Name())
		if match[2] == "up" {
			m.Up = path
			m.Name = entry.Name()
		} else {
			m.Down = path
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up file", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// MigrationStatus lists every migration in dir and whether it has been applied.
func MigrationStatus(ctx context.Context, db *sql.DB, dir string) ([]Migration, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	for i := range migrations {
		applied, err := isMigrated(ctx, db, migrations[i].Name)
		if err != nil {
			return nil, err
		}
		migrations[i].Applied = applied
	}
	return migrations, nil
}

// ApplyMigrations runs pending up migrations, each in its own transaction,
// and returns the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string) ([]string, error) {
	migrations, err := MigrationStatus(ctx, db, dir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		if m.Applied {
			continue
		}
		contents, err := os.ReadFile(m.Up)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", m.Name, err)
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute migration %s: %w", m.Name, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Name); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// RollbackMigrations undoes the newest steps applied migrations, newest
// first. steps <= 0 rolls back everything.
func RollbackMigrations(ctx context.Context, db *sql.DB, dir string, steps int) ([]string, error) {
	migrations, err := MigrationStatus(ctx, db, dir)
	if err != nil {
		return nil, err
	}

	var rolledBack []string
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if !m.Applied {
			continue
		}
		if steps > 0 && len(rolledBack) == steps {
			break
		}
		if m.Down == "" {
			return rolledBack, fmt.Errorf("migration %s has no down file", m.Name)
		}
		contents, err := os.ReadFile(m.Down)
		if err != nil {
			return rolledBack, fmt.Errorf("read migration %s: %w", m.Down, err)
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if sqlText := strings.TrimSpace(string(contents)); sqlText != "" {
				if _, err := tx.ExecContext(ctx, sqlText); err != nil {
					return fmt.Errorf("execute down migration %s: %w", m.Name, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, m.Name); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return rolledBack, err
		}
		rolledBack = append(rolledBack, m.Name)
	}
	return rolledBack, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
