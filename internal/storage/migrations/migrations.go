package migrations

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Migration is one numbered schema file, e.g. 002_attempts.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Dialect holds the statements that differ between databases.
type Dialect struct {
	Name        string
	CreateTable string
	// Record inserts one version; it takes a single placeholder.
	Record string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		Record: "INSERT OR REPLACE INTO schema_migrations (version) VALUES (?)",
	}
	Postgres = Dialect{
		Name: "postgres",
		CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		Record: "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING",
	}
)

// Load reads the .sql files in fsys in version order. Every file must be
// named NNN_description.sql and versions must be unique.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, err := ParseVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, e.Name(), version)
		}
		seen[version] = e.Name()

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: e.Name(), SQL: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ParseVersion extracts the number from a name like "001_progress.sql".
func ParseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("invalid migration filename: %s", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("invalid migration version in %s", name)
	}
	return version, nil
}

// Current returns the highest applied version, 0 on an empty database.
func Current(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Apply runs every migration newer than the recorded version, each in its
// own transaction, and returns how many it applied.
func Apply(db *sql.DB, d Dialect, all []Migration) (int, error) {
	if _, err := db.Exec(d.CreateTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	current, err := Current(db)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}

	applied := 0
	for _, m := range all {
		if m.Version <= current {
			continue
		}
		if err := applyOne(db, d, m); err != nil {
			return applied, err
		}
		applied++
		slog.Info("applied migration", "name", m.Name, "version", m.Version, "driver", d.Name)
	}
	return applied, nil
}

func applyOne(db *sql.DB, d Dialect, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(d.Record, m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Name, err)
	}
	return nil
}
