package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/gradebox/internal/storage/migrations"
)

// DB is a SQLite connection holding progress, attempts and learner events.
type DB struct {
	*sql.DB
}

// Open connects with WAL journaling, foreign keys and a busy timeout. One
// open connection serializes writers.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &DB{DB: db}, nil
}

// Migrate brings the schema up to date.
func (db *DB) Migrate() error {
	all, err := migrations.Load(migrations.FS)
	if err != nil {
		return err
	}
	_, err = migrations.Apply(db.DB, migrations.SQLite, all)
	return err
}

// Version returns the current schema version.
func (db *DB) Version() (int, error) {
	return migrations.Current(db.DB)
}
