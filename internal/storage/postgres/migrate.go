package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/felixgeelhaar/gradebox/internal/storage/migrations"
	pgschema "github.com/felixgeelhaar/gradebox/internal/storage/postgres/migrations"
)

// Migrate applies pending migrations over a short-lived database/sql
// connection. Migration files contain plpgsql bodies, which the simple
// query protocol of lib/pq executes as one multi-statement script.
func Migrate(databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	all, err := migrations.Load(pgschema.FS)
	if err != nil {
		return err
	}
	_, err = migrations.Apply(db, migrations.Postgres, all)
	return err
}
