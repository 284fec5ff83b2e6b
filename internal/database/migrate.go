package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate runs every pending migration under migrations/ against db,
// failing closed if the goose version table records a migration this
// binary doesn't recognize — an ambiguous state is treated as unsafe
// to proceed past, never silently skipped.
func Migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrationFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := validateMigrationHistory(db.DB); err != nil {
		return err
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// validateMigrationHistory fails closed when the goose_db_version
// table already exists and contains a version number with no
// corresponding file under migrations/ — a binary older than the
// database it's connecting to, which must not attempt to migrate.
func validateMigrationHistory(db *sql.DB) error {
	known, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	if err != nil {
		return fmt.Errorf("failed to collect migration files: %w", err)
	}
	knownVersions := make(map[int64]bool, len(known))
	for _, m := range known {
		knownVersions[m.Version] = true
	}

	var exists bool
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'goose_db_version')`
	if err := db.QueryRow(existsQuery).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check migration table: %w", err)
	}
	if !exists {
		return nil
	}

	rows, err := db.Query(`SELECT version_id FROM goose_db_version`)
	if err != nil {
		return fmt.Errorf("failed to read migration history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		if version != 0 && !knownVersions[version] {
			return fmt.Errorf("database records migration version %d, which this binary does not recognize", version)
		}
	}
	return rows.Err()
}
