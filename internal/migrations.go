package internal

import (
	"database/sql"
	"fmt"

	"github.com/pitchside/pitchside/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies any pending billing schema migrations from the
// embedded migrations filesystem. Called on startup before the pool is
// handed to the stores, so a deployed binary never runs against a stale
// schema.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.MigrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
