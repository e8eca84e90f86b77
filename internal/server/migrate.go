package server

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// DefaultMigrationsDir is the migrations source used when none is given.
const DefaultMigrationsDir = "file://migrations"

// Migrate applies database migrations from dir against dsn. steps of zero
// runs every pending migration in the given direction. An up-to-date
// database is not an error.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	if dsn == "" {
		return fmt.Errorf("migrate: postgres dsn required")
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up", "":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
