package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrations embed.FS

// RunMigrations applies the embedded migrations for the given database
// driver. The pgx and postgres drivers share the PostgreSQL set.
func RunMigrations(db *sql.DB, driver string) error {
	dialect, dir, err := migrationSet(driver)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return goose.Up(db, dir)
}

func migrationSet(driver string) (dialect, dir string, err error) {
	switch driver {
	case DriverPgx, DriverPostgres:
		return "postgres", "migrations/postgres", nil
	case DriverSQLite:
		return "sqlite3", "migrations/sqlite3", nil
	default:
		return "", "", fmt.Errorf("no migrations for database driver %q", driver)
	}
}
