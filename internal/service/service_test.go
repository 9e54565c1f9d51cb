package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitewatch/internal"
	"github.com/DukeRupert/sitewatch/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore returns a HazardService over a migrated in-memory SQLite
// database.
func newTestStore(t *testing.T) (HazardService, *sql.DB) {
	t.Helper()
	db, err := internal.OpenDatabase(context.Background(), internal.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, internal.RunMigrations(db, internal.DriverSQLite))

	store := NewHazardService(db, repository.New(db), testLogger())
	store.(*hazardService).now = func() time.Time { return fixedNow }
	return store, db
}

var fixedNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
