package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	createWidgets = Migration{
		Version:     1,
		Description: "Add widgets table",
		Up:          `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		Down:        `DROP TABLE widgets`,
	}
	addColour = Migration{
		Version:     2,
		Description: "Add widgets.colour",
		Up:          `ALTER TABLE widgets ADD COLUMN colour TEXT NOT NULL DEFAULT ''`,
		Down:        `ALTER TABLE widgets DROP COLUMN colour`,
	}
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// Registered out of order on purpose
	manager := NewManager(addColour, createWidgets)
	assert.Equal(t, 2, manager.Latest())

	n, err := manager.ApplySQLite(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	version, err := manager.Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = db.Exec("INSERT INTO widgets (id, name, colour) VALUES (1, 'w', 'red')")
	require.NoError(t, err)

	// Idempotent
	n, err = manager.ApplySQLite(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, manager.RollbackSQLite(ctx, db))
	version, err = manager.Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, err = db.Exec("INSERT INTO widgets (id, name, colour) VALUES (2, 'w', 'blue')")
	assert.Error(t, err, "colour column should be gone")

	require.NoError(t, manager.RollbackSQLite(ctx, db))
	_, err = db.Exec("INSERT INTO widgets (id, name) VALUES (3, 'w')")
	assert.Error(t, err, "widgets table should be dropped")

	assert.ErrorContains(t, manager.RollbackSQLite(ctx, db), "no migrations to rollback")
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	broken := Migration{Version: 2, Description: "broken", Up: "CREATE TABLE oops ("}
	manager := NewManager(createWidgets, broken)

	n, err := manager.ApplySQLite(ctx, db)
	assert.ErrorContains(t, err, "failed to apply migration 2")
	assert.Equal(t, 1, n)

	version, err := manager.Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestRollbackUnknownVersion(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	_, err := NewManager(createWidgets, addColour).ApplySQLite(ctx, db)
	require.NoError(t, err)

	assert.ErrorContains(t, NewManager(createWidgets).RollbackSQLite(ctx, db), "migration 2 not found")
}
