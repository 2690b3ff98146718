package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)

	// same single connection, table must be visible
	var n int
	require.NoError(t, database.Get(&n, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 0, n)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	database, err := NewSqliteDB(WithPath(dbPath), WithMaxOpenConns(1))
	require.NoError(t, err)
	defer database.Close()

	assert.FileExists(t, dbPath)
}

func TestNewSqliteDB_Schema(t *testing.T) {
	database, err := NewSqliteDB(WithSchema(
		`CREATE TABLE IF NOT EXISTS recipes (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_name ON recipes(name)`,
	))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec(`INSERT INTO recipes (name) VALUES ('pancakes')`)
	assert.NoError(t, err)
}

func TestNewSqliteDB_BadSchema(t *testing.T) {
	_, err := NewSqliteDB(WithSchema(`CREATE TABLEE nope`))
	assert.Error(t, err)
}

func TestWithTx(t *testing.T) {
	database, err := NewSqliteDB(WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	boom := errors.New("boom")

	err = WithTx(ctx, database, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, database.Get(&n, `SELECT COUNT(*) FROM kv`))
	assert.Equal(t, 0, n, "rolled back")

	require.NoError(t, WithTx(ctx, database, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`)
		return err
	}))
	require.NoError(t, database.Get(&n, `SELECT COUNT(*) FROM kv`))
	assert.Equal(t, 1, n)
}
