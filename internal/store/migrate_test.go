package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"0001_init.up.sql":    "CREATE TABLE users (id TEXT);",
		"0001_init.down.sql":  "DROP TABLE users;",
		"0002_tiers.up.sql":   "CREATE TABLE tiers (id TEXT);",
		"0002_tiers.down.sql": "DROP TABLE tiers;",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func expectStatus(mock sqlmock.Sqlmock, applied ...bool) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	names := []string{"0001_init.up.sql", "0002_tiers.up.sql"}
	for i, done := range applied {
		mock.ExpectQuery("SELECT EXISTS").WithArgs(names[i]).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(done))
	}
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectStatus(mock, true, false)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE tiers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_tiers.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := ApplyMigrations(context.Background(), db, migrationDir(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_tiers.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsRollsBackFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectStatus(mock, false, false)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE users").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := ApplyMigrations(context.Background(), db, migrationDir(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_init.up.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackMigrationsNewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectStatus(mock, true, true)
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE tiers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM schema_migrations").WithArgs("0002_tiers.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := RollbackMigrations(context.Background(), db, migrationDir(t), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_tiers.up.sql"}, rolledBack)
	require.NoError(t, mock.ExpectationsWereMet())
}
