package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t77yq/glucose-alerts/internal/storage"
)

// OpenSQLite opens a fresh database in a temporary directory
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "glucoalert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
