package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFile(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, _ := openFile(t)
	return s
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s, _ := openFile(t)
	for _, p := range pragmas {
		got, err := s.readPragma(p.name)
		require.NoError(t, err)
		assert.Equal(t, p.want, got, p.name)
	}
}

func TestOpen_CreatesTablesAndIndex(t *testing.T) {
	s, _ := openFile(t)
	for _, name := range []string{"list_items", "kv_items", "idx_list_items_sort"} {
		var found string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE name = ?", name).Scan(&found)
		require.NoError(t, err, name)
	}

	version, err := s.readPragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(schemaVersion()), version)
}

func TestOpen_ReopenKeepsRows(t *testing.T) {
	s, path := openFile(t)
	_, err := s.DB().Exec(`INSERT INTO kv_items (table_name, id, bytes) VALUES ('t', 1, x'00')`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for range 2 {
		s, err = Open(path)
		require.NoError(t, err)
		var n int
		require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM kv_items").Scan(&n))
		assert.Equal(t, 1, n)
		require.NoError(t, s.Close())
	}
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	s, path := openFile(t)
	_, err := s.DB().Exec("DROP INDEX idx_list_items_sort")
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	require.NoError(t, s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_list_items_sort'").Scan(&name))
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM list_items").Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/cache.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}
