package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/config"
	"github.com/kiranshivaraju/ocrflow/internal/store"
)

func openSQLite(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenGorm(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore(t *testing.T) {
	runStoreSuite(t, openSQLite)
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ocrflow.db")
	s, err := store.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.FileExists(t, path)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := store.Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestGormStore_PingAfterClose(t *testing.T) {
	s, err := store.OpenGorm(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
