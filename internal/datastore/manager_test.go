package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteManager_InitializeCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewSQLiteManager(Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	assert.Equal(t, "sqlite", mgr.Dialect())
	assert.True(t, mgr.DB().Migrator().HasTable("cache_partitions"))
	assert.True(t, mgr.DB().Migrator().HasTable("cache_entries"))

	_, err = os.Stat(filepath.Join(dir, SQLiteFileName))
	assert.NoError(t, err)
}

func TestNewManagers_RequireConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSQLiteManager(Config{})
	assert.Error(t, err)

	_, err = NewMySQLManager(Config{})
	assert.Error(t, err)
}
