package repository

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/heavystatus/newsroom-edge/internal/datastore/entities"
)

// setupCacheTestDB creates an isolated in-memory SQLite database. A single
// connection keeps every statement on the same in-memory instance.
func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&entities.CachePartition{}, &entities.CacheEntry{}))
	return db
}

func putTestEntry(t *testing.T, repo CacheRepository, partitionID uint, key string, status int, body string) {
	t.Helper()
	err := repo.PutEntry(t.Context(), &entities.CacheEntry{
		PartitionID: partitionID,
		RequestKey:  key,
		URL:         key,
		Status:      status,
		Header:      `{"Content-Type":["text/html"]}`,
		Body:        []byte(body),
		StoredAt:    time.Now(),
	})
	require.NoError(t, err)
}

func TestCacheRepository_EnsurePartitionIsIdempotent(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))

	first, err := repo.EnsurePartition(t.Context(), "newsroom-shell-v1")
	require.NoError(t, err)
	second, err := repo.EnsurePartition(t.Context(), "newsroom-shell-v1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	parts, err := repo.ListPartitions(t.Context())
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestCacheRepository_GetPartitionNotFound(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))

	_, err := repo.GetPartition(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrPartitionNotFound)
}

func TestCacheRepository_PutEntryLastWriteWins(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	part, err := repo.EnsurePartition(t.Context(), "newsroom-data-v1")
	require.NoError(t, err)

	key := "GET https://heavystatus.com/today"
	putTestEntry(t, repo, part.ID, key, 200, "first")
	putTestEntry(t, repo, part.ID, key, 200, "second")

	entry, err := repo.GetEntry(t.Context(), part.ID, key)
	require.NoError(t, err)
	assert.Equal(t, "second", string(entry.Body))

	count, err := repo.CountEntries(t.Context(), part.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCacheRepository_EntriesArePartitionScoped(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	shell, err := repo.EnsurePartition(t.Context(), "newsroom-shell-v1")
	require.NoError(t, err)
	data, err := repo.EnsurePartition(t.Context(), "newsroom-data-v1")
	require.NoError(t, err)

	key := "GET https://heavystatus.com/offline.html"
	putTestEntry(t, repo, shell.ID, key, 200, "offline")

	_, err = repo.GetEntry(t.Context(), data.ID, key)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	keys, err := repo.ListEntryKeys(t.Context(), shell.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestCacheRepository_DeletePartitionRemovesEntries(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheRepository(db)
	part, err := repo.EnsurePartition(t.Context(), "newsroom-runtime-v1")
	require.NoError(t, err)
	putTestEntry(t, repo, part.ID, "GET https://cdn.example.com/a.jpg", 200, "img")

	deleted, err := repo.DeletePartition(t.Context(), "newsroom-runtime-v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	var remaining int64
	require.NoError(t, db.Model(&entities.CacheEntry{}).Count(&remaining).Error)
	assert.Zero(t, remaining)

	deleted, err = repo.DeletePartition(t.Context(), "newsroom-runtime-v1")
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing partition reports false")
}

func TestCacheRepository_PutEntryRequiresPartition(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))

	err := repo.PutEntry(t.Context(), &entities.CacheEntry{RequestKey: "GET /x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing partition ID")
}

func TestCacheRepository_ConcurrentPuts(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	part, err := repo.EnsurePartition(t.Context(), "newsroom-runtime-v1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.PutEntry(t.Context(), &entities.CacheEntry{
				PartitionID: part.ID,
				RequestKey:  "GET https://heavystatus.com/app.js",
				URL:         "https://heavystatus.com/app.js",
				Status:      200,
				Body:        []byte(fmt.Sprintf("v%d", i)),
				StoredAt:    time.Now(),
			})
		}()
	}
	wg.Wait()

	count, err := repo.CountEntries(t.Context(), part.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "concurrent writers to one key leave a single entry")
}
