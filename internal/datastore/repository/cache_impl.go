package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/heavystatus/newsroom-edge/internal/datastore/entities"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// HashKey returns the index hash stored alongside a request key.
func HashKey(requestKey string) string {
	sum := sha256.Sum256([]byte(requestKey))
	return hex.EncodeToString(sum[:])
}

// ListPartitions returns all partitions ordered by name.
func (r *cacheRepository) ListPartitions(ctx context.Context) ([]entities.CachePartition, error) {
	var parts []entities.CachePartition
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache partitions: %w", err)
	}
	return parts, nil
}

// GetPartition returns a partition by name.
// Returns ErrPartitionNotFound if it does not exist.
func (r *cacheRepository) GetPartition(ctx context.Context, name string) (*entities.CachePartition, error) {
	var part entities.CachePartition
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&part).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartitionNotFound
		}
		return nil, fmt.Errorf("failed to get cache partition %q: %w", name, err)
	}
	return &part, nil
}

// EnsurePartition returns the named partition, creating it if missing.
// Concurrent callers racing on the same name all end up with the same row.
func (r *cacheRepository) EnsurePartition(ctx context.Context, name string) (*entities.CachePartition, error) {
	part := entities.CachePartition{Name: name}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&part).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create cache partition %q: %w", name, err)
	}
	return r.GetPartition(ctx, name)
}

// DeletePartition removes a partition and all of its entries. It reports
// whether anything was deleted.
func (r *cacheRepository) DeletePartition(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var part entities.CachePartition
		if err := tx.Where("name = ?", name).First(&part).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("partition_id = ?", part.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		result := tx.Delete(&entities.CachePartition{}, part.ID)
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete cache partition %q: %w", name, err)
	}
	return deleted, nil
}

// GetEntry returns the entry stored under requestKey.
// Returns ErrEntryNotFound if there is none.
func (r *cacheRepository) GetEntry(ctx context.Context, partitionID uint, requestKey string) (*entities.CacheEntry, error) {
	var entry entities.CacheEntry
	err := r.db.WithContext(ctx).
		Where("partition_id = ? AND key_hash = ?", partitionID, HashKey(requestKey)).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// PutEntry inserts or replaces the entry for (partition, key). The last
// write for a key wins.
func (r *cacheRepository) PutEntry(ctx context.Context, entry *entities.CacheEntry) error {
	if entry.PartitionID == 0 {
		return fmt.Errorf("failed to put cache entry: missing partition ID")
	}
	entry.KeyHash = HashKey(entry.RequestKey)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partition_id"}, {Name: "key_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"request_key", "url", "status", "header", "body", "stored_at"}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// ListEntryKeys returns the request keys stored in a partition.
func (r *cacheRepository) ListEntryKeys(ctx context.Context, partitionID uint) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("partition_id = ?", partitionID).
		Order("id ASC").
		Pluck("request_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entry keys: %w", err)
	}
	return keys, nil
}

// CountEntries returns the number of entries in a partition.
func (r *cacheRepository) CountEntries(ctx context.Context, partitionID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).Where("partition_id = ?", partitionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}
