// Package repository provides GORM-backed access to cache partitions.
package repository

import (
	"context"
	"errors"

	"github.com/heavystatus/newsroom-edge/internal/datastore/entities"
)

var (
	// ErrPartitionNotFound is returned when a named partition does not exist.
	ErrPartitionNotFound = errors.New("cache partition not found")
	// ErrEntryNotFound is returned when a partition has no entry for a key.
	ErrEntryNotFound = errors.New("cache entry not found")
)

// CacheRepository handles partition and entry persistence.
type CacheRepository interface {
	// Partitions
	ListPartitions(ctx context.Context) ([]entities.CachePartition, error)
	GetPartition(ctx context.Context, name string) (*entities.CachePartition, error)
	EnsurePartition(ctx context.Context, name string) (*entities.CachePartition, error)
	DeletePartition(ctx context.Context, name string) (bool, error)

	// Entries
	GetEntry(ctx context.Context, partitionID uint, requestKey string) (*entities.CacheEntry, error)
	PutEntry(ctx context.Context, entry *entities.CacheEntry) error
	ListEntryKeys(ctx context.Context, partitionID uint) ([]string, error)
	CountEntries(ctx context.Context, partitionID uint) (int64, error)
}
