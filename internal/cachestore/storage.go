// Package cachestore manages the edge's named cache partitions: the shell
// partition filled at install, the runtime partition for static assets and
// images, and the data partition of navigation snapshots.
package cachestore

import "context"

// Partition is one named cache bucket mapping request keys to snapshots.
type Partition interface {
	Name() string
	// Match returns the snapshot stored under key. A miss is (nil, false, nil).
	Match(ctx context.Context, key string) (*Snapshot, bool, error)
	// Put stores snap under key, replacing any previous entry.
	Put(ctx context.Context, key string, snap *Snapshot) error
	Keys(ctx context.Context) ([]string, error)
}

// Storage enumerates, opens and deletes partitions.
type Storage interface {
	// Open returns the named partition, creating it if missing.
	Open(ctx context.Context, name string) (Partition, error)
	Has(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
	// Delete removes a partition and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}
