// Package entities defines the GORM models backing persistent cache
// partitions.
package entities

import "time"

// CachePartition is a named, versioned cache bucket.
type CachePartition struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:191;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	Entries   []CacheEntry `gorm:"foreignKey:PartitionID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (CachePartition) TableName() string {
	return "cache_partitions"
}

// CacheEntry is one stored response snapshot. KeyHash is the SHA-256 of
// RequestKey so the unique index stays within MySQL's key length limit.
type CacheEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PartitionID uint      `gorm:"not null;uniqueIndex:idx_cache_entry_key" json:"partition_id"`
	KeyHash     string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entry_key" json:"-"`
	RequestKey  string    `gorm:"type:text;not null" json:"request_key"`
	URL         string    `gorm:"type:text;not null" json:"url"`
	Status      int       `gorm:"not null" json:"status"`
	Header      string    `gorm:"type:text" json:"header"`
	Body        []byte    `json:"-"`
	StoredAt    time.Time `gorm:"not null;index" json:"stored_at"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
