// Package datastore opens the database that backs persistent cache
// partitions.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/heavystatus/newsroom-edge/internal/datastore/entities"
)

// SQLiteFileName is the database file created inside Config.DataDir.
const SQLiteFileName = "edge-cache.db"

// Config holds datastore connection settings.
type Config struct {
	// DataDir holds the SQLite database file.
	DataDir string
	// DSN is the MySQL data source name.
	DSN string
	// Debug enables GORM statement logging.
	Debug bool
}

// Manager owns a database connection and its schema.
type Manager interface {
	Initialize() error
	DB() *gorm.DB
	Close() error
	Dialect() string
}

type gormManager struct {
	db      *gorm.DB
	dialect string
}

func gormConfig(debug bool) *gorm.Config {
	level := gorm_logger.Silent
	if debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{Logger: gorm_logger.Default.LogMode(level)}
}

// NewSQLiteManager opens (creating if needed) the SQLite cache database.
func NewSQLiteManager(cfg Config) (Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("sqlite datastore requires a data directory")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dsn := filepath.Join(cfg.DataDir, SQLiteFileName) + "?_foreign_keys=ON&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Debug))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)
	return &gormManager{db: db, dialect: "sqlite"}, nil
}

// NewMySQLManager connects to a MySQL cache database.
func NewMySQLManager(cfg Config) (Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql datastore requires a DSN")
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig(cfg.Debug))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return &gormManager{db: db, dialect: "mysql"}, nil
}

// Initialize migrates the cache schema.
func (m *gormManager) Initialize() error {
	if err := m.db.AutoMigrate(&entities.CachePartition{}, &entities.CacheEntry{}); err != nil {
		return fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return nil
}

func (m *gormManager) DB() *gorm.DB {
	return m.db
}

func (m *gormManager) Dialect() string {
	return m.dialect
}

func (m *gormManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
