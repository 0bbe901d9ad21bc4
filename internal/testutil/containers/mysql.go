//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// cacheTables are truncated by Reset, children first.
var cacheTables = []string{"cache_entries", "cache_partitions"}

// MySQL is a throwaway MySQL server for the cache datastore.
type MySQL struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// MySQLConfig configures NewMySQL. Zero fields take defaults.
type MySQLConfig struct {
	Image    string
	Database string
	Username string
	Password string
}

func (c *MySQLConfig) withDefaults() {
	if c.Image == "" {
		c.Image = "mysql:8.0"
	}
	if c.Database == "" {
		c.Database = "edge_cache_test"
	}
	if c.Username == "" {
		c.Username = "edge"
	}
	if c.Password == "" {
		c.Password = "edge"
	}
}

// NewMySQL starts a MySQL container and waits until it accepts queries.
func NewMySQL(ctx context.Context, cfg MySQLConfig) (*MySQL, error) {
	cfg.withDefaults()
	container, err := mysql.Run(ctx, cfg.Image,
		mysql.WithDatabase(cfg.Database),
		mysql.WithUsername(cfg.Username),
		mysql.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start mysql container: %w", err)
	}

	// parseTime lets GORM scan DATETIME columns into time.Time.
	dsn, err := container.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return &MySQL{container: container, db: db, dsn: dsn}, nil
}

// DSN returns a data source name for the test database.
func (m *MySQL) DSN() string { return m.dsn }

// Reset empties the cache tables. Tables that do not exist yet are
// skipped, so it is safe before the first migration.
func (m *MySQL) Reset(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("failed to disable foreign key checks: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "SET FOREIGN_KEY_CHECKS = 1") }()

	for _, table := range cacheTables {
		var n int
		err := conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to look up table %s: %w", table, err)
		}
		if n == 0 {
			continue
		}
		if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE `"+table+"`"); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (m *MySQL) Terminate(ctx context.Context) error {
	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}
	if m.container == nil {
		return nil
	}
	if err := m.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate mysql container: %w", err)
	}
	return nil
}
