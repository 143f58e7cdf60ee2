package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"followup-dispatcher/internal/common/config"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	DB *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnsureApplicationsTable creates the campaign record table if it is missing.
// Markers are nullable; NULL means the stage has not been sent.
func (c *PostgresClient) EnsureApplicationsTable(ctx context.Context, table string) error {
	if !identifier.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	_, err := c.DB.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	campaign       TEXT NOT NULL,
	email          TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	website        TEXT NOT NULL DEFAULT '',
	linkedin       TEXT NOT NULL DEFAULT '',
	assistance     TEXT NOT NULL DEFAULT '0',
	applied_at     TEXT,
	stage2_sent_at TEXT,
	stage3_sent_at TEXT,
	PRIMARY KEY (campaign, email)
)`, table))
	if err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}
