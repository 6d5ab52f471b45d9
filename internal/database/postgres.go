package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the PostgreSQL database connection
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresClient{db: db}, nil
}

// NewFromDB wraps an already opened handle
func NewFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// InitSchema creates the necessary database tables
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) PRIMARY KEY,
		nickname VARCHAR(255) NOT NULL,
		reputation_score BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS auction_audit_log (
		event_id VARCHAR(255) PRIMARY KEY,
		auction_id VARCHAR(255) NOT NULL,
		bid_id VARCHAR(255) NOT NULL,
		bidder_id VARCHAR(255) NOT NULL,
		bidder_nickname VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL,
		previous_price BIGINT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_auction_id ON auction_audit_log(auction_id);
	CREATE INDEX IF NOT EXISTS idx_audit_bidder_id ON auction_audit_log(bidder_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON auction_audit_log(timestamp);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}
