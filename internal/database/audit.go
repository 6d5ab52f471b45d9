package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aaronwang/campus-auction/internal/models"
)

// AuditLog is the append-only record of accepted bids
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog creates an audit log on an existing client
func NewAuditLog(c *PostgresClient) *AuditLog {
	return &AuditLog{db: c.db}
}

// Append inserts an audit entry. Redelivered entries with a known event id
// are ignored so at-least-once consumers stay idempotent.
func (a *AuditLog) Append(ctx context.Context, entry models.AuditEntry) error {
	query := `
		INSERT INTO auction_audit_log
			(event_id, auction_id, bid_id, bidder_id, bidder_nickname, price, previous_price, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := a.db.ExecContext(
		ctx,
		query,
		entry.EventID,
		entry.AuctionID,
		entry.BidID,
		entry.BidderID,
		entry.BidderNickname,
		entry.Price,
		entry.PreviousPrice,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByAuction returns the audit history of an auction, oldest first
func (a *AuditLog) ListByAuction(ctx context.Context, auctionID string, limit int) ([]models.AuditEntry, error) {
	query := `
		SELECT event_id, auction_id, bid_id, bidder_id, bidder_nickname, price, previous_price, timestamp
		FROM auction_audit_log
		WHERE auction_id = $1
		ORDER BY timestamp ASC
		LIMIT $2
	`

	rows, err := a.db.QueryContext(ctx, query, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.EventID,
			&e.AuctionID,
			&e.BidID,
			&e.BidderID,
			&e.BidderNickname,
			&e.Price,
			&e.PreviousPrice,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	return entries, nil
}
