package service

import (
	"context"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/redis"
)

// Repository is the durable store of auction items and bid history.
// Every mutation of price, highest bidder or status goes through one of the
// conditional primitives. Implementations return redis.ErrNotFound and
// redis.ErrConflict.
type Repository interface {
	Get(ctx context.Context, auctionID string) (*models.AuctionItem, error)
	Create(ctx context.Context, item *models.AuctionItem) (*models.AuctionItem, error)
	CompareAndUpdate(ctx context.Context, auctionID string, expectedPrice int64, m redis.BidMutation) (*models.AuctionItem, error)
	TransitionToEnded(ctx context.Context, auctionID string, now time.Time) (*models.AuctionItem, bool, error)
	ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// ReputationStore maps a user to a numeric reputation score
type ReputationStore interface {
	Get(ctx context.Context, userID string) (int64, error)
	Increment(ctx context.Context, userID string, delta int64) (int64, error)
}

// AuditLog receives a copy of every accepted bid
type AuditLog interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// NotificationSink persists user-facing messages
type NotificationSink interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Broadcaster pushes auction events to the room of an auction
type Broadcaster interface {
	BroadcastBidUpdate(ctx context.Context, auctionID string, update models.BidUpdate) error
	BroadcastAuctionEnded(ctx context.Context, auctionID string, ended models.AuctionEnded) error
}
