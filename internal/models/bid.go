package models

import "time"

// Bid represents a single accepted bid on an auction item.
// Bids are immutable once stored.
type Bid struct {
	ID             string    `json:"id"`
	AuctionID      string    `json:"auction_id"`
	BidderID       string    `json:"bidder_id"`
	BidderNickname string    `json:"bidder_nickname"`
	Price          int64     `json:"price"`
	CreatedAt      time.Time `json:"created_at"`
}

// BidRequest represents the incoming bid request from API
type BidRequest struct {
	Price int64 `json:"price"`
}

// BidResponse represents the API response after placing a bid
type BidResponse struct {
	NewPrice   int64     `json:"newPrice"`
	NewEndDate time.Time `json:"newEndDate"`
}

// AuditEntry mirrors an accepted bid in the append-only audit log.
// It is stored independently of the Bid record for cross-checking.
type AuditEntry struct {
	EventID        string    `json:"event_id"`
	AuctionID      string    `json:"auction_id"`
	BidID          string    `json:"bid_id"`
	BidderID       string    `json:"bidder_id"`
	BidderNickname string    `json:"bidder_nickname"`
	Price          int64     `json:"price"`
	PreviousPrice  int64     `json:"previous_price"`
	Timestamp      time.Time `json:"timestamp"`
}
