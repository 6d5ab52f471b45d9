package models

import "time"

// AuctionItem represents a listed good or document and its bidding state
type AuctionItem struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Description           string    `json:"description"`
	FileURL               string    `json:"file_url"`
	FileType              string    `json:"file_type"` // "image", "document"
	StartPrice            int64     `json:"start_price"`
	CurrentPrice          int64     `json:"current_price"`
	EndAt                 time.Time `json:"end_date"`
	SellerID              string    `json:"seller_id"`
	SellerNickname        string    `json:"seller_nickname"`
	SellerReputation      int64     `json:"seller_reputation"`
	HighestBidderID       string    `json:"highest_bidder_id,omitempty"`
	HighestBidderNickname string    `json:"highest_bidder_nickname,omitempty"`
	Status                string    `json:"status"` // "active", "ended"
	CreatedAt             time.Time `json:"created_at"`
}

// ItemStatus constants
const (
	ItemStatusActive = "active"
	ItemStatusEnded  = "ended"
)

// FileType constants
const (
	FileTypeImage    = "image"
	FileTypeDocument = "document"
)

// HasBids reports whether any bid was ever accepted for the item
func (i *AuctionItem) HasBids() bool {
	return i.HighestBidderID != ""
}

// IsActive reports whether the item still accepts bids at the given instant
func (i *AuctionItem) IsActive(now time.Time) bool {
	return i.Status == ItemStatusActive && now.Before(i.EndAt)
}

// CreateAuctionRequest is the listing form submitted by a seller
type CreateAuctionRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FileURL     string    `json:"file_url"`
	FileType    string    `json:"file_type"`
	StartPrice  int64     `json:"start_price"`
	EndDate     time.Time `json:"end_date"`
}
