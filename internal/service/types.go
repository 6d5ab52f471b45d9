package service

import (
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
)

// Reputation rewards
const (
	BidReward  int64 = 5
	SaleReward int64 = 5
)

// AntiSnipeWindow is both the late-bid window and the extension length
const AntiSnipeWindow = 60 * time.Second

const maxConflictRetries = 2

// sideEffectTimeout bounds the work that follows a committed bid or close
const sideEffectTimeout = 10 * time.Second

// NewAuction is the seller input for a listing
type NewAuction struct {
	Title       string
	Description string
	FileURL     string
	FileType    string
	StartPrice  int64
	EndAt       time.Time
}

// BidResult is returned for an accepted bid
type BidResult struct {
	NewPrice int64
	NewEndAt time.Time
}

// CloseResult reports the outcome of an expiry check.
// Closed is true when the check found the auction expired and it is now
// ended. Transitioned is true only for the single caller that performed the
// status flip and ran the settlement side effects.
type CloseResult struct {
	Closed       bool
	Transitioned bool
	Item         *models.AuctionItem
}

// DetailView is an auction as seen by a particular caller
type DetailView struct {
	Item   *models.AuctionItem `json:"item"`
	CanBid bool                `json:"canBid"`
}
