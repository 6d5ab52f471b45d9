package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmitBid validates a bid against the latest stored state and applies it
// through the repository's compare-and-update primitive.
//
// Checks run in this order and the first failure wins: the auction exists,
// the bidder is not the seller, the price beats the current price, the
// auction is active and its deadline has not passed. A write that loses a
// race is re-validated against fresh state a bounded number of times.
func (e *AuctionEngine) SubmitBid(ctx context.Context, auctionID string, bidder models.Identity, price int64) (*BidResult, error) {
	if bidder.ID == "" {
		return nil, fmt.Errorf("%w: bidder identity is required", ErrInvalidInput)
	}

	for attempt := 0; ; attempt++ {
		item, bid, previousPrice, err := e.tryBid(ctx, auctionID, bidder, price)
		if err == nil {
			sideCtx, cancel := detached(ctx)
			e.afterBid(sideCtx, item, bid, previousPrice)
			cancel()
			return &BidResult{NewPrice: item.CurrentPrice, NewEndAt: item.EndAt}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		if attempt >= maxConflictRetries {
			e.logger.Warn("bid lost repeated races",
				zap.String("auction_id", auctionID),
				zap.String("bidder_id", bidder.ID),
				zap.Int64("price", price))
			return nil, fmt.Errorf("%w: %w", ErrAuctionClosed, ErrConflict)
		}
	}
}

// tryBid runs one validate-then-write round. It returns the updated item, the
// stored bid and the price the bid replaced.
func (e *AuctionEngine) tryBid(ctx context.Context, auctionID string, bidder models.Identity, price int64) (*models.AuctionItem, *models.Bid, int64, error) {
	item, err := e.getItem(ctx, auctionID)
	if err != nil {
		return nil, nil, 0, err
	}

	if item.SellerID == bidder.ID {
		return nil, nil, 0, ErrForbidden
	}
	if price <= item.CurrentPrice {
		return nil, nil, 0, ErrInvalidBid
	}

	// stored timestamps have millisecond precision
	now := e.clock.Now().Truncate(time.Millisecond)
	if !item.IsActive(now) {
		return nil, nil, 0, ErrAuctionClosed
	}

	// Anti-snipe: a bid inside the last window resets the deadline to one
	// full window after acceptance. It never compounds.
	endAt := item.EndAt
	if item.EndAt.Sub(now) < AntiSnipeWindow {
		endAt = now.Add(AntiSnipeWindow).UTC()
	}

	bid := &models.Bid{
		ID:             uuid.New().String(),
		AuctionID:      auctionID,
		BidderID:       bidder.ID,
		BidderNickname: bidder.Nickname,
		Price:          price,
		CreatedAt:      now.UTC(),
	}

	updated, err := e.repo.CompareAndUpdate(ctx, auctionID, item.CurrentPrice, redis.BidMutation{
		Bid:   bid,
		EndAt: endAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, redis.ErrConflict):
			return nil, nil, 0, ErrConflict
		case errors.Is(err, redis.ErrNotFound):
			return nil, nil, 0, ErrNotFound
		}
		return nil, nil, 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	e.logger.Info("bid accepted",
		zap.String("auction_id", auctionID),
		zap.String("bid_id", bid.ID),
		zap.String("bidder_id", bidder.ID),
		zap.Int64("price", price),
		zap.Time("end_at", updated.EndAt))
	return updated, bid, item.CurrentPrice, nil
}

// afterBid runs the side effects of an accepted bid. The bid is already
// committed, so failures here are logged and never reported to the bidder.
func (e *AuctionEngine) afterBid(ctx context.Context, item *models.AuctionItem, bid *models.Bid, previousPrice int64) {
	logger := e.logger.With(zap.String("auction_id", item.ID), zap.String("bidder_id", bid.BidderID))

	entry := models.AuditEntry{
		EventID:        uuid.New().String(),
		AuctionID:      item.ID,
		BidID:          bid.ID,
		BidderID:       bid.BidderID,
		BidderNickname: bid.BidderNickname,
		Price:          bid.Price,
		PreviousPrice:  previousPrice,
		Timestamp:      bid.CreatedAt,
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		logger.Error("failed to append audit entry", zap.Error(err))
	}

	update := models.BidUpdate{
		NewPrice:       item.CurrentPrice,
		BidderNickname: bid.BidderNickname,
		NewEndDate:     item.EndAt,
	}
	if reputation, err := e.reputation.Increment(ctx, bid.BidderID, BidReward); err == nil {
		update.BidderReputation = &reputation
	} else {
		logger.Error("failed to reward bidder", zap.Error(err))
		// the score is left out of the update when it cannot be read either
		if current, err := e.reputation.Get(ctx, bid.BidderID); err == nil {
			update.BidderReputation = &current
		}
	}
	if err := e.broadcaster.BroadcastBidUpdate(ctx, item.ID, update); err != nil {
		logger.Warn("failed to broadcast bid update", zap.Error(err))
	}
}
