package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckAndCloseIfExpired ends an active auction whose deadline has passed.
// It is safe to call from any number of trigger points at once: the status
// flip is a conditional write, and only the caller that wins it settles the
// auction. Callers that find the auction already ended, or not yet due, get
// Closed == false.
func (e *AuctionEngine) CheckAndCloseIfExpired(ctx context.Context, auctionID string) (*CloseResult, error) {
	item, err := e.getItem(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if item.Status != models.ItemStatusActive || !now.After(item.EndAt) {
		return &CloseResult{Item: item}, nil
	}

	current, transitioned, err := e.repo.TransitionToEnded(ctx, auctionID, now)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	e.remember(current)

	// a bid that extended the deadline between our read and the flip keeps
	// the auction open
	if current.Status != models.ItemStatusEnded {
		return &CloseResult{Item: current}, nil
	}

	if transitioned {
		e.logger.Info("auction ended",
			zap.String("auction_id", auctionID),
			zap.String("winner_id", current.HighestBidderID),
			zap.Int64("final_price", current.CurrentPrice))
		sideCtx, cancel := detached(ctx)
		e.settle(sideCtx, current)
		cancel()
	}
	return &CloseResult{Closed: true, Transitioned: transitioned, Item: current}, nil
}

// settle runs the side effects of a close. It is called exactly once per
// auction, by the caller that performed the transition.
func (e *AuctionEngine) settle(ctx context.Context, item *models.AuctionItem) {
	logger := e.logger.With(zap.String("auction_id", item.ID))
	now := e.clock.Now().UTC()
	link := fmt.Sprintf("/auction/%s", item.ID)

	if err := e.notifications.Create(ctx, &models.Notification{
		ID:        uuid.New().String(),
		UserID:    item.SellerID,
		Message:   fmt.Sprintf("Your auction %q has ended.", item.Title),
		Link:      link,
		CreatedAt: now,
	}); err != nil {
		logger.Error("failed to notify seller", zap.Error(err))
	}

	if !item.HasBids() {
		return
	}

	if err := e.notifications.Create(ctx, &models.Notification{
		ID:        uuid.New().String(),
		UserID:    item.HighestBidderID,
		Message:   fmt.Sprintf("You won the auction %q for %d.", item.Title, item.CurrentPrice),
		Link:      link,
		CreatedAt: now,
	}); err != nil {
		logger.Error("failed to notify winner", zap.Error(err))
	}

	if _, err := e.reputation.Increment(ctx, item.SellerID, SaleReward); err != nil {
		logger.Error("failed to reward seller", zap.Error(err))
	}

	ended := models.AuctionEnded{
		HighestBidderID:       item.HighestBidderID,
		HighestBidderNickname: item.HighestBidderNickname,
	}
	if err := e.broadcaster.BroadcastAuctionEnded(ctx, item.ID, ended); err != nil {
		logger.Warn("failed to broadcast auction end", zap.Error(err))
	}
}
