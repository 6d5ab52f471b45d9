package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/redis"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Dependencies are the collaborators of the engine
type Dependencies struct {
	Repository    Repository
	Reputation    ReputationStore
	Audit         AuditLog
	Notifications NotificationSink
	Broadcaster   Broadcaster
	Clock         clock.Clock
	Logger        *zap.Logger

	// EndedCacheSize bounds the snapshot cache of ended auctions
	EndedCacheSize int
}

// AuctionEngine validates and applies bids and closes expired auctions.
// It holds no auction state of its own; the ended cache only stores items
// that can no longer change.
type AuctionEngine struct {
	repo          Repository
	reputation    ReputationStore
	audit         AuditLog
	notifications NotificationSink
	broadcaster   Broadcaster
	clock         clock.Clock
	logger        *zap.Logger
	ended         *lru.Cache[string, models.AuctionItem]
}

// NewAuctionEngine creates a new auction engine
func NewAuctionEngine(deps Dependencies) (*AuctionEngine, error) {
	if deps.Repository == nil || deps.Reputation == nil || deps.Audit == nil ||
		deps.Notifications == nil || deps.Broadcaster == nil {
		return nil, fmt.Errorf("auction engine: missing dependency")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	size := deps.EndedCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, models.AuctionItem](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create ended cache: %w", err)
	}

	return &AuctionEngine{
		repo:          deps.Repository,
		reputation:    deps.Reputation,
		audit:         deps.Audit,
		notifications: deps.Notifications,
		broadcaster:   deps.Broadcaster,
		clock:         deps.Clock,
		logger:        deps.Logger,
		ended:         cache,
	}, nil
}

// CreateAuction lists a new item for the seller
func (e *AuctionEngine) CreateAuction(ctx context.Context, seller models.Identity, in NewAuction) (*models.AuctionItem, error) {
	// stored timestamps have millisecond precision
	now := e.clock.Now().Truncate(time.Millisecond)
	in.EndAt = in.EndAt.Truncate(time.Millisecond)
	if err := validateListing(in, now); err != nil {
		return nil, err
	}
	if seller.ID == "" {
		return nil, fmt.Errorf("%w: seller identity is required", ErrInvalidInput)
	}

	// snapshot of the seller's standing at listing time; an unreadable score
	// lists the item with 0
	reputation, err := e.reputation.Get(ctx, seller.ID)
	if err != nil {
		e.logger.Warn("failed to read seller reputation", zap.String("seller_id", seller.ID), zap.Error(err))
		reputation = 0
	}

	item, err := e.repo.Create(ctx, &models.AuctionItem{
		ID:               uuid.New().String(),
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		FileURL:          in.FileURL,
		FileType:         in.FileType,
		StartPrice:       in.StartPrice,
		CurrentPrice:     in.StartPrice,
		EndAt:            in.EndAt.UTC(),
		SellerID:         seller.ID,
		SellerNickname:   seller.Nickname,
		SellerReputation: reputation,
		Status:           models.ItemStatusActive,
		CreatedAt:        now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	e.logger.Info("auction listed",
		zap.String("auction_id", item.ID),
		zap.String("seller_id", seller.ID),
		zap.Int64("start_price", item.StartPrice),
		zap.Time("end_at", item.EndAt))
	return item, nil
}

// Detail returns the auction for a caller. It also closes the auction first
// when its deadline has passed. caller is nil for anonymous readers.
func (e *AuctionEngine) Detail(ctx context.Context, auctionID string, caller *models.Identity) (*DetailView, error) {
	res, err := e.CheckAndCloseIfExpired(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	item := res.Item
	canBid := caller != nil && caller.ID != "" &&
		caller.ID != item.SellerID && item.Status == models.ItemStatusActive
	return &DetailView{Item: item, CanBid: canBid}, nil
}

// BidHistory returns the accepted bids of an auction in acceptance order
func (e *AuctionEngine) BidHistory(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	if _, err := e.getItem(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := e.repo.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return bids, nil
}

// getItem loads an auction, serving ended auctions from the cache
func (e *AuctionEngine) getItem(ctx context.Context, auctionID string) (*models.AuctionItem, error) {
	if cached, ok := e.ended.Get(auctionID); ok {
		return &cached, nil
	}

	item, err := e.repo.Get(ctx, auctionID)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	e.remember(item)
	return item, nil
}

// detached returns a context for post-commit work. It keeps the caller's
// values but not its cancellation, so a client that disconnects after the
// commit cannot cut the side effects short.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func (e *AuctionEngine) remember(item *models.AuctionItem) {
	if item != nil && item.Status == models.ItemStatusEnded {
		e.ended.Add(item.ID, *item)
	}
}

func validateListing(in NewAuction, now time.Time) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case strings.TrimSpace(in.Description) == "":
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	case in.FileURL == "":
		return fmt.Errorf("%w: file reference is required", ErrInvalidInput)
	case in.FileType != models.FileTypeImage && in.FileType != models.FileTypeDocument:
		return fmt.Errorf("%w: file type must be %q or %q", ErrInvalidInput, models.FileTypeImage, models.FileTypeDocument)
	case in.StartPrice < 0:
		return fmt.Errorf("%w: start price must not be negative", ErrInvalidInput)
	case !in.EndAt.After(now):
		return fmt.Errorf("%w: end date must be in the future", ErrInvalidInput)
	}
	return nil
}
