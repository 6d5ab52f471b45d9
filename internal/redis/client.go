package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the auction key does not exist
	ErrNotFound = errors.New("auction not found")
	// ErrConflict is returned when a conditional write lost against newer state
	ErrConflict = errors.New("auction state changed concurrently")
)

const activeIndexKey = "auctions:active"

// Client wraps the Redis client with auction-specific operations
type Client struct {
	client *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: rdb}, nil
}

// Redis exposes the underlying client for components sharing the connection
func (c *Client) Redis() *redis.Client {
	return c.client
}

// BidMutation is the state change produced by one accepted bid
type BidMutation struct {
	Bid   *models.Bid
	EndAt time.Time
}

func itemKey(auctionID string) string {
	return fmt.Sprintf("auction:%s", auctionID)
}

func bidsKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:bids", auctionID)
}

// Create stores a new auction item. Status is forced to active and the
// current price to the start price. Times are kept to the millisecond.
func (c *Client) Create(ctx context.Context, item *models.AuctionItem) (*models.AuctionItem, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("auction id is required")
	}

	stored := *item
	stored.EndAt = stored.EndAt.Truncate(time.Millisecond)
	stored.CreatedAt = stored.CreatedAt.Truncate(time.Millisecond)
	stored.Status = models.ItemStatusActive
	stored.CurrentPrice = stored.StartPrice
	stored.HighestBidderID = ""
	stored.HighestBidderNickname = ""

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, itemKey(stored.ID), encodeItem(&stored))
		pipe.ZAdd(ctx, activeIndexKey, redis.Z{
			Score:  float64(stored.EndAt.UnixMilli()),
			Member: stored.ID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	return &stored, nil
}

// Get retrieves an auction item
func (c *Client) Get(ctx context.Context, auctionID string) (*models.AuctionItem, error) {
	fields, err := c.client.HGetAll(ctx, itemKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	item, err := decodeItem(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode auction %s: %w", auctionID, err)
	}
	return item, nil
}

// CompareAndUpdate applies an accepted bid only if the stored current price
// still equals expectedPrice. The bid record is appended in the same atomic
// step. A lost race returns ErrConflict and leaves state untouched.
func (c *Client) CompareAndUpdate(ctx context.Context, auctionID string, expectedPrice int64, m BidMutation) (*models.AuctionItem, error) {
	if m.Bid == nil {
		return nil, fmt.Errorf("bid mutation requires a bid")
	}

	current, err := c.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	bidJSON, err := json.Marshal(m.Bid)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bid: %w", err)
	}

	keys := []string{itemKey(auctionID), bidsKey(auctionID), activeIndexKey}
	result, err := bidScript.Run(ctx, c.client, keys,
		expectedPrice,
		m.Bid.Price,
		m.Bid.BidderID,
		m.Bid.BidderNickname,
		m.EndAt.UnixMilli(),
		m.Bid.CreatedAt.UnixMilli(),
		string(bidJSON),
		auctionID,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to execute bid script: %w", err)
	}

	switch result {
	case scriptNotFound:
		return nil, ErrNotFound
	case scriptRejected:
		return nil, ErrConflict
	}

	updated := *current
	updated.CurrentPrice = m.Bid.Price
	updated.HighestBidderID = m.Bid.BidderID
	updated.HighestBidderNickname = m.Bid.BidderNickname
	if m.EndAt.After(updated.EndAt) {
		updated.EndAt = m.EndAt
	}
	return &updated, nil
}

// TransitionToEnded flips an active auction whose deadline is before now to
// ended. Only the caller that performed the flip gets transitioned == true.
func (c *Client) TransitionToEnded(ctx context.Context, auctionID string, now time.Time) (*models.AuctionItem, bool, error) {
	keys := []string{itemKey(auctionID), activeIndexKey}
	result, err := endScript.Run(ctx, c.client, keys, now.UnixMilli(), auctionID).Int64()
	if err != nil {
		return nil, false, fmt.Errorf("failed to execute end script: %w", err)
	}
	if result == scriptNotFound {
		return nil, false, ErrNotFound
	}

	item, err := c.Get(ctx, auctionID)
	if err != nil {
		return nil, false, err
	}
	return item, result == scriptApplied, nil
}

// ListBids returns the accepted bids of an auction in acceptance order
func (c *Client) ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	raw, err := c.client.LRange(ctx, bidsKey(auctionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}

	bids := make([]*models.Bid, 0, len(raw))
	for _, r := range raw {
		bid := &models.Bid{}
		if err := json.Unmarshal([]byte(r), bid); err != nil {
			return nil, fmt.Errorf("failed to decode bid: %w", err)
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

// ListExpired returns up to limit active auction ids whose deadline is before now
func (c *Client) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := c.client.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	return ids, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func encodeItem(item *models.AuctionItem) map[string]interface{} {
	return map[string]interface{}{
		"id":                      item.ID,
		"title":                   item.Title,
		"description":             item.Description,
		"file_url":                item.FileURL,
		"file_type":               item.FileType,
		"start_price":             item.StartPrice,
		"current_price":           item.CurrentPrice,
		"end_at":                  item.EndAt.UnixMilli(),
		"seller_id":               item.SellerID,
		"seller_nickname":         item.SellerNickname,
		"seller_reputation":       item.SellerReputation,
		"highest_bidder_id":       item.HighestBidderID,
		"highest_bidder_nickname": item.HighestBidderNickname,
		"status":                  item.Status,
		"created_at":              item.CreatedAt.UnixMilli(),
	}
}

func decodeItem(fields map[string]string) (*models.AuctionItem, error) {
	item := &models.AuctionItem{
		ID:                    fields["id"],
		Title:                 fields["title"],
		Description:           fields["description"],
		FileURL:               fields["file_url"],
		FileType:              fields["file_type"],
		SellerID:              fields["seller_id"],
		SellerNickname:        fields["seller_nickname"],
		HighestBidderID:       fields["highest_bidder_id"],
		HighestBidderNickname: fields["highest_bidder_nickname"],
		Status:                fields["status"],
	}

	var err error
	if item.StartPrice, err = parseInt(fields, "start_price"); err != nil {
		return nil, err
	}
	if item.CurrentPrice, err = parseInt(fields, "current_price"); err != nil {
		return nil, err
	}
	if item.SellerReputation, err = parseInt(fields, "seller_reputation"); err != nil {
		return nil, err
	}
	endAt, err := parseInt(fields, "end_at")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseInt(fields, "created_at")
	if err != nil {
		return nil, err
	}
	item.EndAt = time.UnixMilli(endAt).UTC()
	item.CreatedAt = time.UnixMilli(createdAt).UTC()

	return item, nil
}

func parseInt(fields map[string]string, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return v, nil
}
