package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func seedAuction(t *testing.T, c *Client, id string, startPrice int64, endAt time.Time) *models.AuctionItem {
	t.Helper()
	item, err := c.Create(context.Background(), &models.AuctionItem{
		ID:             id,
		Title:          "Calculus notes",
		Description:    "Full semester",
		FileURL:        "/uploads/calc.pdf",
		FileType:       models.FileTypeDocument,
		StartPrice:     startPrice,
		CurrentPrice:   99999, // ignored by Create
		Status:         models.ItemStatusEnded,
		EndAt:          endAt,
		SellerID:       "seller",
		SellerNickname: "owl",
		CreatedAt:      endAt.Add(-time.Hour),
	})
	require.NoError(t, err)
	return item
}

func newBid(auctionID, bidder string, price int64, at time.Time) *models.Bid {
	return &models.Bid{
		ID:             bidder + "-bid",
		AuctionID:      auctionID,
		BidderID:       bidder,
		BidderNickname: bidder + "-nick",
		Price:          price,
		CreatedAt:      at,
	}
}

func TestClient_CreateAndGet(t *testing.T) {
	c, _ := newTestClient(t)
	endAt := time.Now().Add(time.Hour).Truncate(time.Millisecond).UTC()

	created := seedAuction(t, c, "a1", 1000, endAt)
	assert.Equal(t, models.ItemStatusActive, created.Status)
	assert.Equal(t, int64(1000), created.CurrentPrice)

	got, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Calculus notes", got.Title)
	assert.Equal(t, int64(1000), got.CurrentPrice)
	assert.Equal(t, models.ItemStatusActive, got.Status)
	assert.True(t, got.EndAt.Equal(endAt))
	assert.False(t, got.HasBids())
}

func TestClient_CreateKeepsMilliseconds(t *testing.T) {
	c, _ := newTestClient(t)
	endAt := time.Date(2025, 3, 1, 13, 0, 0, 1_500_007, time.UTC)

	created := seedAuction(t, c, "a1", 1000, endAt)
	got, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, created.EndAt.Equal(got.EndAt), "returned %v, stored %v", created.EndAt, got.EndAt)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.EndAt.Equal(endAt.Truncate(time.Millisecond)))
}

func TestClient_GetMissing(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_CompareAndUpdate(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)

	tests := []struct {
		name          string
		endAt         time.Time
		expectedPrice int64
		price         int64
		newEnd        time.Time
		wantErr       error
		wantPrice     int64
	}{
		{
			name:          "Applied",
			endAt:         now.Add(time.Hour),
			expectedPrice: 1000,
			price:         1500,
			newEnd:        now.Add(time.Hour),
			wantPrice:     1500,
		},
		{
			name:          "StalePrice",
			endAt:         now.Add(time.Hour),
			expectedPrice: 900,
			price:         1500,
			newEnd:        now.Add(time.Hour),
			wantErr:       ErrConflict,
			wantPrice:     1000,
		},
		{
			name:          "NotHigher",
			endAt:         now.Add(time.Hour),
			expectedPrice: 1000,
			price:         1000,
			newEnd:        now.Add(time.Hour),
			wantErr:       ErrConflict,
			wantPrice:     1000,
		},
		{
			name:          "DeadlinePassed",
			endAt:         now.Add(-time.Second),
			expectedPrice: 1000,
			price:         1500,
			newEnd:        now.Add(time.Minute),
			wantErr:       ErrConflict,
			wantPrice:     1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t)
			ctx := context.Background()
			seedAuction(t, c, "a1", 1000, tt.endAt)

			_, err := c.CompareAndUpdate(ctx, "a1", tt.expectedPrice, BidMutation{
				Bid:   newBid("a1", "bob", tt.price, now),
				EndAt: tt.newEnd,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			got, err := c.Get(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, got.CurrentPrice)

			bids, err := c.ListBids(ctx, "a1")
			require.NoError(t, err)
			if tt.wantErr != nil {
				assert.Empty(t, bids, "rejected write must not leave a bid record")
			} else {
				require.Len(t, bids, 1)
				assert.Equal(t, "bob", bids[0].BidderID)
				assert.Equal(t, "bob", got.HighestBidderID)
				assert.Equal(t, "bob-nick", got.HighestBidderNickname)
			}
		})
	}
}

func TestClient_CompareAndUpdate_DeadlineNeverRetreats(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	endAt := now.Add(time.Hour)
	seedAuction(t, c, "a1", 1000, endAt)

	updated, err := c.CompareAndUpdate(ctx, "a1", 1000, BidMutation{
		Bid:   newBid("a1", "bob", 1100, now),
		EndAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, updated.EndAt.Equal(endAt))

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.EndAt.Equal(endAt))
}

func TestClient_CompareAndUpdate_ExtendsDeadline(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	seedAuction(t, c, "a1", 1000, now.Add(30*time.Second))

	_, err := c.CompareAndUpdate(ctx, "a1", 1000, BidMutation{
		Bid:   newBid("a1", "bob", 1100, now),
		EndAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.EndAt.Equal(now.Add(time.Minute).UTC()))

	// the deadline index follows the extension
	expired, err := c.ListExpired(ctx, now.Add(45*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestClient_CompareAndUpdate_ConcurrentSamePrice(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	seedAuction(t, c, "a1", 1000, now.Add(time.Hour))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bid := newBid("a1", "bidder", 1500, now)
			bid.ID = bid.ID + string(rune('a'+i))
			if _, err := c.CompareAndUpdate(ctx, "a1", 1000, BidMutation{Bid: bid, EndAt: now.Add(time.Hour)}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	bids, err := c.ListBids(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestClient_TransitionToEnded(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	seedAuction(t, c, "past", 1000, now.Add(-time.Second))
	seedAuction(t, c, "future", 1000, now.Add(time.Hour))

	item, transitioned, err := c.TransitionToEnded(ctx, "past", now)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, models.ItemStatusEnded, item.Status)

	item, transitioned, err = c.TransitionToEnded(ctx, "past", now)
	require.NoError(t, err)
	assert.False(t, transitioned, "second flip must not report a transition")
	assert.Equal(t, models.ItemStatusEnded, item.Status)

	item, transitioned, err = c.TransitionToEnded(ctx, "future", now)
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, models.ItemStatusActive, item.Status)

	_, _, err = c.TransitionToEnded(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_TransitionToEnded_Concurrent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	seedAuction(t, c, "a1", 1000, now.Add(-time.Second))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, transitioned, err := c.TransitionToEnded(ctx, "a1", now)
			if err == nil && transitioned {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestClient_BidRejectedAfterEnd(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	seedAuction(t, c, "a1", 1000, now.Add(-time.Second))

	_, _, err := c.TransitionToEnded(ctx, "a1", now)
	require.NoError(t, err)

	_, err = c.CompareAndUpdate(ctx, "a1", 1000, BidMutation{
		Bid:   newBid("a1", "bob", 5000, now.Add(-2*time.Second)),
		EndAt: now,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestClient_ListExpired(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	seedAuction(t, c, "old", 0, now.Add(-time.Minute))
	seedAuction(t, c, "older", 0, now.Add(-time.Hour))
	seedAuction(t, c, "fresh", 0, now.Add(time.Hour))

	ids, err := c.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "old"}, ids)

	ids, err = c.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"older"}, ids)

	_, _, err = c.TransitionToEnded(ctx, "older", now)
	require.NoError(t, err)
	ids, err = c.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)
}
