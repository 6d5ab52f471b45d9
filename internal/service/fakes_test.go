package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/redis"
	"github.com/stretchr/testify/require"
)

type fakeReputation struct {
	mu     sync.Mutex
	scores map[string]int64
	calls  []string
	err    error
	getErr error
}

func newFakeReputation() *fakeReputation {
	return &fakeReputation{scores: map[string]int64{}}
}

func (f *fakeReputation) Get(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.scores[userID], nil
}

func (f *fakeReputation) Increment(ctx context.Context, userID string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	if f.err != nil {
		return 0, f.err
	}
	f.scores[userID] += delta
	return f.scores[userID], nil
}

func (f *fakeReputation) score(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scores[userID]
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	err     error
}

func (f *fakeAudit) Append(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeNotifications struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (f *fakeNotifications) Create(ctx context.Context, n *models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	return nil
}

func (f *fakeNotifications) forUser(userID string) []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeNotifications) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	updates []models.BidUpdate
	ended   []models.AuctionEnded
}

func (f *fakeBroadcaster) BroadcastBidUpdate(ctx context.Context, auctionID string, update models.BidUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeBroadcaster) BroadcastAuctionEnded(ctx context.Context, auctionID string, ended models.AuctionEnded) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, ended)
	return nil
}

func (f *fakeBroadcaster) endedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ended)
}

// conflictRepo loses every compare-and-update race
type conflictRepo struct {
	Repository
	mu    sync.Mutex
	calls int
}

func (r *conflictRepo) CompareAndUpdate(ctx context.Context, auctionID string, expectedPrice int64, m redis.BidMutation) (*models.AuctionItem, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return nil, redis.ErrConflict
}

// cancelAfterCommitRepo cancels the caller's context as soon as a write
// commits, the way an HTTP client hanging up would
type cancelAfterCommitRepo struct {
	Repository
	cancel context.CancelFunc
}

func (r *cancelAfterCommitRepo) CompareAndUpdate(ctx context.Context, auctionID string, expectedPrice int64, m redis.BidMutation) (*models.AuctionItem, error) {
	item, err := r.Repository.CompareAndUpdate(ctx, auctionID, expectedPrice, m)
	if err == nil {
		r.cancel()
	}
	return item, err
}

func (r *cancelAfterCommitRepo) TransitionToEnded(ctx context.Context, auctionID string, now time.Time) (*models.AuctionItem, bool, error) {
	item, transitioned, err := r.Repository.TransitionToEnded(ctx, auctionID, now)
	if err == nil {
		r.cancel()
	}
	return item, transitioned, err
}

type harness struct {
	engine        *AuctionEngine
	store         *redis.Client
	clock         *fakeclock.FakeClock
	reputation    *fakeReputation
	audit         *fakeAudit
	notifications *fakeNotifications
	broadcaster   *fakeBroadcaster
}

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRepo(t, nil)
}

// newHarnessWithRepo builds an engine over miniredis. wrap may replace the
// repository seen by the engine.
func newHarnessWithRepo(t *testing.T, wrap func(Repository) Repository) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := redis.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:         store,
		clock:         fakeclock.NewFakeClock(testEpoch),
		reputation:    newFakeReputation(),
		audit:         &fakeAudit{},
		notifications: &fakeNotifications{},
		broadcaster:   &fakeBroadcaster{},
	}

	var repo Repository = store
	if wrap != nil {
		repo = wrap(store)
	}
	h.engine, err = NewAuctionEngine(Dependencies{
		Repository:    repo,
		Reputation:    h.reputation,
		Audit:         h.audit,
		Notifications: h.notifications,
		Broadcaster:   h.broadcaster,
		Clock:         h.clock,
	})
	require.NoError(t, err)
	return h
}

var (
	seller = models.Identity{ID: "seller", Nickname: "owl"}
	alice  = models.Identity{ID: "alice", Nickname: "fox"}
	bob    = models.Identity{ID: "bob", Nickname: "bear"}
)

// seed stores an active auction directly, bypassing listing validation
func (h *harness) seed(t *testing.T, id string, startPrice int64, endAt time.Time) *models.AuctionItem {
	t.Helper()
	item, err := h.store.Create(context.Background(), &models.AuctionItem{
		ID:             id,
		Title:          "Linear algebra notes",
		Description:    "Annotated",
		FileURL:        "/uploads/la.pdf",
		FileType:       models.FileTypeDocument,
		StartPrice:     startPrice,
		EndAt:          endAt,
		SellerID:       seller.ID,
		SellerNickname: seller.Nickname,
		CreatedAt:      testEpoch.Add(-time.Hour),
	})
	require.NoError(t, err)
	return item
}
