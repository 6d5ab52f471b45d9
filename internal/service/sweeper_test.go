package service

import (
	"context"
	"testing"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "old-1", 100, testEpoch.Add(-time.Hour))
	h.seed(t, "old-2", 100, testEpoch.Add(-time.Minute))
	h.seed(t, "old-3", 100, testEpoch.Add(-time.Second))
	h.seed(t, "fresh", 100, testEpoch.Add(time.Hour))

	sweeper, err := NewSweeper(h.engine, h.store, h.clock, nil, SweeperConfig{
		Interval:  time.Second,
		Workers:   2,
		BatchSize: 10,
	})
	require.NoError(t, err)

	closed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, closed)

	for _, id := range []string{"old-1", "old-2", "old-3"} {
		item, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusEnded, item.Status, id)
	}
	fresh, err := h.store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusActive, fresh.Status)

	closed, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Len(t, h.notifications.forUser(seller.ID), 3)
}

func TestSweeper_RunsOnTick(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a1", 100, testEpoch.Add(30*time.Second))

	sweeper, err := NewSweeper(h.engine, h.store, h.clock, nil, SweeperConfig{Interval: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	h.clock.WaitForWatcherAndIncrement(time.Minute)
	assert.Eventually(t, func() bool {
		return h.notifications.count() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNewSweeper_RequiresInterval(t *testing.T) {
	h := newHarness(t)
	_, err := NewSweeper(h.engine, h.store, h.clock, nil, SweeperConfig{})
	assert.Error(t, err)
}
