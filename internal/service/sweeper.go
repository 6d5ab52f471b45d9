package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/workpool"
	"go.uber.org/zap"
)

// Closer is the part of the engine the sweeper drives
type Closer interface {
	CheckAndCloseIfExpired(ctx context.Context, auctionID string) (*CloseResult, error)
}

// ExpiredLister finds active auctions whose deadline has passed
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// SweeperConfig configures a Sweeper
type SweeperConfig struct {
	Interval  time.Duration
	Workers   int
	BatchSize int
}

// Sweeper periodically closes expired auctions nobody is looking at.
// Closing stays correct without it; page views and try_end signals run the
// same check.
type Sweeper struct {
	closer   Closer
	lister   ExpiredLister
	clock    clock.Clock
	logger   *zap.Logger
	pool     *workpool.WorkPool
	interval time.Duration
	batch    int
}

// NewSweeper creates a sweeper with a bounded pool of close workers
func NewSweeper(closer Closer, lister ExpiredLister, clk clock.Clock, logger *zap.Logger, cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := workpool.NewWorkPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep pool: %w", err)
	}

	return &Sweeper{
		closer:   closer,
		lister:   lister,
		clock:    clk,
		logger:   logger,
		pool:     pool,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}, nil
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.pool.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C():
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce closes one batch of expired auctions and returns how many of
// them this call transitioned
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.lister.ListExpired(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var closed int64
	wg := &sync.WaitGroup{}
	wg.Add(len(ids))
	for _, id := range ids {
		id := id
		s.pool.Submit(func() {
			defer wg.Done()
			res, err := s.closer.CheckAndCloseIfExpired(ctx, id)
			if err != nil {
				s.logger.Warn("failed to close auction", zap.String("auction_id", id), zap.Error(err))
				return
			}
			if res.Transitioned {
				atomic.AddInt64(&closed, 1)
			}
		})
	}
	wg.Wait()

	if closed > 0 {
		s.logger.Info("sweep closed auctions", zap.Int64("count", closed))
	}
	return int(closed), nil
}
