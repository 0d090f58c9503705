package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/fahimahmedx/prop-amm/internal/params"
)

// FeedSource adapts a Feed to the engine's multiplier-source slot: it
// pulls fresh multipliers and commits them through the parameter store's
// atomic batch path, preserving the committed concentration. Quotes then
// pick the new batch up the same way they would a manual update.
type FeedSource struct {
	feed   Feed
	store  params.Store
	logger *zap.Logger

	// MinInterval throttles refreshes per pair; zero refreshes on every
	// quote.
	MinInterval time.Duration

	mu    sync.Mutex
	last  map[common.Hash]time.Time
	clock func() time.Time
}

func NewFeedSource(feed Feed, store params.Store, logger *zap.Logger) *FeedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedSource{
		feed:   feed,
		store:  store,
		logger: logger,
		last:   make(map[common.Hash]time.Time),
		clock:  time.Now,
	}
}

// WithClock overrides the throttle clock for deterministic tests.
func (s *FeedSource) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Refresh updates the pair's committed multipliers from the feed.
func (s *FeedSource) Refresh(ctx context.Context, pairID common.Hash) error {
	if !s.due(pairID) {
		return nil
	}

	multX, multY, err := s.feed.Multipliers(ctx, pairID)
	if err != nil {
		return fmt.Errorf("feed multipliers: %w", err)
	}

	current, err := s.store.Get(pairID)
	if err != nil {
		return err
	}
	if err := s.store.SetBatch(pairID, current.Concentration, multX, multY); err != nil {
		return err
	}

	s.logger.Debug("multipliers refreshed",
		zap.String("pair_id", pairID.Hex()),
		zap.String("mult_x", multX.Dec()),
		zap.String("mult_y", multY.Dec()),
	)
	return nil
}

func (s *FeedSource) due(pairID common.Hash) bool {
	if s.MinInterval <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if last, ok := s.last[pairID]; ok && now.Sub(last) < s.MinInterval {
		return false
	}
	s.last[pairID] = now
	return true
}
