// Package params is the committed pricing-parameter store. Updates land as
// one atomic batch and readers only ever observe fully committed batches;
// the sequence number on each read is the anti-frontrunning marker an
// embedding system pins at the top of its execution epoch.
package params

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/fahimahmedx/prop-amm/internal/amm"
)

// Concentration bounds, half-open: valid values are 1 <= c < 2000.
const (
	ConcentrationMin = 1
	ConcentrationMax = 2000
)

// Parameters is one committed (concentration, multX, multY) batch.
type Parameters struct {
	Concentration uint64
	MultX         *uint256.Int
	MultY         *uint256.Int

	// Seq increases by one per committed batch across the whole store;
	// UpdatedAt is the commit wall-clock time.
	Seq       uint64
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can hold Parameters across
// subsequent commits.
func (p Parameters) Clone() Parameters {
	out := p
	out.MultX = new(uint256.Int).Set(p.MultX)
	out.MultY = new(uint256.Int).Set(p.MultY)
	return out
}

// Store exposes the committed parameter batch for a pair.
type Store interface {
	// Get returns the latest committed batch, never a partial write.
	Get(pairID common.Hash) (Parameters, error)
	// SetBatch commits all three fields atomically.
	SetBatch(pairID common.Hash, concentration uint64, multX, multY *uint256.Int) error
}

// ValidateConcentration rejects values outside [1, 2000).
func ValidateConcentration(c uint64) error {
	if c < ConcentrationMin || c >= ConcentrationMax {
		return fmt.Errorf("concentration %d outside [%d, %d): %w",
			c, ConcentrationMin, ConcentrationMax, amm.ErrInvalidParameter)
	}
	return nil
}

// MemoryStore is the in-process Store. A single mutex covers each commit,
// so a concurrent reader sees either the previous batch or the next one.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[common.Hash]Parameters
	seq   uint64
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[common.Hash]Parameters),
		clock: time.Now,
	}
}

// WithClock overrides the commit timestamp source for deterministic tests.
func (s *MemoryStore) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
}

func (s *MemoryStore) Get(pairID common.Hash) (Parameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[pairID]
	if !ok {
		return Parameters{}, fmt.Errorf("parameters for %s: %w", pairID.Hex(), amm.ErrPairNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) SetBatch(pairID common.Hash, concentration uint64, multX, multY *uint256.Int) error {
	if err := ValidateConcentration(concentration); err != nil {
		return err
	}
	if multX == nil || multY == nil {
		return fmt.Errorf("nil multiplier: %w", amm.ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.data[pairID] = Parameters{
		Concentration: concentration,
		MultX:         new(uint256.Int).Set(multX),
		MultY:         new(uint256.Int).Set(multY),
		Seq:           s.seq,
		UpdatedAt:     s.clock().UTC(),
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
