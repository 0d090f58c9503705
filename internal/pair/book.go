package pair

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fahimahmedx/prop-amm/internal/amm"
)

// Book is the arena of pair records, indexed by pair ID, plus the ordered
// list of known IDs for enumeration. Pairs are never deleted; a broken
// pair stays locked instead.
//
// The Book's lock covers only the index structure. Serializing mutations
// of an individual pair is the caller's job (the engine holds one lock per
// pair).
type Book struct {
	mu    sync.RWMutex
	pairs map[common.Hash]*Pair
	order []common.Hash
}

func NewBook() *Book {
	return &Book{pairs: make(map[common.Hash]*Pair)}
}

// Insert registers a freshly created pair. Both token orderings of an
// existing pair are rejected so the same two assets cannot be listed twice
// with swapped roles.
func (b *Book) Insert(p *Pair) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pairs[p.ID]; ok {
		return fmt.Errorf("pair %s: %w", p.ID.Hex(), amm.ErrPairExists)
	}
	reversed := ComputeID(p.TokenY, p.TokenX)
	if _, ok := b.pairs[reversed]; ok {
		return fmt.Errorf("pair %s exists with reversed roles: %w", p.ID.Hex(), amm.ErrPairExists)
	}

	b.pairs[p.ID] = p
	b.order = append(b.order, p.ID)
	return nil
}

// Get returns the live pair record for mutation under the caller's pair lock.
func (b *Book) Get(id common.Hash) (*Pair, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.pairs[id]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", id.Hex(), amm.ErrPairNotFound)
	}
	return p, nil
}

// List returns the pair IDs in creation order.
func (b *Book) List() []common.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]common.Hash, len(b.order))
	copy(out, b.order)
	return out
}

// Len returns the number of registered pairs.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pairs)
}
