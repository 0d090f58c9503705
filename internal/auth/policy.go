// Package auth is the capability gate in front of the privileged pair
// operations. The core never hardcodes an owner check; it asks an injected
// Policy.
package auth

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fahimahmedx/prop-amm/internal/amm"
)

// Op names a gated operation.
type Op string

const (
	OpCreatePair       Op = "create_pair"
	OpDeposit          Op = "deposit"
	OpWithdraw         Op = "withdraw"
	OpUpdateParameters Op = "update_parameters"
	OpUnlock           Op = "unlock"
)

// Policy decides whether a caller may perform a privileged operation.
// Swaps and quotes are open and never consult the policy.
type Policy interface {
	Authorize(caller common.Address, op Op) error
}

// SingleOwner grants every privileged operation to exactly one address.
// The owner can be replaced administratively via TransferOwner.
type SingleOwner struct {
	mu    sync.RWMutex
	owner common.Address
}

func NewSingleOwner(owner common.Address) *SingleOwner {
	return &SingleOwner{owner: owner}
}

func (p *SingleOwner) Authorize(caller common.Address, op Op) error {
	p.mu.RLock()
	owner := p.owner
	p.mu.RUnlock()

	if caller != owner {
		return fmt.Errorf("%s by %s: %w", op, caller.Hex(), amm.ErrUnauthorized)
	}
	return nil
}

// TransferOwner hands the capability to a new address. Only the current
// owner may do so.
func (p *SingleOwner) TransferOwner(caller, next common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return fmt.Errorf("transfer owner by %s: %w", caller.Hex(), amm.ErrUnauthorized)
	}
	p.owner = next
	return nil
}

// Owner returns the current privileged address.
func (p *SingleOwner) Owner() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

var _ Policy = (*SingleOwner)(nil)
