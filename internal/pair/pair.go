// Package pair holds the per-pair mutable trading state and the keyed
// collection of all pairs. Pricing parameters live in the external
// parameter store, not here; a pair record carries only reserves, the
// deposit anchor, decimal normalization, and the safety-lock fields.
package pair

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/fahimahmedx/prop-amm/internal/amm"
)

// Pair is the mutable record for one ordered token pair. X and Y are
// distinct roles, not a symmetric pair: the curve is anchored on the X
// side. Identity and token fields never change after creation.
type Pair struct {
	ID     common.Hash
	TokenX common.Address
	TokenY common.Address

	// Decimal normalization, fixed at creation:
	// decimals(tokenX) + XRetainDecimals == decimals(tokenY) + YRetainDecimals.
	XDecimals       uint8
	YDecimals       uint8
	XRetainDecimals uint8
	YRetainDecimals uint8

	ReserveX *uint256.Int
	ReserveY *uint256.Int

	// TargetX is the cumulative net X deposit. It anchors the curve and
	// moves only on deposit and withdraw, never on swap.
	TargetX *uint256.Int

	// Safety-lock state. Locked is sticky until an explicit Unlock;
	// TargetYPeak is the monotonic high-water mark of the derived target Y.
	Locked      bool
	TargetYPeak *uint256.Int

	// Fee accumulators for the fee-taking engine variant. Zero when the
	// engine runs fee-free.
	FeeAccruedX *uint256.Int
	FeeAccruedY *uint256.Int

	CreatedAt time.Time
}

// Spec is the immutable creation input for a pair.
type Spec struct {
	TokenX          common.Address
	TokenY          common.Address
	XDecimals       uint8
	YDecimals       uint8
	XRetainDecimals uint8
	YRetainDecimals uint8
}

// New validates the creation invariants and returns a fresh, unlocked pair
// with zero reserves.
func New(spec Spec, now time.Time) (*Pair, error) {
	if spec.TokenX == spec.TokenY {
		return nil, fmt.Errorf("tokenX equals tokenY: %w", amm.ErrInvalidParameter)
	}
	if int(spec.XDecimals)+int(spec.XRetainDecimals) != int(spec.YDecimals)+int(spec.YRetainDecimals) {
		return nil, fmt.Errorf("decimal normalization mismatch: %d+%d != %d+%d: %w",
			spec.XDecimals, spec.XRetainDecimals, spec.YDecimals, spec.YRetainDecimals,
			amm.ErrInvalidParameter)
	}

	return &Pair{
		ID:              ComputeID(spec.TokenX, spec.TokenY),
		TokenX:          spec.TokenX,
		TokenY:          spec.TokenY,
		XDecimals:       spec.XDecimals,
		YDecimals:       spec.YDecimals,
		XRetainDecimals: spec.XRetainDecimals,
		YRetainDecimals: spec.YRetainDecimals,
		ReserveX:        uint256.NewInt(0),
		ReserveY:        uint256.NewInt(0),
		TargetX:         uint256.NewInt(0),
		TargetYPeak:     uint256.NewInt(0),
		FeeAccruedX:     uint256.NewInt(0),
		FeeAccruedY:     uint256.NewInt(0),
		CreatedAt:       now.UTC(),
	}, nil
}

// Deposit adds liquidity on both sides and advances the curve anchor by
// the X amount. Either amount may be zero.
func (p *Pair) Deposit(amountX, amountY *uint256.Int) error {
	newReserveX, overflow := new(uint256.Int).AddOverflow(p.ReserveX, amountX)
	if overflow {
		return fmt.Errorf("deposit reserveX: %w", amm.ErrOverflow)
	}
	newReserveY, overflow := new(uint256.Int).AddOverflow(p.ReserveY, amountY)
	if overflow {
		return fmt.Errorf("deposit reserveY: %w", amm.ErrOverflow)
	}
	newTargetX, overflow := new(uint256.Int).AddOverflow(p.TargetX, amountX)
	if overflow {
		return fmt.Errorf("deposit targetX: %w", amm.ErrOverflow)
	}

	p.ReserveX = newReserveX
	p.ReserveY = newReserveY
	p.TargetX = newTargetX
	return nil
}

// Withdraw removes liquidity and retracts the anchor by the X amount. The
// market maker may withdraw from a locked pair; that is the fund-rescue
// path. TargetX decreasing below zero means the books are inconsistent and
// is reported as an arithmetic fault rather than clamped.
func (p *Pair) Withdraw(amountX, amountY *uint256.Int) error {
	if p.ReserveX.Lt(amountX) {
		return fmt.Errorf("withdraw %s X exceeds reserve %s: %w",
			amountX.Dec(), p.ReserveX.Dec(), amm.ErrInsufficientLiquidity)
	}
	if p.ReserveY.Lt(amountY) {
		return fmt.Errorf("withdraw %s Y exceeds reserve %s: %w",
			amountY.Dec(), p.ReserveY.Dec(), amm.ErrInsufficientLiquidity)
	}
	if p.TargetX.Lt(amountX) {
		return fmt.Errorf("withdraw targetX: %w", amm.ErrUnderflow)
	}

	p.ReserveX = new(uint256.Int).Sub(p.ReserveX, amountX)
	p.ReserveY = new(uint256.Int).Sub(p.ReserveY, amountY)
	p.TargetX = new(uint256.Int).Sub(p.TargetX, amountX)
	return nil
}

// Unlock clears the safety lock and resets the high-water mark so a fresh
// reference is established on the next swap attempt.
func (p *Pair) Unlock() {
	p.Locked = false
	p.TargetYPeak = uint256.NewInt(0)
}
