// Package guard is the safety circuit for a trading pair: a two-state
// machine (unlocked, locked) driven by the derived target Y value. Target Y
// dropping well below its historical peak means Y reserves are draining
// disproportionately to what the declared multipliers imply, a symptom of a
// stale or manipulated price parameter. The circuit opens and stays open
// until the market maker explicitly unlocks the pair.
package guard

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/fahimahmedx/prop-amm/internal/amm"
	"github.com/fahimahmedx/prop-amm/internal/pair"
	"github.com/fahimahmedx/prop-amm/internal/params"
)

// DefaultDeviationBps is the lock threshold: 500 basis points (5.00%)
// below the high-water mark.
const DefaultDeviationBps = 500

const bpsDenominator = 10000

// Monitor evaluates the deviation metric. The zero value uses the default
// threshold.
type Monitor struct {
	// DeviationBps locks the pair once
	// (peak - targetY) * 10000 / peak exceeds it.
	DeviationBps uint64
}

// TargetY derives the implied Y-side target from current reserves and
// parameters:
//
//	targetY = (reserveX*multX + reserveY*multY - targetX*multX) / multY
//
// with the same truncating-division discipline as the curve.
func TargetY(p *pair.Pair, ps params.Parameters) (*uint256.Int, error) {
	if ps.MultY.IsZero() {
		return nil, fmt.Errorf("target y: multY is zero: %w", amm.ErrDivisionByZero)
	}

	xSide, overflow := new(uint256.Int).MulOverflow(p.ReserveX, ps.MultX)
	if overflow {
		return nil, fmt.Errorf("target y: reserveX*multX: %w", amm.ErrOverflow)
	}
	ySide, overflow := new(uint256.Int).MulOverflow(p.ReserveY, ps.MultY)
	if overflow {
		return nil, fmt.Errorf("target y: reserveY*multY: %w", amm.ErrOverflow)
	}
	sum, overflow := xSide.AddOverflow(xSide, ySide)
	if overflow {
		return nil, fmt.Errorf("target y: value sum: %w", amm.ErrOverflow)
	}
	anchor, overflow := new(uint256.Int).MulOverflow(p.TargetX, ps.MultX)
	if overflow {
		return nil, fmt.Errorf("target y: targetX*multX: %w", amm.ErrOverflow)
	}
	if sum.Lt(anchor) {
		return nil, fmt.Errorf("target y: reserves below anchor value: %w", amm.ErrUnderflow)
	}
	sum.Sub(sum, anchor)

	return sum.Div(sum, ps.MultY), nil
}

// Observe runs the lock step for one swap attempt: derive target Y, raise
// the high-water mark, trip the lock on excess deviation, and report the
// resulting state. The peak update persists even when the attempt is then
// rejected; the monitor observes every attempt, not only successful swaps.
func (m Monitor) Observe(p *pair.Pair, ps params.Parameters) error {
	targetY, err := TargetY(p, ps)
	if err != nil {
		return err
	}

	if targetY.Gt(p.TargetYPeak) {
		p.TargetYPeak = new(uint256.Int).Set(targetY)
	}

	if m.exceeded(p.TargetYPeak, targetY) {
		p.Locked = true
	}
	if p.Locked {
		return fmt.Errorf("pair %s: %w", p.ID.Hex(), amm.ErrPairLocked)
	}
	return nil
}

// exceeded reports whether targetY has fallen more than the threshold
// below peak. A zero peak means no reference exists yet; that is never a
// deviation and never a division fault.
func (m Monitor) exceeded(peak, targetY *uint256.Int) bool {
	if peak.IsZero() {
		return false
	}

	threshold := m.DeviationBps
	if threshold == 0 {
		threshold = DefaultDeviationBps
	}

	drop := new(uint256.Int).Sub(peak, targetY)
	scaled, overflow := drop.MulOverflow(drop, uint256.NewInt(bpsDenominator))
	if overflow {
		// A drop this large is far past any sane threshold.
		return true
	}
	scaled.Div(scaled, peak)
	return scaled.Gt(uint256.NewInt(threshold))
}
