// Package curve implements the bonded invariant curve quote formulas.
//
// The curve is anchored at v0 = targetX * concentration with invariant
// constant K = v0^2 * multX / multY. Both are recomputed from the inputs on
// every call, never cached, so a quote always reflects the freshest
// externally supplied parameters.
//
// All arithmetic is unsigned 256-bit with explicit overflow detection, and
// every division is floor division. Rounding the payout down on every step
// keeps the truncation error with the pool rather than the taker.
package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/fahimahmedx/prop-amm/internal/amm"
)

// Inputs carries the pair state and pricing parameters a quote is derived
// from. Reserve and target values are never mutated.
type Inputs struct {
	TargetX       *uint256.Int
	Concentration uint64
	ReserveX      *uint256.Int
	MultX         *uint256.Int
	MultY         *uint256.Int
}

// Anchor returns v0 = targetX * concentration.
func (in Inputs) Anchor() (*uint256.Int, error) {
	v0, overflow := new(uint256.Int).MulOverflow(in.TargetX, uint256.NewInt(in.Concentration))
	if overflow {
		return nil, fmt.Errorf("anchor: %w", amm.ErrOverflow)
	}
	return v0, nil
}

// Invariant returns K = v0^2 * multX / multY, truncating.
func (in Inputs) Invariant(v0 *uint256.Int) (*uint256.Int, error) {
	if in.MultY.IsZero() {
		return nil, fmt.Errorf("invariant: multY is zero: %w", amm.ErrDivisionByZero)
	}
	sq, overflow := new(uint256.Int).MulOverflow(v0, v0)
	if overflow {
		return nil, fmt.Errorf("invariant: v0^2: %w", amm.ErrOverflow)
	}
	num, overflow := sq.MulOverflow(sq, in.MultX)
	if overflow {
		return nil, fmt.Errorf("invariant: v0^2*multX: %w", amm.ErrOverflow)
	}
	return num.Div(num, in.MultY), nil
}

// LiquidityBase returns base = v0 + reserveX - targetX. A swap that has
// pushed reserveX below targetX - v0 leaves the curve unquotable; that
// condition fails fast here instead of wrapping around zero.
func (in Inputs) LiquidityBase(v0 *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(v0, in.ReserveX)
	if overflow {
		return nil, fmt.Errorf("base: v0+reserveX: %w", amm.ErrOverflow)
	}
	if sum.Lt(in.TargetX) {
		return nil, fmt.Errorf("base: reserveX below curve floor: %w", amm.ErrUnderflow)
	}
	return sum.Sub(sum, in.TargetX), nil
}

// QuoteXToY returns the Y amount paid out for amountIn of X:
//
//	amountOut = K/base - K/(base + amountIn)
//
// Strictly increasing in amountIn and bounded above by K/base. The caller
// must still verify the result against the actual Y reserve.
func QuoteXToY(in Inputs, amountIn *uint256.Int) (*uint256.Int, error) {
	k, base, err := derive(in)
	if err != nil {
		return nil, err
	}

	before := new(uint256.Int).Div(k, base)
	denom, overflow := new(uint256.Int).AddOverflow(base, amountIn)
	if overflow {
		return nil, fmt.Errorf("quote x->y: base+amountIn: %w", amm.ErrOverflow)
	}
	after := denom.Div(k, denom)

	return before.Sub(before, after), nil
}

// QuoteYToX returns the X amount paid out for amountIn of Y:
//
//	amountOut = base - K/(K/base + amountIn)
//
// Strictly increasing in amountIn and bounded above by base.
func QuoteYToX(in Inputs, amountIn *uint256.Int) (*uint256.Int, error) {
	k, base, err := derive(in)
	if err != nil {
		return nil, err
	}

	virtualY := new(uint256.Int).Div(k, base)
	denom, overflow := virtualY.AddOverflow(virtualY, amountIn)
	if overflow {
		return nil, fmt.Errorf("quote y->x: K/base+amountIn: %w", amm.ErrOverflow)
	}
	if denom.IsZero() {
		return nil, fmt.Errorf("quote y->x: empty curve: %w", amm.ErrDivisionByZero)
	}
	after := denom.Div(k, denom)
	if base.Lt(after) {
		return nil, fmt.Errorf("quote y->x: %w", amm.ErrUnderflow)
	}

	return new(uint256.Int).Sub(base, after), nil
}

// derive recomputes K and base for a quote, rejecting degenerate state.
func derive(in Inputs) (k, base *uint256.Int, err error) {
	v0, err := in.Anchor()
	if err != nil {
		return nil, nil, err
	}
	k, err = in.Invariant(v0)
	if err != nil {
		return nil, nil, err
	}
	base, err = in.LiquidityBase(v0)
	if err != nil {
		return nil, nil, err
	}
	if base.IsZero() {
		return nil, nil, fmt.Errorf("quote: pair has no deposits: %w", amm.ErrDivisionByZero)
	}
	return k, base, nil
}
