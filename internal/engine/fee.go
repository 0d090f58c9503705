package engine

import "github.com/holiman/uint256"

// FeeDenominator scales the fee rate: a rate of n means n parts per
// million of the payout.
const FeeDenominator = 1_000_000

// FeePolicy splits a gross quote into the taker payout and the pool's
// withheld fee. Implementations must preserve net + fee == gross.
type FeePolicy interface {
	Apply(gross *uint256.Int) (net, fee *uint256.Int)
}

// NoFee pays out the full quote. This is the minimal deployment variant.
type NoFee struct{}

func (NoFee) Apply(gross *uint256.Int) (net, fee *uint256.Int) {
	return new(uint256.Int).Set(gross), uint256.NewInt(0)
}

// MillionthFee withholds gross * Millionth / 1_000_000 into the pair's fee
// accumulator. Truncating division keeps the rounding remainder with the
// taker, so the fee never exceeds the nominal rate.
type MillionthFee struct {
	Millionth uint64
}

func (f MillionthFee) Apply(gross *uint256.Int) (net, fee *uint256.Int) {
	rate := uint256.NewInt(f.Millionth)
	denom := uint256.NewInt(FeeDenominator)

	// floor(g*r/d) == (g/d)*r + floor((g%d)*r/d). The decomposed form
	// cannot overflow for any 256-bit gross as long as the rate stays
	// below the denominator.
	quot, rem := new(uint256.Int), new(uint256.Int)
	quot.DivMod(gross, denom, rem)
	fee = quot.Mul(quot, rate)
	rem.Mul(rem, rate)
	rem.Div(rem, denom)
	fee.Add(fee, rem)

	net = new(uint256.Int).Sub(gross, fee)
	return net, fee
}
