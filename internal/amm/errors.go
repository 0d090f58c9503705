package amm

import (
	"errors"
	"fmt"
)

// Error taxonomy for the market maker core. Every failure a caller can
// observe wraps exactly one of these sentinels, so embedding systems can
// branch with errors.Is without parsing messages.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrPairNotFound          = errors.New("pair not found")
	ErrPairExists            = errors.New("pair already exists")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPairLocked            = errors.New("pair locked")
	ErrSlippageExceeded      = errors.New("slippage exceeded")

	// ErrArithmetic covers division by zero, underflow, and 256-bit
	// overflow. It signals a misconfigured pair or an exhausted curve,
	// not caller error, and is surfaced distinctly for that reason.
	ErrArithmetic = errors.New("arithmetic fault")
)

// Specific arithmetic faults. All satisfy errors.Is(err, ErrArithmetic).
var (
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrArithmetic)
	ErrUnderflow      = fmt.Errorf("%w: underflow", ErrArithmetic)
	ErrOverflow       = fmt.Errorf("%w: overflow", ErrArithmetic)
)
