// Package telemetry aggregates executed trades into per-pair volume
// windows for operator dashboards. It sits behind the engine's trade sink,
// so recording costs the swap path one method call.
package telemetry

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/fahimahmedx/prop-amm/internal/model"
)

// Accumulator holds aggregate values for one pair window.
type Accumulator struct {
	PairID      string
	WindowStart int64
	WindowEnd   int64
	SwapCount   uint64
	VolumeX     *uint256.Int
	VolumeY     *uint256.Int
	FeeX        *uint256.Int
	FeeY        *uint256.Int
	LastTradeAt time.Time
}

func NewAccumulator(pairID string, windowStart, windowEnd int64) *Accumulator {
	return &Accumulator{
		PairID:      pairID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		VolumeX:     uint256.NewInt(0),
		VolumeY:     uint256.NewInt(0),
		FeeX:        uint256.NewInt(0),
		FeeY:        uint256.NewInt(0),
	}
}

// AddTrade folds one trade into the window. Volume counts the taker's
// input side; fees count the withheld side.
func (a *Accumulator) AddTrade(trade model.TradeRecord, executedAt time.Time) error {
	amountIn, err := uint256.FromDecimal(trade.AmountIn)
	if err != nil {
		return fmt.Errorf("parse amount_in: %w", err)
	}
	feeAmount, err := uint256.FromDecimal(trade.FeeAmount)
	if err != nil {
		return fmt.Errorf("parse fee_amount: %w", err)
	}

	switch trade.Direction {
	case model.DirectionXToY:
		a.VolumeX.Add(a.VolumeX, amountIn)
		a.FeeY.Add(a.FeeY, feeAmount)
	case model.DirectionYToX:
		a.VolumeY.Add(a.VolumeY, amountIn)
		a.FeeX.Add(a.FeeX, feeAmount)
	default:
		return fmt.Errorf("unknown direction %q", trade.Direction)
	}

	a.SwapCount++
	if executedAt.After(a.LastTradeAt) {
		a.LastTradeAt = executedAt
	}
	return nil
}

// Summary is the JSON view of a window.
type Summary struct {
	PairID      string `json:"pair_id"`
	WindowStart int64  `json:"window_start"`
	WindowEnd   int64  `json:"window_end"`
	SwapCount   uint64 `json:"swap_count"`
	VolumeX     string `json:"volume_x"`
	VolumeY     string `json:"volume_y"`
	FeeX        string `json:"fee_x"`
	FeeY        string `json:"fee_y"`
}

func (a *Accumulator) Summary() Summary {
	return Summary{
		PairID:      a.PairID,
		WindowStart: a.WindowStart,
		WindowEnd:   a.WindowEnd,
		SwapCount:   a.SwapCount,
		VolumeX:     a.VolumeX.Dec(),
		VolumeY:     a.VolumeY.Dec(),
		FeeX:        a.FeeX.Dec(),
		FeeY:        a.FeeY.Dec(),
	}
}
