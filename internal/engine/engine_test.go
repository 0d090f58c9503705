package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/fahimahmedx/prop-amm/internal/amm"
	"github.com/fahimahmedx/prop-amm/internal/auth"
	"github.com/fahimahmedx/prop-amm/internal/model"
	"github.com/fahimahmedx/prop-amm/internal/pair"
	"github.com/fahimahmedx/prop-amm/internal/params"
)

var (
	owner    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	trader   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	intruder = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	weth     = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	usdc     = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
)

type captureSink struct {
	trades []model.TradeRecord
	fail   bool
}

func (s *captureSink) PutTradeBatch(batch []model.TradeRecord) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.trades = append(s.trades, batch...)
	return nil
}

func dec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// newMarket builds an engine with one funded WETH/USDC pair: 100 X, 400000
// Y, price 4000, concentration 1.
func newMarket(t *testing.T, cfg Config) (*Engine, common.Hash, *captureSink) {
	t.Helper()

	sink := &captureSink{}
	e := New(cfg, pair.NewBook(), params.NewMemoryStore(), auth.NewSingleOwner(owner), sink, zap.NewNop())

	id, err := e.CreatePair(owner, pair.Spec{
		TokenX:          weth,
		TokenY:          usdc,
		XDecimals:       18,
		YDecimals:       6,
		XRetainDecimals: 0,
		YRetainDecimals: 12,
	}, 1)
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	if err := e.UpdateParameters(owner, id, 1, uint256.NewInt(4000), dec(t, "1000000000000")); err != nil {
		t.Fatalf("set parameters: %v", err)
	}
	if err := e.Deposit(owner, id, dec(t, "100000000000000000000"), dec(t, "400000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return e, id, sink
}

func TestSwapXToYReferenceScenario(t *testing.T) {
	e, id, sink := newMarket(t, Config{})
	ctx := context.Background()
	amountIn := dec(t, "1000000000000000000")

	quoted, err := e.QuoteXToY(ctx, id, amountIn)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quoted.Locked {
		t.Fatalf("pair unexpectedly locked")
	}

	out, err := e.SwapXToY(ctx, trader, id, amountIn, nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	// Selling 1 X against 100 X of depth at price 4000 pays just under
	// 4000 Y: 4e11 - floor(4e31/1.01e20).
	if out.Dec() != "3960396040" {
		t.Fatalf("payout mismatch: %s != 3960396040", out.Dec())
	}
	if quoted.AmountOut.Cmp(out) != 0 {
		t.Fatalf("quote %s disagrees with swap %s", quoted.AmountOut.Dec(), out.Dec())
	}

	// Within 2% of the nominal 4000.000000.
	nominal := dec(t, "4000000000")
	diff := new(uint256.Int).Sub(nominal, out)
	limit := new(uint256.Int).Div(nominal, uint256.NewInt(50))
	if !diff.Lt(limit) {
		t.Fatalf("payout %s further than 2%% from nominal", out.Dec())
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReserveX != "101000000000000000000" {
		t.Fatalf("reserveX mismatch: %s", snap.ReserveX)
	}
	if snap.ReserveY != "396039603960" {
		t.Fatalf("reserveY mismatch: %s", snap.ReserveY)
	}
	if snap.TargetX != "100000000000000000000" {
		t.Fatalf("swap must not move targetX: %s", snap.TargetX)
	}

	if len(sink.trades) != 1 {
		t.Fatalf("expected 1 trade record, got %d", len(sink.trades))
	}
	trade := sink.trades[0]
	if trade.PairID != id.Hex() || trade.Caller != trader.Hex() {
		t.Fatalf("trade attribution mismatch: %+v", trade)
	}
	if trade.Direction != model.DirectionXToY {
		t.Fatalf("direction mismatch: %s", trade.Direction)
	}
	if trade.AmountIn != amountIn.Dec() || trade.AmountOut != "3960396040" || trade.FeeAmount != "0" {
		t.Fatalf("trade amounts mismatch: %+v", trade)
	}
	if trade.ParamSeq != 2 {
		t.Fatalf("param seq mismatch: %d", trade.ParamSeq)
	}
	if _, err := time.Parse(time.RFC3339, trade.ExecutedAt); err != nil {
		t.Fatalf("executed_at not RFC3339: %q", trade.ExecutedAt)
	}
}

func TestSwapYToXReferenceScenario(t *testing.T) {
	e, id, _ := newMarket(t, Config{})
	ctx := context.Background()

	out, err := e.SwapYToX(ctx, trader, id, dec(t, "4000000000"), nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Dec() != "990099009900990100" {
		t.Fatalf("payout mismatch: %s", out.Dec())
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReserveY != "404000000000" {
		t.Fatalf("reserveY mismatch: %s", snap.ReserveY)
	}
	if snap.ReserveX != "99009900990099009900" {
		t.Fatalf("reserveX mismatch: %s", snap.ReserveX)
	}
}

func TestSwapRejectsZeroAmount(t *testing.T) {
	e, id, _ := newMarket(t, Config{})
	ctx := context.Background()

	if _, err := e.SwapXToY(ctx, trader, id, uint256.NewInt(0), nil); !errors.Is(err, amm.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
	if _, err := e.SwapXToY(ctx, trader, id, nil, nil); !errors.Is(err, amm.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter for nil amount, got %v", err)
	}
}

func TestSwapUnknownPair(t *testing.T) {
	e, _, _ := newMarket(t, Config{})
	ctx := context.Background()

	ghost := common.HexToHash("0xdead")
	if _, err := e.SwapXToY(ctx, trader, ghost, uint256.NewInt(1), nil); !errors.Is(err, amm.ErrPairNotFound) {
		t.Fatalf("expected pair not found, got %v", err)
	}
}

func TestUnauthorizedAdminLeavesStateUntouched(t *testing.T) {
	e, id, _ := newMarket(t, Config{})

	before, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if err := e.Deposit(intruder, id, uint256.NewInt(1), uint256.NewInt(1)); !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized deposit, got %v", err)
	}
	if err := e.Withdraw(intruder, id, uint256.NewInt(1), nil); !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized withdraw, got %v", err)
	}
	if err := e.UpdateParameters(intruder, id, 2, uint256.NewInt(1), uint256.NewInt(1)); !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized update, got %v", err)
	}

	after, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if before != after {
		t.Fatalf("rejected operations mutated state:\n%+v\n%+v", before, after)
	}
}

func TestSlippageFloorRejectsWithoutMutation(t *testing.T) {
	e, id, sink := newMarket(t, Config{})
	ctx := context.Background()

	_, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), dec(t, "3960396041"))
	if !errors.Is(err, amm.ErrSlippageExceeded) {
		t.Fatalf("expected slippage exceeded, got %v", err)
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReserveX != "100000000000000000000" || snap.ReserveY != "400000000000" {
		t.Fatalf("failed swap moved reserves: %s/%s", snap.ReserveX, snap.ReserveY)
	}
	if len(sink.trades) != 0 {
		t.Fatalf("failed swap must not be recorded")
	}

	// The exact quote passes as its own floor.
	out, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), dec(t, "3960396040"))
	if err != nil {
		t.Fatalf("swap at floor: %v", err)
	}
	if out.Dec() != "3960396040" {
		t.Fatalf("payout mismatch: %s", out.Dec())
	}
}

func TestSwapCannotDrainOutputReserve(t *testing.T) {
	e, id, _ := newMarket(t, Config{})
	ctx := context.Background()

	// Leave almost no Y behind; the curve still quotes against targetX,
	// so a modest swap now asks for more than the reserve holds.
	if err := e.Withdraw(owner, id, nil, dec(t, "399999000000")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	_, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), nil)
	if !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReserveX != "100000000000000000000" || snap.ReserveY != "1000000" {
		t.Fatalf("rejected swap moved reserves: %s/%s", snap.ReserveX, snap.ReserveY)
	}
}

// driveToLock walks the funded pair through the drain sequence: two fair
// swaps establish a high-water mark, then a parameter cut makes the next
// attempt read 42% below it.
func driveToLock(t *testing.T, e *Engine, id common.Hash) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.SwapXToY(ctx, trader, id, dec(t, "50000000000000000000"), nil); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	if _, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), nil); err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if err := e.UpdateParameters(owner, id, 1, uint256.NewInt(100), dec(t, "1000000000000")); err != nil {
		t.Fatalf("cut multiplier: %v", err)
	}

	if _, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), nil); !errors.Is(err, amm.ErrPairLocked) {
		t.Fatalf("expected pair locked, got %v", err)
	}
}

func TestDrainAttemptLocksPair(t *testing.T) {
	e, id, sink := newMarket(t, Config{})
	ctx := context.Background()

	driveToLock(t, e, id)

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Locked {
		t.Fatalf("pair not locked")
	}
	if snap.ReserveX != "151000000000000000000" || snap.ReserveY != "264900662251" {
		t.Fatalf("rejected swap moved reserves: %s/%s", snap.ReserveX, snap.ReserveY)
	}
	if snap.TargetYPeak != "466666666666" {
		t.Fatalf("peak mismatch: %s", snap.TargetYPeak)
	}
	// Only the two fair swaps made it to the sink.
	if len(sink.trades) != 2 {
		t.Fatalf("expected 2 trade records, got %d", len(sink.trades))
	}

	// The lock is sticky until an explicit unlock.
	if _, err := e.SwapYToX(ctx, trader, id, dec(t, "1000000"), nil); !errors.Is(err, amm.ErrPairLocked) {
		t.Fatalf("lock must hold for both directions, got %v", err)
	}

	// Quotes report the lock instead of a price.
	q, err := e.QuoteXToY(ctx, id, dec(t, "1000000000000000000"))
	if err != nil {
		t.Fatalf("quote on locked pair: %v", err)
	}
	if !q.Locked || !q.AmountOut.IsZero() {
		t.Fatalf("locked quote mismatch: %+v", q)
	}

	// Withdraw still works: rescuing funds must not require an unlock.
	if err := e.Withdraw(owner, id, dec(t, "1000000000000000000"), nil); err != nil {
		t.Fatalf("withdraw from locked pair: %v", err)
	}
}

func TestUnlockRestoresTrading(t *testing.T) {
	e, id, _ := newMarket(t, Config{})
	ctx := context.Background()

	driveToLock(t, e, id)

	if err := e.Unlock(intruder, id); !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized unlock, got %v", err)
	}
	if err := e.Unlock(owner, id); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Locked || snap.TargetYPeak != "0" {
		t.Fatalf("unlock must clear lock and peak: %+v", snap)
	}

	// The reference resets, so trading resumes at the current parameters.
	if _, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), nil); err != nil {
		t.Fatalf("swap after unlock: %v", err)
	}
}

func TestQuoteDoesNotPersistObservations(t *testing.T) {
	e, id, _ := newMarket(t, Config{})
	ctx := context.Background()

	if _, err := e.QuoteXToY(ctx, id, dec(t, "1000000000000000000")); err != nil {
		t.Fatalf("quote: %v", err)
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TargetYPeak != "0" {
		t.Fatalf("view path persisted a peak: %s", snap.TargetYPeak)
	}
}

func TestMillionthFeeAccrual(t *testing.T) {
	e, id, sink := newMarket(t, Config{FeeMillionth: 1000})
	ctx := context.Background()

	out, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	// gross 3960396040, fee 0.1% truncated = 3960396.
	if out.Dec() != "3956435644" {
		t.Fatalf("net payout mismatch: %s", out.Dec())
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.FeeAccruedY != "3960396" {
		t.Fatalf("feeAccruedY mismatch: %s", snap.FeeAccruedY)
	}
	if snap.FeeAccruedX != "0" {
		t.Fatalf("feeAccruedX must stay zero on X->Y: %s", snap.FeeAccruedX)
	}
	// Reserve moves by the gross amount; the fee stays in the pool.
	if snap.ReserveY != "396039603960" {
		t.Fatalf("reserveY mismatch: %s", snap.ReserveY)
	}

	trade := sink.trades[0]
	if trade.AmountOut != "3956435644" || trade.FeeAmount != "3960396" {
		t.Fatalf("trade fee fields mismatch: %+v", trade)
	}
}

func TestSinkFailureDoesNotUnwindSwap(t *testing.T) {
	e, id, sink := newMarket(t, Config{})
	sink.fail = true
	ctx := context.Background()

	out, err := e.SwapXToY(ctx, trader, id, dec(t, "1000000000000000000"), nil)
	if err != nil {
		t.Fatalf("swap must settle despite sink failure: %v", err)
	}
	if out.Dec() != "3960396040" {
		t.Fatalf("payout mismatch: %s", out.Dec())
	}

	snap, err := e.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReserveY != "396039603960" {
		t.Fatalf("reserves must reflect the settled swap: %s", snap.ReserveY)
	}
}

type stubSource struct {
	store params.Store
	calls int
}

func (s *stubSource) Refresh(_ context.Context, id common.Hash) error {
	s.calls++
	// First refresh halves the price.
	if s.calls == 1 {
		return s.store.SetBatch(id, 1, uint256.NewInt(2000), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(12)))
	}
	return nil
}

func TestSwapRefreshesMultipliersFirst(t *testing.T) {
	book := pair.NewBook()
	store := params.NewMemoryStore()
	e := New(Config{}, book, store, auth.NewSingleOwner(owner), nil, zap.NewNop())

	id, err := e.CreatePair(owner, pair.Spec{
		TokenX:          weth,
		TokenY:          usdc,
		XDecimals:       18,
		YDecimals:       6,
		YRetainDecimals: 12,
	}, 1)
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	if err := e.UpdateParameters(owner, id, 1, uint256.NewInt(4000), dec(t, "1000000000000")); err != nil {
		t.Fatalf("set parameters: %v", err)
	}
	if err := e.Deposit(owner, id, dec(t, "100000000000000000000"), dec(t, "400000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	source := &stubSource{store: store}
	e.SetMultiplierSource(source)

	out, err := e.SwapXToY(context.Background(), trader, id, dec(t, "1000000000000000000"), nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("refresh calls: %d", source.calls)
	}
	// Priced at the refreshed 2000, not the stale 4000.
	if out.Dec() != "1980198020" {
		t.Fatalf("payout mismatch after refresh: %s", out.Dec())
	}
}

func TestCreatePairValidation(t *testing.T) {
	e, _, _ := newMarket(t, Config{})

	spec := pair.Spec{TokenX: weth, TokenY: usdc, XDecimals: 18, YDecimals: 6, YRetainDecimals: 12}

	if _, err := e.CreatePair(intruder, spec, 1); !errors.Is(err, amm.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := e.CreatePair(owner, spec, 2000); !errors.Is(err, amm.ErrInvalidParameter) {
		t.Fatalf("expected invalid concentration, got %v", err)
	}
	if _, err := e.CreatePair(owner, spec, 1); !errors.Is(err, amm.ErrPairExists) {
		t.Fatalf("expected pair exists, got %v", err)
	}

	if n := len(e.Pairs()); n != 1 {
		t.Fatalf("pair count mismatch: %d", n)
	}
}
