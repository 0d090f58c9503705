// Package engine orchestrates the market maker: privileged pair
// administration on one side, open swap and quote execution on the other.
// Every public operation applies atomically against a pair; the one
// documented exception is the safety monitor's high-water mark, which
// persists its observation even when the swap attempt is then rejected.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/fahimahmedx/prop-amm/internal/amm"
	"github.com/fahimahmedx/prop-amm/internal/auth"
	"github.com/fahimahmedx/prop-amm/internal/curve"
	"github.com/fahimahmedx/prop-amm/internal/guard"
	"github.com/fahimahmedx/prop-amm/internal/model"
	"github.com/fahimahmedx/prop-amm/internal/pair"
	"github.com/fahimahmedx/prop-amm/internal/params"
	"github.com/fahimahmedx/prop-amm/internal/storage"
)

// MultiplierSource refreshes the committed multipliers for a pair ahead of
// a quote. The manual deployment leaves this nil; the oracle-fed variant
// plugs in a feed-backed implementation.
type MultiplierSource interface {
	Refresh(ctx context.Context, pairID common.Hash) error
}

// Config holds engine-level settings.
type Config struct {
	// FeeMillionth is the payout fee in parts per million. Zero runs the
	// fee-free variant.
	FeeMillionth uint64
	// DeviationBps overrides the lock threshold. Zero keeps the default.
	DeviationBps uint64
}

// Engine wires the pair book, parameter store, authorization policy,
// safety monitor, and trade sink into the operation set callers see.
type Engine struct {
	book    *pair.Book
	store   params.Store
	policy  auth.Policy
	monitor guard.Monitor
	fee     FeePolicy
	source  MultiplierSource
	trades  storage.TradeSink
	logger  *zap.Logger
	clock   func() time.Time

	mu     sync.Mutex
	pairMu map[common.Hash]*sync.Mutex
}

// New builds an Engine with its dependencies.
func New(cfg Config, book *pair.Book, store params.Store, policy auth.Policy, trades storage.TradeSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fee FeePolicy = NoFee{}
	if cfg.FeeMillionth > 0 {
		fee = MillionthFee{Millionth: cfg.FeeMillionth}
	}
	return &Engine{
		book:    book,
		store:   store,
		policy:  policy,
		monitor: guard.Monitor{DeviationBps: cfg.DeviationBps},
		fee:     fee,
		trades:  trades,
		logger:  logger,
		clock:   time.Now,
		pairMu:  make(map[common.Hash]*sync.Mutex),
	}
}

// SetMultiplierSource installs the oracle-fed multiplier variant.
func (e *Engine) SetMultiplierSource(source MultiplierSource) {
	e.source = source
}

// WithClock overrides the engine clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// lockPair returns the serialization lock for one pair, creating it on
// first use. Operations on distinct pairs proceed in parallel.
func (e *Engine) lockPair(id common.Hash) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	mu, ok := e.pairMu[id]
	if !ok {
		mu = &sync.Mutex{}
		e.pairMu[id] = mu
	}
	return mu
}

// CreatePair registers a new pair and commits its initial parameter batch
// (concentration, 0, 0). The multipliers stay zero, and the pair
// unquotable, until the market maker sets them.
func (e *Engine) CreatePair(caller common.Address, spec pair.Spec, concentration uint64) (common.Hash, error) {
	if err := e.policy.Authorize(caller, auth.OpCreatePair); err != nil {
		return common.Hash{}, err
	}
	if err := params.ValidateConcentration(concentration); err != nil {
		return common.Hash{}, err
	}

	p, err := pair.New(spec, e.clock())
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.book.Insert(p); err != nil {
		return common.Hash{}, err
	}
	if err := e.store.SetBatch(p.ID, concentration, uint256.NewInt(0), uint256.NewInt(0)); err != nil {
		return common.Hash{}, fmt.Errorf("initialize parameters: %w", err)
	}

	e.logger.Info("pair created",
		zap.String("pair_id", p.ID.Hex()),
		zap.String("token_x", spec.TokenX.Hex()),
		zap.String("token_y", spec.TokenY.Hex()),
		zap.Uint64("concentration", concentration),
	)
	return p.ID, nil
}

// Deposit adds liquidity to both sides of a pair.
func (e *Engine) Deposit(caller common.Address, id common.Hash, amountX, amountY *uint256.Int) error {
	if err := e.policy.Authorize(caller, auth.OpDeposit); err != nil {
		return err
	}
	p, err := e.book.Get(id)
	if err != nil {
		return err
	}

	mu := e.lockPair(id)
	mu.Lock()
	defer mu.Unlock()

	if err := p.Deposit(orZero(amountX), orZero(amountY)); err != nil {
		return err
	}
	e.logger.Info("deposit",
		zap.String("pair_id", id.Hex()),
		zap.String("amount_x", orZero(amountX).Dec()),
		zap.String("amount_y", orZero(amountY).Dec()),
	)
	return nil
}

// Withdraw removes liquidity. It works on locked pairs as well; rescuing
// funds from a tripped pair must not require unlocking it first.
func (e *Engine) Withdraw(caller common.Address, id common.Hash, amountX, amountY *uint256.Int) error {
	if err := e.policy.Authorize(caller, auth.OpWithdraw); err != nil {
		return err
	}
	p, err := e.book.Get(id)
	if err != nil {
		return err
	}

	mu := e.lockPair(id)
	mu.Lock()
	defer mu.Unlock()

	if err := p.Withdraw(orZero(amountX), orZero(amountY)); err != nil {
		return err
	}
	e.logger.Info("withdraw",
		zap.String("pair_id", id.Hex()),
		zap.String("amount_x", orZero(amountX).Dec()),
		zap.String("amount_y", orZero(amountY).Dec()),
	)
	return nil
}

// UpdateParameters commits a new (concentration, multX, multY) batch for
// the pair. The batch becomes visible to swaps atomically.
func (e *Engine) UpdateParameters(caller common.Address, id common.Hash, concentration uint64, multX, multY *uint256.Int) error {
	if err := e.policy.Authorize(caller, auth.OpUpdateParameters); err != nil {
		return err
	}
	if _, err := e.book.Get(id); err != nil {
		return err
	}
	if multX == nil || multY == nil {
		return fmt.Errorf("nil multiplier: %w", amm.ErrInvalidParameter)
	}

	if err := e.store.SetBatch(id, concentration, multX, multY); err != nil {
		return err
	}
	e.logger.Info("parameters updated",
		zap.String("pair_id", id.Hex()),
		zap.Uint64("concentration", concentration),
		zap.String("mult_x", multX.Dec()),
		zap.String("mult_y", multY.Dec()),
	)
	return nil
}

// Unlock clears the safety lock after the market maker has confirmed the
// deviation was benign or corrected the parameters.
func (e *Engine) Unlock(caller common.Address, id common.Hash) error {
	if err := e.policy.Authorize(caller, auth.OpUnlock); err != nil {
		return err
	}
	p, err := e.book.Get(id)
	if err != nil {
		return err
	}

	mu := e.lockPair(id)
	mu.Lock()
	defer mu.Unlock()

	p.Unlock()
	e.logger.Info("pair unlocked", zap.String("pair_id", id.Hex()))
	return nil
}

// SwapXToY trades amountIn of X for Y. Returns the amount paid out.
func (e *Engine) SwapXToY(ctx context.Context, caller common.Address, id common.Hash, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	return e.swap(ctx, caller, id, amountIn, minOut, model.DirectionXToY)
}

// SwapYToX trades amountIn of Y for X. Returns the amount paid out.
func (e *Engine) SwapYToX(ctx context.Context, caller common.Address, id common.Hash, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	return e.swap(ctx, caller, id, amountIn, minOut, model.DirectionYToX)
}

func (e *Engine) swap(ctx context.Context, caller common.Address, id common.Hash, amountIn, minOut *uint256.Int, direction string) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, fmt.Errorf("swap amount must be positive: %w", amm.ErrInvalidParameter)
	}
	p, err := e.book.Get(id)
	if err != nil {
		return nil, err
	}
	if err := e.refresh(ctx, id); err != nil {
		return nil, err
	}

	mu := e.lockPair(id)
	mu.Lock()
	defer mu.Unlock()

	ps, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}

	// The monitor observes every attempt. Its peak update survives a
	// rejected swap; nothing else below mutates state until all checks
	// have passed.
	if err := e.monitor.Observe(p, ps); err != nil {
		return nil, err
	}

	gross, err := e.quoteLocked(p, ps, amountIn, direction)
	if err != nil {
		return nil, err
	}
	net, feeAmount := e.fee.Apply(gross)

	floor := orZero(minOut)
	if net.Lt(floor) {
		return nil, fmt.Errorf("payout %s below floor %s: %w", net.Dec(), floor.Dec(), amm.ErrSlippageExceeded)
	}

	if err := e.apply(p, amountIn, gross, feeAmount, direction); err != nil {
		return nil, err
	}

	e.record(model.TradeRecord{
		PairID:     id.Hex(),
		Caller:     caller.Hex(),
		Direction:  direction,
		AmountIn:   amountIn.Dec(),
		AmountOut:  net.Dec(),
		FeeAmount:  feeAmount.Dec(),
		ParamSeq:   ps.Seq,
		ExecutedAt: e.clock().UTC().Format(time.RFC3339),
	})

	e.logger.Info("swap executed",
		zap.String("pair_id", id.Hex()),
		zap.String("direction", direction),
		zap.String("amount_in", amountIn.Dec()),
		zap.String("amount_out", net.Dec()),
		zap.Uint64("param_seq", ps.Seq),
	)
	return net, nil
}

// quoteLocked computes the gross curve quote for one direction. Caller
// holds the pair lock.
func (e *Engine) quoteLocked(p *pair.Pair, ps params.Parameters, amountIn *uint256.Int, direction string) (*uint256.Int, error) {
	in := curve.Inputs{
		TargetX:       p.TargetX,
		Concentration: ps.Concentration,
		ReserveX:      p.ReserveX,
		MultX:         ps.MultX,
		MultY:         ps.MultY,
	}
	if direction == model.DirectionXToY {
		return curve.QuoteXToY(in, amountIn)
	}
	return curve.QuoteYToX(in, amountIn)
}

// apply moves the reserves for a checked swap. A swap may never fully
// drain the output reserve, so the gross amount must stay strictly below
// it.
func (e *Engine) apply(p *pair.Pair, amountIn, gross, feeAmount *uint256.Int, direction string) error {
	if direction == model.DirectionXToY {
		if !gross.Lt(p.ReserveY) {
			return fmt.Errorf("output %s >= reserveY %s: %w", gross.Dec(), p.ReserveY.Dec(), amm.ErrInsufficientLiquidity)
		}
		newReserveX, overflow := new(uint256.Int).AddOverflow(p.ReserveX, amountIn)
		if overflow {
			return fmt.Errorf("swap reserveX: %w", amm.ErrOverflow)
		}
		p.ReserveX = newReserveX
		p.ReserveY = new(uint256.Int).Sub(p.ReserveY, gross)
		p.FeeAccruedY = new(uint256.Int).Add(p.FeeAccruedY, feeAmount)
		return nil
	}

	if !gross.Lt(p.ReserveX) {
		return fmt.Errorf("output %s >= reserveX %s: %w", gross.Dec(), p.ReserveX.Dec(), amm.ErrInsufficientLiquidity)
	}
	newReserveY, overflow := new(uint256.Int).AddOverflow(p.ReserveY, amountIn)
	if overflow {
		return fmt.Errorf("swap reserveY: %w", amm.ErrOverflow)
	}
	p.ReserveY = newReserveY
	p.ReserveX = new(uint256.Int).Sub(p.ReserveX, gross)
	p.FeeAccruedX = new(uint256.Int).Add(p.FeeAccruedX, feeAmount)
	return nil
}

// Quote is the view-only pricing result. A locked pair reports Locked with
// a zero amount instead of a number a caller might mistake for executable.
type Quote struct {
	AmountOut *uint256.Int
	Locked    bool
	ParamSeq  uint64
}

// QuoteXToY prices a hypothetical X->Y swap without mutating anything.
func (e *Engine) QuoteXToY(ctx context.Context, id common.Hash, amountIn *uint256.Int) (Quote, error) {
	return e.quote(ctx, id, amountIn, model.DirectionXToY)
}

// QuoteYToX prices a hypothetical Y->X swap without mutating anything.
func (e *Engine) QuoteYToX(ctx context.Context, id common.Hash, amountIn *uint256.Int) (Quote, error) {
	return e.quote(ctx, id, amountIn, model.DirectionYToX)
}

func (e *Engine) quote(ctx context.Context, id common.Hash, amountIn *uint256.Int, direction string) (Quote, error) {
	if amountIn == nil || amountIn.IsZero() {
		return Quote{}, fmt.Errorf("quote amount must be positive: %w", amm.ErrInvalidParameter)
	}
	p, err := e.book.Get(id)
	if err != nil {
		return Quote{}, err
	}
	if err := e.refresh(ctx, id); err != nil {
		return Quote{}, err
	}

	mu := e.lockPair(id)
	mu.Lock()
	defer mu.Unlock()

	ps, err := e.store.Get(id)
	if err != nil {
		return Quote{}, err
	}

	locked, err := e.wouldLock(p, ps)
	if err != nil {
		return Quote{}, err
	}
	if locked {
		return Quote{AmountOut: uint256.NewInt(0), Locked: true, ParamSeq: ps.Seq}, nil
	}

	out, err := e.quoteLocked(p, ps, amountIn, direction)
	if err != nil {
		return Quote{}, err
	}
	return Quote{AmountOut: out, Locked: false, ParamSeq: ps.Seq}, nil
}

// wouldLock runs the monitor's deviation check against a scratch copy of
// the lock fields so the view path persists nothing.
func (e *Engine) wouldLock(p *pair.Pair, ps params.Parameters) (bool, error) {
	if p.Locked {
		return true, nil
	}
	scratch := *p
	scratch.TargetYPeak = new(uint256.Int).Set(p.TargetYPeak)
	err := e.monitor.Observe(&scratch, ps)
	if err == nil {
		return false, nil
	}
	if scratch.Locked {
		return true, nil
	}
	return false, err
}

// Snapshot renders the current pair state.
func (e *Engine) Snapshot(id common.Hash) (model.PairSnapshot, error) {
	p, err := e.book.Get(id)
	if err != nil {
		return model.PairSnapshot{}, err
	}

	mu := e.lockPair(id)
	mu.Lock()
	defer mu.Unlock()

	return model.PairSnapshot{
		PairID:          p.ID.Hex(),
		TokenX:          p.TokenX.Hex(),
		TokenY:          p.TokenY.Hex(),
		XDecimals:       p.XDecimals,
		YDecimals:       p.YDecimals,
		XRetainDecimals: p.XRetainDecimals,
		YRetainDecimals: p.YRetainDecimals,
		ReserveX:        p.ReserveX.Dec(),
		ReserveY:        p.ReserveY.Dec(),
		TargetX:         p.TargetX.Dec(),
		Locked:          p.Locked,
		TargetYPeak:     p.TargetYPeak.Dec(),
		FeeAccruedX:     p.FeeAccruedX.Dec(),
		FeeAccruedY:     p.FeeAccruedY.Dec(),
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}, nil
}

// Pairs lists known pair IDs in creation order.
func (e *Engine) Pairs() []common.Hash {
	return e.book.List()
}

func (e *Engine) refresh(ctx context.Context, id common.Hash) error {
	if e.source == nil {
		return nil
	}
	if err := e.source.Refresh(ctx, id); err != nil {
		return fmt.Errorf("refresh multipliers: %w", err)
	}
	return nil
}

// record hands a trade to the sink. Sink failures are logged, not
// propagated: the swap has already settled and must stay settled.
func (e *Engine) record(trade model.TradeRecord) {
	if e.trades == nil {
		return
	}
	if err := e.trades.PutTradeBatch([]model.TradeRecord{trade}); err != nil {
		e.logger.Error("store trade record failed", zap.Error(err), zap.String("pair_id", trade.PairID))
	}
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
