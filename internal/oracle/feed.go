// Package oracle supplies externally refreshed price multipliers. It is
// the alternative multiplier source to manual batch updates: before each
// quote the engine asks the feed for fresh (multX, multY) values and
// commits them through the regular parameter-store batch path.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/fahimahmedx/prop-amm/internal/amm"
	"github.com/fahimahmedx/prop-amm/internal/chain"
)

// Feed returns the latest multiplier pair for a trading pair.
type Feed interface {
	Multipliers(ctx context.Context, pairID common.Hash) (multX, multY *uint256.Int, err error)
}

// ScaleToMultipliers converts a feed answer (price of X quoted in Y, with
// feedDecimals fractional digits) into the engine's multiplier pair. The
// retain decimals absorb the token-granularity difference: the pair
// creation invariant guarantees yRetain - xRetain == xDecimals - yDecimals.
func ScaleToMultipliers(answer *big.Int, feedDecimals, xRetain, yRetain uint8) (multX, multY *uint256.Int, err error) {
	if answer == nil || answer.Sign() <= 0 {
		return nil, nil, fmt.Errorf("feed answer must be positive: %w", amm.ErrInvalidParameter)
	}

	multX, overflow := uint256.FromBig(answer)
	if overflow {
		return nil, nil, fmt.Errorf("feed answer exceeds 256 bits: %w", amm.ErrOverflow)
	}

	multY = pow10(uint64(feedDecimals))
	if yRetain >= xRetain {
		multY.Mul(multY, pow10(uint64(yRetain-xRetain)))
	} else {
		multX = new(uint256.Int).Mul(multX, pow10(uint64(xRetain-yRetain)))
	}
	return multX, multY, nil
}

func pow10(n uint64) *uint256.Int {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint64(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}

// Binding ties a pair to its on-chain aggregator and the retain decimals
// used to scale the answer.
type Binding struct {
	Aggregator      common.Address
	XRetainDecimals uint8
	YRetainDecimals uint8
}

// ChainFeed reads Chainlink-style aggregators over RPC.
type ChainFeed struct {
	client       *chain.Client
	bindings     map[common.Hash]Binding
	logger       *zap.Logger
	maxRetries   int
	retryBackoff time.Duration
}

func NewChainFeed(client *chain.Client, bindings map[common.Hash]Binding, logger *zap.Logger) *ChainFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainFeed{
		client:       client,
		bindings:     bindings,
		logger:       logger,
		maxRetries:   3,
		retryBackoff: 200 * time.Millisecond,
	}
}

func (f *ChainFeed) Multipliers(ctx context.Context, pairID common.Hash) (*uint256.Int, *uint256.Int, error) {
	binding, ok := f.bindings[pairID]
	if !ok {
		return nil, nil, fmt.Errorf("no aggregator bound for pair %s: %w", pairID.Hex(), amm.ErrPairNotFound)
	}

	aggABI, err := AggregatorABI()
	if err != nil {
		return nil, nil, fmt.Errorf("parse aggregator abi: %w", err)
	}

	var answer *big.Int
	var feedDecimals uint8
	err = withRetry(ctx, f.maxRetries, f.retryBackoff, func(ctx context.Context) error {
		values, err := f.call(ctx, binding.Aggregator, aggABI, "decimals")
		if err != nil {
			f.logger.Warn("aggregator decimals call failed", zap.Error(err), zap.String("aggregator", binding.Aggregator.Hex()))
			return err
		}
		dec, ok := values[0].(uint8)
		if !ok {
			return fmt.Errorf("decimals: unexpected type %T", values[0])
		}
		feedDecimals = dec

		values, err = f.call(ctx, binding.Aggregator, aggABI, "latestRoundData")
		if err != nil {
			f.logger.Warn("aggregator round call failed", zap.Error(err), zap.String("aggregator", binding.Aggregator.Hex()))
			return err
		}
		ans, ok := values[1].(*big.Int)
		if !ok {
			return fmt.Errorf("answer: unexpected type %T", values[1])
		}
		answer = ans
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return ScaleToMultipliers(answer, feedDecimals, binding.XRetainDecimals, binding.YRetainDecimals)
}

func (f *ChainFeed) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string) ([]interface{}, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := f.client.CallContract(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// StaticFeed serves fixed multipliers, for tests and offline runs.
type StaticFeed struct {
	Values map[common.Hash][2]*uint256.Int
}

func (f *StaticFeed) Multipliers(_ context.Context, pairID common.Hash) (*uint256.Int, *uint256.Int, error) {
	v, ok := f.Values[pairID]
	if !ok {
		return nil, nil, fmt.Errorf("no feed value for pair %s: %w", pairID.Hex(), amm.ErrPairNotFound)
	}
	return new(uint256.Int).Set(v[0]), new(uint256.Int).Set(v[1]), nil
}
