package api

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/labstack/echo"

	"github.com/fahimahmedx/prop-amm/internal/amm"
	"github.com/fahimahmedx/prop-amm/internal/engine"
	"github.com/fahimahmedx/prop-amm/internal/model"
	"github.com/fahimahmedx/prop-amm/internal/pair"
)

const callerHeader = "X-Caller-Address"

func callerAddress(c echo.Context) (common.Address, error) {
	raw := c.Request().Header.Get(callerHeader)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("missing or malformed %s header: %w", callerHeader, amm.ErrUnauthorized)
	}
	return common.HexToAddress(raw), nil
}

func pairID(c echo.Context) (common.Hash, error) {
	raw := c.Param("id")
	if len(raw) != 66 || raw[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("malformed pair id %q: %w", raw, amm.ErrInvalidParameter)
	}
	return common.HexToHash(raw), nil
}

// parseAmount reads a decimal string amount; empty means zero.
func parseAmount(field, raw string) (*uint256.Int, error) {
	if raw == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", field, err, amm.ErrInvalidParameter)
	}
	return v, nil
}

type createPairRequest struct {
	TokenX          string `json:"token_x"`
	TokenY          string `json:"token_y"`
	XDecimals       uint8  `json:"x_decimals"`
	YDecimals       uint8  `json:"y_decimals"`
	XRetainDecimals uint8  `json:"x_retain_decimals"`
	YRetainDecimals uint8  `json:"y_retain_decimals"`
	Concentration   uint64 `json:"concentration"`
}

func (s *Server) handleCreatePair(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req createPairRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("decode body: %v: %w", err, amm.ErrInvalidParameter))
	}
	if !common.IsHexAddress(req.TokenX) || !common.IsHexAddress(req.TokenY) {
		return s.fail(c, fmt.Errorf("token addresses must be hex: %w", amm.ErrInvalidParameter))
	}

	id, err := s.engine.CreatePair(caller, pair.Spec{
		TokenX:          common.HexToAddress(req.TokenX),
		TokenY:          common.HexToAddress(req.TokenY),
		XDecimals:       req.XDecimals,
		YDecimals:       req.YDecimals,
		XRetainDecimals: req.XRetainDecimals,
		YRetainDecimals: req.YRetainDecimals,
	}, req.Concentration)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]string{"pair_id": id.Hex()})
}

func (s *Server) handleListPairs(c echo.Context) error {
	ids := s.engine.Pairs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return c.JSON(http.StatusOK, map[string][]string{"pairs": out})
}

func (s *Server) handleGetPair(c echo.Context) error {
	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}
	snap, err := s.engine.Snapshot(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type liquidityRequest struct {
	AmountX string `json:"amount_x"`
	AmountY string `json:"amount_y"`
}

func (s *Server) handleDeposit(c echo.Context) error {
	return s.handleLiquidity(c, s.engine.Deposit)
}

func (s *Server) handleWithdraw(c echo.Context) error {
	return s.handleLiquidity(c, s.engine.Withdraw)
}

func (s *Server) handleLiquidity(c echo.Context, op func(common.Address, common.Hash, *uint256.Int, *uint256.Int) error) error {
	caller, err := callerAddress(c)
	if err != nil {
		return s.fail(c, err)
	}
	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req liquidityRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("decode body: %v: %w", err, amm.ErrInvalidParameter))
	}
	amountX, err := parseAmount("amount_x", req.AmountX)
	if err != nil {
		return s.fail(c, err)
	}
	amountY, err := parseAmount("amount_y", req.AmountY)
	if err != nil {
		return s.fail(c, err)
	}

	if err := op(caller, id, amountX, amountY); err != nil {
		return s.fail(c, err)
	}

	snap, err := s.engine.Snapshot(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type parametersRequest struct {
	Concentration uint64 `json:"concentration"`
	MultX         string `json:"mult_x"`
	MultY         string `json:"mult_y"`
}

func (s *Server) handleUpdateParameters(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return s.fail(c, err)
	}
	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req parametersRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("decode body: %v: %w", err, amm.ErrInvalidParameter))
	}
	multX, err := parseAmount("mult_x", req.MultX)
	if err != nil {
		return s.fail(c, err)
	}
	multY, err := parseAmount("mult_y", req.MultY)
	if err != nil {
		return s.fail(c, err)
	}

	if err := s.engine.UpdateParameters(caller, id, req.Concentration, multX, multY); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUnlock(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return s.fail(c, err)
	}
	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}

	if err := s.engine.Unlock(caller, id); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type swapRequest struct {
	Direction string `json:"direction"`
	AmountIn  string `json:"amount_in"`
	MinOut    string `json:"min_out"`
}

type swapResponse struct {
	AmountOut string `json:"amount_out"`
	Direction string `json:"direction"`
}

func (s *Server) handleSwap(c echo.Context) error {
	// Swaps are open; the caller address only labels the trade record.
	// An absent header trades anonymously.
	caller := common.Address{}
	if raw := c.Request().Header.Get(callerHeader); common.IsHexAddress(raw) {
		caller = common.HexToAddress(raw)
	}

	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req swapRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("decode body: %v: %w", err, amm.ErrInvalidParameter))
	}
	amountIn, err := parseAmount("amount_in", req.AmountIn)
	if err != nil {
		return s.fail(c, err)
	}
	minOut, err := parseAmount("min_out", req.MinOut)
	if err != nil {
		return s.fail(c, err)
	}

	var out *uint256.Int
	switch req.Direction {
	case model.DirectionXToY:
		out, err = s.engine.SwapXToY(c.Request().Context(), caller, id, amountIn, minOut)
	case model.DirectionYToX:
		out, err = s.engine.SwapYToX(c.Request().Context(), caller, id, amountIn, minOut)
	default:
		return s.fail(c, fmt.Errorf("direction must be %s or %s: %w",
			model.DirectionXToY, model.DirectionYToX, amm.ErrInvalidParameter))
	}
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, swapResponse{AmountOut: out.Dec(), Direction: req.Direction})
}

type quoteResponse struct {
	AmountOut string `json:"amount_out"`
	Locked    bool   `json:"locked"`
	ParamSeq  uint64 `json:"param_seq"`
}

func (s *Server) handleQuote(c echo.Context) error {
	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}
	amountIn, err := parseAmount("amount_in", c.QueryParam("amount_in"))
	if err != nil {
		return s.fail(c, err)
	}

	var quote engine.Quote
	switch c.QueryParam("direction") {
	case model.DirectionXToY:
		quote, err = s.engine.QuoteXToY(c.Request().Context(), id, amountIn)
	case model.DirectionYToX:
		quote, err = s.engine.QuoteYToX(c.Request().Context(), id, amountIn)
	default:
		return s.fail(c, fmt.Errorf("direction must be %s or %s: %w",
			model.DirectionXToY, model.DirectionYToX, amm.ErrInvalidParameter))
	}
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, quoteResponse{
		AmountOut: quote.AmountOut.Dec(),
		Locked:    quote.Locked,
		ParamSeq:  quote.ParamSeq,
	})
}

func (s *Server) handleVolume(c echo.Context) error {
	id, err := pairID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if s.recorder == nil {
		return s.fail(c, fmt.Errorf("volume telemetry disabled: %w", amm.ErrPairNotFound))
	}
	if _, err := s.engine.Snapshot(id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"pair_id": id.Hex(),
		"windows": s.recorder.Windows(id.Hex()),
	})
}
