// Package api exposes the market maker over HTTP. Privileged routes
// identify the caller through the X-Caller-Address header and defer the
// actual decision to the engine's authorization policy; swap and quote
// routes are open, matching the venue's on-chain semantics.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo"
	"go.uber.org/zap"

	"github.com/fahimahmedx/prop-amm/internal/amm"
	"github.com/fahimahmedx/prop-amm/internal/engine"
	"github.com/fahimahmedx/prop-amm/internal/telemetry"
)

// Server hosts the JSON API.
type Server struct {
	engine   *engine.Engine
	recorder *telemetry.Recorder
	logger   *zap.Logger
	echo     *echo.Echo
}

// NewServer builds the server and registers its routes. The recorder is
// optional; without it the volume endpoint reports not found.
func NewServer(eng *engine.Engine, recorder *telemetry.Recorder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{engine: eng, recorder: recorder, logger: logger, echo: e}

	e.POST("/v1/pairs", s.handleCreatePair)
	e.GET("/v1/pairs", s.handleListPairs)
	e.GET("/v1/pairs/:id", s.handleGetPair)
	e.POST("/v1/pairs/:id/deposit", s.handleDeposit)
	e.POST("/v1/pairs/:id/withdraw", s.handleWithdraw)
	e.POST("/v1/pairs/:id/parameters", s.handleUpdateParameters)
	e.POST("/v1/pairs/:id/unlock", s.handleUnlock)
	e.POST("/v1/pairs/:id/swap", s.handleSwap)
	e.GET("/v1/pairs/:id/quote", s.handleQuote)
	e.GET("/v1/pairs/:id/volume", s.handleVolume)

	return s
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// fail maps the core error taxonomy onto HTTP statuses. Arithmetic faults
// map to 500 with their own code so operators can tell bad configuration
// from bad luck.
func (s *Server) fail(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, amm.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, amm.ErrPairNotFound):
		status, code = http.StatusNotFound, "pair_not_found"
	case errors.Is(err, amm.ErrPairExists):
		status, code = http.StatusConflict, "pair_exists"
	case errors.Is(err, amm.ErrInvalidParameter):
		status, code = http.StatusBadRequest, "invalid_parameter"
	case errors.Is(err, amm.ErrInsufficientLiquidity):
		status, code = http.StatusConflict, "insufficient_liquidity"
	case errors.Is(err, amm.ErrPairLocked):
		status, code = http.StatusLocked, "pair_locked"
	case errors.Is(err, amm.ErrSlippageExceeded):
		status, code = http.StatusBadRequest, "slippage_exceeded"
	case errors.Is(err, amm.ErrArithmetic):
		status, code = http.StatusInternalServerError, "arithmetic_fault"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err), zap.String("path", c.Path()))
	}
	return c.JSON(status, errorBody{Code: code, Error: err.Error()})
}
