// Package backtest implements the deterministic strategy replay engine:
// the strategy contract, order execution simulation, portfolio accounting,
// and performance metrics.
package backtest

import (
	"errors"

	"github.com/chigefeijimu/rust-trade/internal/model"
)

// Replay error taxonomy. Insufficient funds and insufficient position are
// recoverable: the order is dropped and the run continues. The rest abort
// the run.
var (
	ErrInvalidConfig        = errors.New("invalid backtest config")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrCancelled            = errors.New("backtest cancelled")
)

// Strategy is the decision contract of a backtest. Given the current data
// point and a snapshot of the portfolio, it emits zero or more orders.
//
// A strategy must be a pure function of its inputs and its own rolling
// state so that replaying identical data produces identical orders. It must
// not read shared or cross-run state.
type Strategy interface {
	// Name identifies the strategy in logs and results.
	Name() string

	// OnData is invoked once per data point in ascending timestamp order.
	// Returning an error aborts the run.
	OnData(point model.MarketDataPoint, portfolio model.Portfolio) ([]model.Order, error)
}
