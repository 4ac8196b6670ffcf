package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State describes where an engine is in its run lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// DataSource supplies the historical sequence the engine replays. The
// market data manager satisfies this.
type DataSource interface {
	Query(ctx context.Context, symbol string, start, end time.Time) ([]model.MarketDataPoint, error)
}

// Engine replays historical data through a strategy, executing the emitted
// orders against a simulated portfolio and sampling the equity curve.
//
// An engine performs one run at a time. Independent runs on separate
// engines may execute concurrently; they share only read access to the data
// source.
type Engine struct {
	data   DataSource
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// NewEngine creates an idle engine over the given data source.
func NewEngine(data DataSource, logger *zap.Logger) *Engine {
	return &Engine{
		data:   data,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run validates the config, replays the window through the strategy and
// returns the resulting performance report.
//
// The replay loop is strictly sequential: orders for point t are executed
// before point t+1 is presented. Cancellation is checked between
// iterations; a cancelled run fails with ErrCancelled. When the config asks
// for partial results, a failed run still returns what was accumulated.
func (e *Engine) Run(ctx context.Context, strategy Strategy, cfg model.BacktestConfig) (*model.BacktestResult, error) {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return nil, errors.New("engine is already running")
	}
	e.state = StateRunning
	e.mu.Unlock()

	result, err := e.run(ctx, strategy, cfg)
	if err != nil {
		e.setState(StateFailed)
		return result, err
	}
	e.setState(StateCompleted)
	return result, nil
}

func (e *Engine) run(ctx context.Context, strategy Strategy, cfg model.BacktestConfig) (*model.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e.logger.Info("starting backtest",
		zap.String("strategy", strategy.Name()),
		zap.String("symbol", cfg.Symbol),
		zap.Time("start", cfg.StartTime),
		zap.Time("end", cfg.EndTime))

	points, err := e.data.Query(ctx, cfg.Symbol, cfg.StartTime, cfg.EndTime)
	if err != nil {
		return nil, err
	}

	e.logger.Info("loaded historical data", zap.Int("points", len(points)))

	portfolio := model.Portfolio{Cash: cfg.InitialCapital}
	executor := NewOrderExecutor(cfg.CommissionRate, e.logger)

	trades := make([]model.Trade, 0)
	equity := make([]model.EquityPoint, 0, len(points))
	var rejections []model.OrderRejection

	partial := func() *model.BacktestResult {
		if !cfg.KeepPartial {
			return nil
		}
		res := computeResult(trades, equity, rejections, cfg.InitialCapital)
		return res
	}

	for _, point := range points {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("backtest cancelled",
				zap.String("symbol", cfg.Symbol),
				zap.Int("trades", len(trades)))
			return partial(), fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		orders, err := strategy.OnData(point, portfolio)
		if err != nil {
			return partial(), fmt.Errorf("strategy %s failed at %s: %w",
				strategy.Name(), point.Timestamp.Format(time.RFC3339), err)
		}

		for _, order := range orders {
			trade, err := executor.Execute(order, point, &portfolio)
			if err != nil {
				if recoverable(err) {
					rejections = append(rejections, model.OrderRejection{
						Order:  order,
						Reason: err.Error(),
					})
					e.logger.Debug("order rejected", zap.Error(err))
					continue
				}
				return partial(), err
			}
			trades = append(trades, trade)
		}

		equity = append(equity, model.EquityPoint{
			Timestamp: point.Timestamp,
			Value:     portfolio.Value(point.Close),
		})
	}

	result := computeResult(trades, equity, rejections, cfg.InitialCapital)

	e.logger.Info("backtest completed",
		zap.String("total_return", result.TotalReturn.String()),
		zap.Int("total_trades", result.TotalTrades),
		zap.Int("rejected_orders", len(rejections)))

	return result, nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// recoverable reports whether an execution failure drops the order but
// lets the run continue.
func recoverable(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientPosition) ||
		errors.Is(err, ErrInvalidOrder)
}

func computeResult(trades []model.Trade, equity []model.EquityPoint, rejections []model.OrderRejection, initialCapital decimal.Decimal) *model.BacktestResult {
	metrics := ComputeMetrics(trades, equity, initialCapital)
	return &model.BacktestResult{
		TotalReturn:         metrics.TotalReturn,
		TotalTrades:         metrics.TotalTrades,
		WinningTrades:       metrics.WinningTrades,
		LosingTrades:        metrics.LosingTrades,
		WinRate:             metrics.WinRate,
		ProfitFactor:        metrics.ProfitFactor,
		AvgProfitPerTrade:   metrics.AvgProfitPerTrade,
		SharpeRatio:         metrics.SharpeRatio,
		SortinoRatio:        metrics.SortinoRatio,
		MaxDrawdown:         metrics.MaxDrawdown,
		MaxDrawdownDuration: metrics.MaxDrawdownDuration,
		TotalCommission:     metrics.TotalCommission,
		TotalVolume:         metrics.TotalVolume,
		Trades:              trades,
		EquityCurve:         equity,
		Rejections:          rejections,
	}
}
