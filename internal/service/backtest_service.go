package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/backtest"
	"github.com/chigefeijimu/rust-trade/internal/marketdata"
	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Strategy types accepted by the invocation surface.
const (
	StrategyTypeSMACross = "sma_cross"
)

// SMA cross parameter defaults, used when the request omits them.
const (
	defaultShortPeriod  = 5
	defaultLongPeriod   = 20
	defaultPositionFrac = "0.5"
)

// BacktestRequest is the invocation surface consumed by CLI and API
// collaborators. Decimal fields travel as strings to preserve precision.
// Either end_time or days must be set; days counts back from now.
type BacktestRequest struct {
	StrategyType       string            `json:"strategy_type"`
	Symbol             string            `json:"symbol"`
	StartTime          *time.Time        `json:"start_time,omitempty"`
	EndTime            *time.Time        `json:"end_time,omitempty"`
	Days               int               `json:"days,omitempty"`
	InitialCapital     string            `json:"initial_capital"`
	CommissionRate     string            `json:"commission_rate"`
	StrategyParameters map[string]string `json:"strategy_parameters,omitempty"`
	KeepPartial        bool              `json:"keep_partial,omitempty"`
}

// TradeResponse is the wire form of a single trade.
type TradeResponse struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Commission string    `json:"commission"`
}

// EquityPointResponse is the wire form of one equity curve sample.
type EquityPointResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
}

// BacktestResponse is the wire form of a completed run.
type BacktestResponse struct {
	TotalReturn       string  `json:"total_return"`
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRate           string  `json:"win_rate"`
	ProfitFactor      string  `json:"profit_factor"`
	AvgProfitPerTrade string  `json:"avg_profit_per_trade"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`

	MaxDrawdown                string `json:"max_drawdown"`
	MaxDrawdownDurationSeconds int64  `json:"max_drawdown_duration_seconds"`

	TotalCommission string `json:"total_commission"`
	TotalVolume     string `json:"total_volume"`
	RejectedOrders  int    `json:"rejected_orders"`

	Trades      []TradeResponse       `json:"trades"`
	EquityCurve []EquityPointResponse `json:"equity_curve"`
}

// BacktestService handles backtest invocations: it resolves the requested
// strategy, runs the engine over the manager's data and converts the result
// to its wire form.
type BacktestService struct {
	manager *marketdata.Manager
	logger  *zap.Logger
}

// NewBacktestService creates a new backtest service
func NewBacktestService(manager *marketdata.Manager, logger *zap.Logger) *BacktestService {
	return &BacktestService{
		manager: manager,
		logger:  logger,
	}
}

// RunBacktest executes one backtest run for the request. Each invocation
// uses a fresh engine, portfolio and strategy, so concurrent invocations
// only share read access to the market data manager.
func (s *BacktestService) RunBacktest(ctx context.Context, req *BacktestRequest) (*BacktestResponse, error) {
	cfg, err := s.buildConfig(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backtest.ErrInvalidConfig, err)
	}

	strategy, err := s.buildStrategy(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backtest.ErrInvalidConfig, err)
	}

	engine := backtest.NewEngine(s.manager, s.logger)
	result, err := engine.Run(ctx, strategy, cfg)
	if err != nil {
		if result != nil {
			// Partial result requested and available despite the failure.
			return toResponse(result), err
		}
		return nil, err
	}

	return toResponse(result), nil
}

func (s *BacktestService) buildConfig(req *BacktestRequest) (model.BacktestConfig, error) {
	var cfg model.BacktestConfig

	if req.Symbol == "" {
		return cfg, errors.New("symbol is required")
	}

	end := time.Now().UTC()
	if req.EndTime != nil {
		end = *req.EndTime
	}
	var start time.Time
	switch {
	case req.StartTime != nil:
		start = *req.StartTime
	case req.Days > 0:
		start = end.AddDate(0, 0, -req.Days)
	default:
		return cfg, errors.New("either start_time or days is required")
	}

	capital, err := decimal.NewFromString(req.InitialCapital)
	if err != nil {
		return cfg, fmt.Errorf("invalid initial_capital %q: %v", req.InitialCapital, err)
	}
	commission := decimal.Zero
	if req.CommissionRate != "" {
		commission, err = decimal.NewFromString(req.CommissionRate)
		if err != nil {
			return cfg, fmt.Errorf("invalid commission_rate %q: %v", req.CommissionRate, err)
		}
	}

	cfg = model.BacktestConfig{
		Symbol:         req.Symbol,
		StartTime:      start,
		EndTime:        end,
		InitialCapital: capital,
		CommissionRate: commission,
		KeepPartial:    req.KeepPartial,
	}
	return cfg, cfg.Validate()
}

func (s *BacktestService) buildStrategy(req *BacktestRequest) (backtest.Strategy, error) {
	switch req.StrategyType {
	case StrategyTypeSMACross, "":
		short, err := intParam(req.StrategyParameters, "short_period", defaultShortPeriod)
		if err != nil {
			return nil, err
		}
		long, err := intParam(req.StrategyParameters, "long_period", defaultLongPeriod)
		if err != nil {
			return nil, err
		}
		frac, err := decimalParam(req.StrategyParameters, "position_fraction", defaultPositionFrac)
		if err != nil {
			return nil, err
		}
		return backtest.NewSMACrossStrategy(req.Symbol, short, long, frac)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", req.StrategyType)
	}
}

func toResponse(result *model.BacktestResult) *BacktestResponse {
	resp := &BacktestResponse{
		TotalReturn:                result.TotalReturn.String(),
		TotalTrades:                result.TotalTrades,
		WinningTrades:              result.WinningTrades,
		LosingTrades:               result.LosingTrades,
		WinRate:                    result.WinRate.String(),
		ProfitFactor:               result.ProfitFactor.String(),
		AvgProfitPerTrade:          result.AvgProfitPerTrade.String(),
		SharpeRatio:                result.SharpeRatio,
		SortinoRatio:               result.SortinoRatio,
		MaxDrawdown:                result.MaxDrawdown.String(),
		MaxDrawdownDurationSeconds: int64(result.MaxDrawdownDuration.Seconds()),
		TotalCommission:            result.TotalCommission.String(),
		TotalVolume:                result.TotalVolume.String(),
		RejectedOrders:             len(result.Rejections),
		Trades:                     make([]TradeResponse, 0, len(result.Trades)),
		EquityCurve:                make([]EquityPointResponse, 0, len(result.EquityCurve)),
	}
	for _, t := range result.Trades {
		resp.Trades = append(resp.Trades, TradeResponse{
			Timestamp:  t.Timestamp,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Quantity:   t.Quantity.String(),
			Price:      t.Price.String(),
			Commission: t.Commission.String(),
		})
	}
	for _, p := range result.EquityCurve {
		resp.EquityCurve = append(resp.EquityCurve, EquityPointResponse{
			Timestamp: p.Timestamp,
			Value:     p.Value.String(),
		})
	}
	return resp
}

func intParam(params map[string]string, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %v", key, raw, err)
	}
	return v, nil
}

func decimalParam(params map[string]string, key, fallback string) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		raw = fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %v", key, raw, err)
	}
	return v, nil
}
