package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide identifies the direction of an order or trade
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType identifies how an order is priced. Only market orders are
// supported by the simulator.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// Order represents an instruction emitted by a strategy. Orders are
// ephemeral: the executor consumes them immediately.
type Order struct {
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// Trade represents a simulated fill. Immutable once recorded.
type Trade struct {
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
}

// Portfolio is the cash/position/cost-basis ledger for one backtest run.
// It is mutated exclusively by the order executor; strategies receive a
// copy.
type Portfolio struct {
	Cash              decimal.Decimal `json:"cash"`
	Position          decimal.Decimal `json:"position"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price"`
}

// Value returns the total portfolio value at the given close price.
func (p Portfolio) Value(closePrice decimal.Decimal) decimal.Decimal {
	return p.Cash.Add(p.Position.Mul(closePrice))
}

// BacktestConfig holds the parameters of a single backtest run
type BacktestConfig struct {
	Symbol         string          `json:"symbol"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CommissionRate decimal.Decimal `json:"commission_rate"`

	// KeepPartial controls whether a failed or cancelled run still returns
	// the trades and equity points accumulated so far.
	KeepPartial bool `json:"keep_partial,omitempty"`
}

// Validate checks the configuration before any work is done
func (c BacktestConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !c.StartTime.Before(c.EndTime) {
		return errors.New("start time must be before end time")
	}
	if !c.InitialCapital.IsPositive() {
		return errors.New("initial capital must be positive")
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("commission rate must be in [0, 1)")
	}
	return nil
}

// EquityPoint records the total portfolio value at one point in time
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// OrderRejection records an order the executor refused to fill. The run
// continues; rejections are reported for visibility only.
type OrderRejection struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason"`
}

// BacktestResult is the immutable outcome of a completed run
type BacktestResult struct {
	TotalReturn   decimal.Decimal `json:"total_return"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`

	WinRate           decimal.Decimal `json:"win_rate"`
	ProfitFactor      decimal.Decimal `json:"profit_factor"`
	AvgProfitPerTrade decimal.Decimal `json:"avg_profit_per_trade"`
	SharpeRatio       float64         `json:"sharpe_ratio"`
	SortinoRatio      float64         `json:"sortino_ratio"`

	MaxDrawdown         decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownDuration time.Duration   `json:"max_drawdown_duration"`

	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalVolume     decimal.Decimal `json:"total_volume"`

	Trades      []Trade          `json:"trades"`
	EquityCurve []EquityPoint    `json:"equity_curve"`
	Rejections  []OrderRejection `json:"rejections,omitempty"`
}
