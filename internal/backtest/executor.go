package backtest

import (
	"fmt"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderExecutor simulates deterministic, instantaneous, full-fill execution
// against the data point that generated the order. There is no slippage and
// no partial fill.
type OrderExecutor struct {
	commissionRate decimal.Decimal
	logger         *zap.Logger
}

// NewOrderExecutor creates an executor charging the given commission rate
// per fill.
func NewOrderExecutor(commissionRate decimal.Decimal, logger *zap.Logger) *OrderExecutor {
	return &OrderExecutor{
		commissionRate: commissionRate,
		logger:         logger,
	}
}

// Execute fills the order at the point's close price, mutating the
// portfolio and returning the recorded trade. Orders that cannot be filled
// return ErrInsufficientFunds or ErrInsufficientPosition and leave the
// portfolio untouched.
func (e *OrderExecutor) Execute(order model.Order, point model.MarketDataPoint, portfolio *model.Portfolio) (model.Trade, error) {
	if !order.Quantity.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: quantity %s is not positive", ErrInvalidOrder, order.Quantity)
	}

	fillPrice := point.Close
	notional := fillPrice.Mul(order.Quantity)
	commission := notional.Mul(e.commissionRate)

	switch order.Side {
	case model.OrderSideBuy:
		cost := notional.Add(commission)
		if portfolio.Cash.LessThan(cost) {
			return model.Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, portfolio.Cash)
		}
		portfolio.Cash = portfolio.Cash.Sub(cost)
		newPosition := portfolio.Position.Add(order.Quantity)
		portfolio.AverageEntryPrice = portfolio.Position.Mul(portfolio.AverageEntryPrice).
			Add(order.Quantity.Mul(fillPrice)).
			Div(newPosition)
		portfolio.Position = newPosition

	case model.OrderSideSell:
		if order.Quantity.GreaterThan(portfolio.Position) {
			return model.Trade{}, fmt.Errorf("%w: want to sell %s, hold %s", ErrInsufficientPosition, order.Quantity, portfolio.Position)
		}
		portfolio.Cash = portfolio.Cash.Add(notional.Sub(commission))
		portfolio.Position = portfolio.Position.Sub(order.Quantity)
		if portfolio.Position.IsZero() {
			portfolio.AverageEntryPrice = decimal.Zero
		}

	default:
		return model.Trade{}, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, order.Side)
	}

	trade := model.Trade{
		Symbol:     order.Symbol,
		Timestamp:  order.Timestamp,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Commission: commission,
	}

	e.logger.Debug("executed trade",
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()))

	return trade, nil
}
