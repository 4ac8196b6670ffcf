package backtest

import (
	"fmt"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
)

// SMACrossStrategy trades simple moving average crossovers: it buys when
// the short average crosses above the long average and sells the whole
// position on the opposite cross. Buys are sized at a fixed fraction of
// available cash.
type SMACrossStrategy struct {
	symbol       string
	shortPeriod  int
	longPeriod   int
	positionFrac decimal.Decimal

	window    []decimal.Decimal // last longPeriod closes, oldest first
	shortSum  decimal.Decimal
	longSum   decimal.Decimal
	seen      int
	lastAbove bool
}

// NewSMACrossStrategy creates a crossover strategy. shortPeriod must be
// smaller than longPeriod and positionFrac must be in (0, 1].
func NewSMACrossStrategy(symbol string, shortPeriod, longPeriod int, positionFrac decimal.Decimal) (*SMACrossStrategy, error) {
	if shortPeriod <= 0 || longPeriod <= shortPeriod {
		return nil, fmt.Errorf("sma cross: need 0 < short period < long period, got %d/%d", shortPeriod, longPeriod)
	}
	if !positionFrac.IsPositive() || positionFrac.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("sma cross: position fraction must be in (0, 1], got %s", positionFrac)
	}
	return &SMACrossStrategy{
		symbol:       symbol,
		shortPeriod:  shortPeriod,
		longPeriod:   longPeriod,
		positionFrac: positionFrac,
		window:       make([]decimal.Decimal, 0, longPeriod),
	}, nil
}

// Name identifies the strategy in logs and results.
func (s *SMACrossStrategy) Name() string {
	return fmt.Sprintf("sma_cross(%d,%d)", s.shortPeriod, s.longPeriod)
}

// OnData updates the rolling windows and emits an order when the averages
// cross. The first longPeriod-1 points are consumed silently.
func (s *SMACrossStrategy) OnData(point model.MarketDataPoint, portfolio model.Portfolio) ([]model.Order, error) {
	price := point.Close
	s.push(price)
	if s.seen < s.longPeriod {
		return nil, nil
	}

	shortMA := s.shortSum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
	longMA := s.longSum.Div(decimal.NewFromInt(int64(s.longPeriod)))

	above := shortMA.GreaterThan(longMA)
	crossedUp := above && !s.lastAbove
	crossedDown := !above && s.lastAbove
	s.lastAbove = above

	switch {
	case crossedUp && portfolio.Position.IsZero():
		if !price.IsPositive() {
			return nil, nil
		}
		// Floored at 8 decimal places so the notional never exceeds the
		// cash the fraction allows.
		quantity := portfolio.Cash.Mul(s.positionFrac).Div(price).RoundDown(8)
		if !quantity.IsPositive() {
			return nil, nil
		}
		return []model.Order{{
			Symbol:    s.symbol,
			Side:      model.OrderSideBuy,
			Type:      model.OrderTypeMarket,
			Quantity:  quantity,
			Timestamp: point.Timestamp,
		}}, nil

	case crossedDown && portfolio.Position.IsPositive():
		return []model.Order{{
			Symbol:    s.symbol,
			Side:      model.OrderSideSell,
			Type:      model.OrderTypeMarket,
			Quantity:  portfolio.Position,
			Timestamp: point.Timestamp,
		}}, nil
	}
	return nil, nil
}

// push appends a price to the rolling window, maintaining both sums in
// constant time.
func (s *SMACrossStrategy) push(price decimal.Decimal) {
	s.window = append(s.window, price)
	s.shortSum = s.shortSum.Add(price)
	s.longSum = s.longSum.Add(price)
	s.seen++

	if n := len(s.window); n > s.shortPeriod {
		s.shortSum = s.shortSum.Sub(s.window[n-s.shortPeriod-1])
	}
	if len(s.window) > s.longPeriod {
		s.longSum = s.longSum.Sub(s.window[0])
		s.window = s.window[1:]
	}
}
