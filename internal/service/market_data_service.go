package service

import (
	"context"
	"errors"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/marketdata"
	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketDataService handles market query operations: klines, tickers and
// windowed aggregates, all served through the market data manager.
type MarketDataService struct {
	manager *marketdata.Manager
	logger  *zap.Logger
}

// NewMarketDataService creates a new market data service
func NewMarketDataService(manager *marketdata.Manager, logger *zap.Logger) *MarketDataService {
	return &MarketDataService{
		manager: manager,
		logger:  logger,
	}
}

// GetCandles retrieves the candle sequence for a symbol and window
func (s *MarketDataService) GetCandles(
	ctx context.Context,
	symbol string,
	start, end time.Time,
) ([]model.MarketDataPoint, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if !start.Before(end) {
		return nil, errors.New("start must be before end")
	}

	return s.manager.Query(ctx, symbol, start, end)
}

// GetLatest retrieves the most recent n cached points for a symbol
func (s *MarketDataService) GetLatest(symbol string, n int) ([]model.MarketDataPoint, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if n <= 0 {
		n = 1
	}
	return s.manager.Latest(symbol, n), nil
}

// GetTicker retrieves the latest price with 24 hour statistics
func (s *MarketDataService) GetTicker(symbol string) (*model.Ticker, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	return s.manager.Ticker(symbol, time.Now().UTC())
}

// GetVWAP computes the volume-weighted average price over a window
func (s *MarketDataService) GetVWAP(
	symbol string,
	start, end time.Time,
) (decimal.Decimal, error) {
	if symbol == "" {
		return decimal.Zero, errors.New("symbol is required")
	}
	return s.manager.VWAP(symbol, start, end)
}
