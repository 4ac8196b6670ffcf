package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataPoint represents a single aggregated price point for a symbol
type MarketDataPoint struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Open      decimal.Decimal `json:"open" db:"open"`
	Close     decimal.Decimal `json:"close" db:"close"`
}

// Validate checks the OHLC relationship of the point
func (p MarketDataPoint) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("market data point has no symbol")
	}
	if p.Low.GreaterThan(p.Open) || p.Low.GreaterThan(p.Close) ||
		p.High.LessThan(p.Open) || p.High.LessThan(p.Close) {
		return fmt.Errorf("invalid OHLC for %s at %s: low=%s open=%s close=%s high=%s",
			p.Symbol, p.Timestamp.Format(time.RFC3339),
			p.Low, p.Open, p.Close, p.High)
	}
	return nil
}

// Tick represents a single trade reported by an exchange feed
type Tick struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Side      OrderSide       `json:"side" db:"side"`
	TradeID   string          `json:"trade_id" db:"trade_id"`
	IsMaker   bool            `json:"is_maker" db:"is_maker"`
}

// Ticker represents the latest price with 24 hour statistics for a symbol
type Ticker struct {
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	High24h        decimal.Decimal `json:"high_24h"`
	Low24h         decimal.Decimal `json:"low_24h"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
	Timestamp      time.Time       `json:"timestamp"`
}
