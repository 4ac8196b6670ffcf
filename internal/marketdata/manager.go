// Package marketdata merges the in-memory cache with the persistent store
// into a single coherent historical view.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/cache"
	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrDataNotFound is returned when a non-empty requested window resolves to
// no data in either the cache or the persistent store.
var ErrDataNotFound = errors.New("no market data found")

// Store is the persistent-store collaborator. Implementations must return
// points in ascending timestamp order.
type Store interface {
	FetchRange(ctx context.Context, symbol string, start, end time.Time) ([]model.MarketDataPoint, error)
}

// Manager presents one gap-free, duplicate-free view over the hot cache and
// the cold persistent store. It owns the cache for its lifetime.
type Manager struct {
	cache  *cache.MarketDataCache
	store  Store
	logger *zap.Logger
}

// NewManager creates a manager over the given cache and store.
func NewManager(c *cache.MarketDataCache, store Store, logger *zap.Logger) *Manager {
	return &Manager{
		cache:  c,
		store:  store,
		logger: logger,
	}
}

// Query returns the ascending market data for [start, end]. Windows fully
// inside the cache's retained horizon are served from memory; older
// prefixes are fetched from the store and merged, de-duplicating on
// timestamp with the cache winning ties.
func (m *Manager) Query(ctx context.Context, symbol string, start, end time.Time) ([]model.MarketDataPoint, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if end.Before(start) {
		return nil, errors.New("end must not be before start")
	}

	cached := m.cache.GetRange(symbol, start, end)

	// The cache covers the window when its oldest retained point is at or
	// before the window start.
	if oldest, ok := m.cache.Oldest(symbol); ok && !oldest.After(start) {
		if len(cached) == 0 {
			return nil, fmt.Errorf("%w: %s in [%s, %s]", ErrDataNotFound,
				symbol, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		return cached, nil
	}

	prefixEnd := end
	if len(cached) > 0 {
		prefixEnd = cached[0].Timestamp
	}

	stored, err := m.store.FetchRange(ctx, symbol, start, prefixEnd)
	if err != nil {
		m.logger.Error("persistent store fetch failed",
			zap.Error(err),
			zap.String("symbol", symbol))
		return nil, fmt.Errorf("persistent store fetch for %s: %w", symbol, err)
	}

	merged := mergeAscending(stored, cached)
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: %s in [%s, %s]", ErrDataNotFound,
			symbol, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return merged, nil
}

// Ingest validates a fresh point from the live feed and forwards it to the
// cache. Durable persistence is the collector's job, invoked separately.
func (m *Manager) Ingest(point model.MarketDataPoint) error {
	if err := point.Validate(); err != nil {
		return err
	}
	return m.cache.Update(point)
}

// IngestBatch validates and forwards a batch of points to the cache.
func (m *Manager) IngestBatch(points []model.MarketDataPoint) error {
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return m.cache.UpdateBatch(points)
}

// IngestTick folds a trade tick into the cache.
func (m *Manager) IngestTick(tick model.Tick) error {
	return m.cache.UpdateTick(tick)
}

// Latest returns the most recent cached points for the symbol, ascending.
func (m *Manager) Latest(symbol string, n int) []model.MarketDataPoint {
	return m.cache.GetLatest(symbol, n)
}

// VWAP computes the volume-weighted average price over the cached window.
func (m *Manager) VWAP(symbol string, start, end time.Time) (decimal.Decimal, error) {
	return m.cache.VWAP(symbol, start, end)
}

// Ticker returns the latest price and 24 hour statistics for a symbol from
// the cache.
func (m *Manager) Ticker(symbol string, now time.Time) (*model.Ticker, error) {
	latest, ok := m.cache.Latest(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: no ticker for %s", ErrDataNotFound, symbol)
	}

	window := m.cache.GetRange(symbol, now.Add(-24*time.Hour), now)
	ticker := &model.Ticker{
		Symbol:    symbol,
		Price:     latest.Price,
		Timestamp: latest.Timestamp,
	}
	if len(window) == 0 {
		return ticker, nil
	}

	ticker.High24h = window[0].High
	ticker.Low24h = window[0].Low
	for _, p := range window {
		if p.High.GreaterThan(ticker.High24h) {
			ticker.High24h = p.High
		}
		if p.Low.LessThan(ticker.Low24h) {
			ticker.Low24h = p.Low
		}
		ticker.Volume24h = ticker.Volume24h.Add(p.Volume)
	}
	if open := window[0].Price; open.IsPositive() {
		ticker.PriceChange24h = latest.Price.Sub(open).Div(open).Mul(decimal.NewFromInt(100))
	}
	return ticker, nil
}

// mergeAscending concatenates two ascending sequences, dropping store
// points whose timestamp already exists in the cached suffix.
func mergeAscending(stored, cached []model.MarketDataPoint) []model.MarketDataPoint {
	if len(cached) == 0 {
		return stored
	}
	if len(stored) == 0 {
		return cached
	}

	firstCached := cached[0].Timestamp
	out := make([]model.MarketDataPoint, 0, len(stored)+len(cached))
	for _, p := range stored {
		if p.Timestamp.Before(firstCached) {
			out = append(out, p)
		}
	}
	return append(out, cached...)
}
