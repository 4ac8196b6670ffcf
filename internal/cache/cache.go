// Package cache provides a bounded, concurrency-safe in-memory store of
// recent per-symbol market data.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrEmptyWindow is returned when an aggregation is requested over a window
// that contains no data.
var ErrEmptyWindow = errors.New("no data points in requested window")

// ErrConsistency indicates the cache detected an internal ordering
// violation. It is fatal and indicates a bug.
var ErrConsistency = errors.New("cache consistency violation")

// DefaultMaxPointsPerSymbol bounds each symbol's series when no explicit
// capacity is configured.
const DefaultMaxPointsPerSymbol = 1000

// MarketDataCache stores recent market data points per symbol, ordered by
// timestamp. Each symbol is guarded by its own lock so a writer updating one
// symbol never blocks readers of another. Reads copy out of the series, so
// callers always observe a consistent snapshot.
type MarketDataCache struct {
	mu        sync.RWMutex
	series    map[string]*symbolSeries
	maxPoints int
	logger    *zap.Logger
}

// symbolSeries holds one symbol's points in ascending timestamp order.
// Evicted entries are dropped by advancing head; the dead prefix is
// compacted once it grows past the live window, which keeps eviction O(1)
// amortized.
type symbolSeries struct {
	mu     sync.RWMutex
	points []model.MarketDataPoint
	head   int
}

// NewMarketDataCache creates a cache bounding each symbol to maxPoints
// entries. A non-positive maxPoints falls back to the default capacity.
func NewMarketDataCache(maxPoints int, logger *zap.Logger) *MarketDataCache {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPointsPerSymbol
	}
	return &MarketDataCache{
		series:    make(map[string]*symbolSeries),
		maxPoints: maxPoints,
		logger:    logger,
	}
}

// Update inserts or overwrites the point for its symbol at its timestamp.
// A write with a timestamp already present replaces the stored point.
func (c *MarketDataCache) Update(point model.MarketDataPoint) error {
	s := c.seriesFor(point.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	return c.insertLocked(s, point)
}

// UpdateBatch applies points in order, locking each symbol's series once
// per contiguous run of points instead of once per point.
func (c *MarketDataCache) UpdateBatch(points []model.MarketDataPoint) error {
	for i := 0; i < len(points); {
		symbol := points[i].Symbol
		j := i
		for j < len(points) && points[j].Symbol == symbol {
			j++
		}

		s := c.seriesFor(symbol)
		s.mu.Lock()
		for _, p := range points[i:j] {
			if err := c.insertLocked(s, p); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		s.mu.Unlock()
		i = j
	}
	return nil
}

// UpdateTick folds a trade tick into the symbol's latest point. Ticks that
// share a second with the latest point extend it (high/low/close/volume);
// otherwise the tick opens a new point.
func (c *MarketDataCache) UpdateTick(tick model.Tick) error {
	s := c.seriesFor(tick.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := tick.Timestamp.UTC().Truncate(time.Second)
	live := s.points[s.head:]

	if len(live) > 0 && live[len(live)-1].Timestamp.Equal(ts) {
		last := live[len(live)-1]
		if tick.Price.GreaterThan(last.High) {
			last.High = tick.Price
		}
		if tick.Price.LessThan(last.Low) {
			last.Low = tick.Price
		}
		last.Close = tick.Price
		last.Price = tick.Price
		last.Volume = last.Volume.Add(tick.Quantity)
		return c.insertLocked(s, last)
	}

	return c.insertLocked(s, model.MarketDataPoint{
		Symbol:    tick.Symbol,
		Timestamp: ts,
		Price:     tick.Price,
		Volume:    tick.Quantity,
		High:      tick.Price,
		Low:       tick.Price,
		Open:      tick.Price,
		Close:     tick.Price,
	})
}

// GetRange returns the points with start <= timestamp <= end in ascending
// order. An empty window yields an empty slice, not an error.
func (c *MarketDataCache) GetRange(symbol string, start, end time.Time) []model.MarketDataPoint {
	s := c.lookup(symbol)
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	live := s.points[s.head:]
	lo := sort.Search(len(live), func(i int) bool {
		return !live[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(live), func(i int) bool {
		return live[i].Timestamp.After(end)
	})
	if lo >= hi {
		return nil
	}

	out := make([]model.MarketDataPoint, hi-lo)
	copy(out, live[lo:hi])
	return out
}

// GetLatest returns at most n of the most recent points, ascending.
func (c *MarketDataCache) GetLatest(symbol string, n int) []model.MarketDataPoint {
	s := c.lookup(symbol)
	if s == nil || n <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	live := s.points[s.head:]
	if n > len(live) {
		n = len(live)
	}
	if n == 0 {
		return nil
	}

	out := make([]model.MarketDataPoint, n)
	copy(out, live[len(live)-n:])
	return out
}

// Latest returns the most recent point for the symbol, if any.
func (c *MarketDataCache) Latest(symbol string) (model.MarketDataPoint, bool) {
	s := c.lookup(symbol)
	if s == nil {
		return model.MarketDataPoint{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	live := s.points[s.head:]
	if len(live) == 0 {
		return model.MarketDataPoint{}, false
	}
	return live[len(live)-1], true
}

// Oldest returns the timestamp of the earliest retained point for the
// symbol. The second return is false when the symbol has no data.
func (c *MarketDataCache) Oldest(symbol string) (time.Time, bool) {
	s := c.lookup(symbol)
	if s == nil {
		return time.Time{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	live := s.points[s.head:]
	if len(live) == 0 {
		return time.Time{}, false
	}
	return live[0].Timestamp, true
}

// VWAP computes the volume-weighted average price over the window.
// Returns ErrEmptyWindow when the window holds no points or no volume.
func (c *MarketDataCache) VWAP(symbol string, start, end time.Time) (decimal.Decimal, error) {
	points := c.GetRange(symbol, start, end)
	if len(points) == 0 {
		return decimal.Zero, fmt.Errorf("vwap %s [%s, %s]: %w",
			symbol, start.Format(time.RFC3339), end.Format(time.RFC3339), ErrEmptyWindow)
	}

	sumPV := decimal.Zero
	sumV := decimal.Zero
	for _, p := range points {
		sumPV = sumPV.Add(p.Price.Mul(p.Volume))
		sumV = sumV.Add(p.Volume)
	}
	if sumV.IsZero() {
		return decimal.Zero, fmt.Errorf("vwap %s: window has zero volume: %w", symbol, ErrEmptyWindow)
	}
	return sumPV.Div(sumV), nil
}

// Symbols returns the symbols currently held by the cache.
func (c *MarketDataCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.series))
	for symbol := range c.series {
		out = append(out, symbol)
	}
	return out
}

// Len returns the number of retained points for a symbol.
func (c *MarketDataCache) Len(symbol string) int {
	s := c.lookup(symbol)
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points) - s.head
}

// ClearSymbol drops all data for a symbol.
func (c *MarketDataCache) ClearSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, symbol)
}

// Clear drops all cached data.
func (c *MarketDataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string]*symbolSeries)
}

func (c *MarketDataCache) lookup(symbol string) *symbolSeries {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series[symbol]
}

func (c *MarketDataCache) seriesFor(symbol string) *symbolSeries {
	c.mu.RLock()
	s := c.series[symbol]
	c.mu.RUnlock()
	if s != nil {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s = c.series[symbol]; s == nil {
		s = &symbolSeries{}
		c.series[symbol] = s
	}
	return s
}

// insertLocked places the point at its ascending position, overwriting an
// existing point with the same timestamp, and evicts the oldest entry when
// the symbol exceeds its capacity. Caller must hold s.mu.
func (c *MarketDataCache) insertLocked(s *symbolSeries, point model.MarketDataPoint) error {
	live := s.points[s.head:]

	// Appending at the tail is the common path for a live feed.
	if n := len(live); n == 0 || point.Timestamp.After(live[n-1].Timestamp) {
		s.points = append(s.points, point)
	} else {
		i := sort.Search(n, func(i int) bool {
			return !live[i].Timestamp.Before(point.Timestamp)
		})
		if live[i].Timestamp.Equal(point.Timestamp) {
			live[i] = point // last write wins
		} else {
			at := s.head + i
			s.points = append(s.points, model.MarketDataPoint{})
			copy(s.points[at+1:], s.points[at:])
			s.points[at] = point
		}
	}

	if len(s.points)-s.head > c.maxPoints {
		s.head++
		if s.head > len(s.points)/2 {
			compact := make([]model.MarketDataPoint, len(s.points)-s.head)
			copy(compact, s.points[s.head:])
			s.points = compact
			s.head = 0
		}
	}

	return c.checkOrderLocked(s, point)
}

// checkOrderLocked verifies strict ascending order around the point just
// written. The check is local so inserts stay O(1) amortized. Caller must
// hold s.mu.
func (c *MarketDataCache) checkOrderLocked(s *symbolSeries, point model.MarketDataPoint) error {
	live := s.points[s.head:]
	i := sort.Search(len(live), func(i int) bool {
		return !live[i].Timestamp.Before(point.Timestamp)
	})
	bad := i < len(live)-1 && !live[i].Timestamp.Before(live[i+1].Timestamp) ||
		i > 0 && !live[i-1].Timestamp.Before(live[i].Timestamp)
	if bad {
		if c.logger != nil {
			c.logger.Error("cache series out of order",
				zap.String("symbol", point.Symbol),
				zap.Time("timestamp", point.Timestamp))
		}
		return fmt.Errorf("%w: %s series not strictly ascending around %s",
			ErrConsistency, point.Symbol, point.Timestamp.Format(time.RFC3339))
	}
	return nil
}
