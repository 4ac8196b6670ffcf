package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/cache"
	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeStore serves a fixed ascending series and records the ranges it was
// asked for.
type fakeStore struct {
	points  []model.MarketDataPoint
	fetches int
	err     error
}

func (f *fakeStore) FetchRange(_ context.Context, symbol string, start, end time.Time) ([]model.MarketDataPoint, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	var out []model.MarketDataPoint
	for _, p := range f.points {
		if p.Symbol == symbol && !p.Timestamp.Before(start) && !p.Timestamp.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func point(symbol string, offset time.Duration, price float64) model.MarketDataPoint {
	p := decimal.NewFromFloat(price)
	return model.MarketDataPoint{
		Symbol:    symbol,
		Timestamp: baseTime.Add(offset),
		Price:     p,
		Volume:    decimal.NewFromInt(1),
		High:      p,
		Low:       p,
		Open:      p,
		Close:     p,
	}
}

func newManager(t *testing.T, store Store) (*Manager, *cache.MarketDataCache) {
	t.Helper()
	c := cache.NewMarketDataCache(1000, zap.NewNop())
	return NewManager(c, store, zap.NewNop()), c
}

func TestQueryServedEntirelyFromCache(t *testing.T) {
	store := &fakeStore{}
	m, _ := newManager(t, store)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Ingest(point("BTC/USDT", time.Duration(i)*time.Minute, 100+float64(i))))
	}

	got, err := m.Query(context.Background(), "BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Zero(t, store.fetches, "window inside cache horizon must not hit the store")
}

func TestQueryMergesColdPrefix(t *testing.T) {
	store := &fakeStore{}
	// Cold history: offsets 0..9 minutes
	for i := 0; i < 10; i++ {
		store.points = append(store.points, point("BTC/USDT", time.Duration(i)*time.Minute, 50+float64(i)))
	}

	m, _ := newManager(t, store)
	// Hot cache holds offsets 8..12: overlaps the store at 8 and 9
	for i := 8; i <= 12; i++ {
		require.NoError(t, m.Ingest(point("BTC/USDT", time.Duration(i)*time.Minute, 100+float64(i))))
	}

	got, err := m.Query(context.Background(), "BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 13, "offsets 0..12 without duplicates")
	assert.Equal(t, 1, store.fetches)

	for i := 1; i < len(got); i++ {
		require.True(t, got[i-1].Timestamp.Before(got[i].Timestamp), "merged result must be strictly ascending")
	}

	// Cache wins ties: offset 8 carries the cache's price, not the store's
	assert.True(t, got[8].Price.Equal(decimal.NewFromInt(108)), "got %s", got[8].Price)
}

func TestQueryEmptyWindow(t *testing.T) {
	m, _ := newManager(t, &fakeStore{})

	_, err := m.Query(context.Background(), "BTC/USDT", baseTime, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, ErrDataNotFound)
}

func TestQueryStoreFailurePropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	m, _ := newManager(t, &fakeStore{err: storeErr})

	_, err := m.Query(context.Background(), "BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr, "store failure must keep its cause")
	assert.NotErrorIs(t, err, ErrDataNotFound)
}

func TestIngestRejectsInvalidOHLC(t *testing.T) {
	m, _ := newManager(t, &fakeStore{})

	bad := point("BTC/USDT", 0, 100)
	bad.Low = decimal.NewFromInt(200) // low above open/close

	assert.Error(t, m.Ingest(bad))
	assert.Error(t, m.IngestBatch([]model.MarketDataPoint{bad}))
}

func TestIngestTick(t *testing.T) {
	m, c := newManager(t, &fakeStore{})

	require.NoError(t, m.IngestTick(model.Tick{
		Symbol:    "BTC/USDT",
		Timestamp: baseTime,
		Price:     decimal.NewFromInt(100),
		Quantity:  decimal.NewFromInt(2),
		Side:      model.OrderSideBuy,
		TradeID:   "t-1",
	}))

	assert.Equal(t, 1, c.Len("BTC/USDT"))
}

func TestTicker(t *testing.T) {
	m, _ := newManager(t, &fakeStore{})
	now := baseTime.Add(24 * time.Hour)

	_, err := m.Ticker("BTC/USDT", now)
	assert.ErrorIs(t, err, ErrDataNotFound)

	// Points across the last 24 hours
	prices := []float64{100, 110, 90, 105}
	for i, price := range prices {
		p := point("BTC/USDT", time.Duration(i+1)*6*time.Hour, price)
		p.High = p.Price.Add(decimal.NewFromInt(5))
		p.Low = p.Price.Sub(decimal.NewFromInt(5))
		p.Open = p.Price
		p.Close = p.Price
		require.NoError(t, m.Ingest(p))
	}

	ticker, err := m.Ticker("BTC/USDT", now)
	require.NoError(t, err)
	assert.True(t, ticker.Price.Equal(decimal.NewFromInt(105)))
	assert.True(t, ticker.High24h.Equal(decimal.NewFromInt(115)), "got %s", ticker.High24h)
	assert.True(t, ticker.Low24h.Equal(decimal.NewFromInt(85)), "got %s", ticker.Low24h)
	assert.True(t, ticker.Volume24h.Equal(decimal.NewFromInt(4)))
	assert.True(t, ticker.PriceChange24h.Equal(decimal.NewFromInt(5)), "got %s", ticker.PriceChange24h)
}

func TestVWAPDelegation(t *testing.T) {
	m, _ := newManager(t, &fakeStore{})

	p1 := point("BTC/USDT", 0, 10)
	p2 := point("BTC/USDT", time.Minute, 20)
	p2.Volume = decimal.NewFromInt(3)
	require.NoError(t, m.IngestBatch([]model.MarketDataPoint{p1, p2}))

	vwap, err := m.VWAP("BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, vwap.Equal(decimal.NewFromFloat(17.5)))

	_, err = m.VWAP("ETH/USDT", baseTime, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, cache.ErrEmptyWindow)
}
