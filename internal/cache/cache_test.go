package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func point(symbol string, offset time.Duration, price, volume float64) model.MarketDataPoint {
	p := decimal.NewFromFloat(price)
	return model.MarketDataPoint{
		Symbol:    symbol,
		Timestamp: baseTime.Add(offset),
		Price:     p,
		Volume:    decimal.NewFromFloat(volume),
		High:      p,
		Low:       p,
		Open:      p,
		Close:     p,
	}
}

func TestUpdateKeepsAscendingOrder(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())

	// Insert out of submission order
	offsets := []time.Duration{3 * time.Minute, time.Minute, 4 * time.Minute, 2 * time.Minute, 0}
	for _, off := range offsets {
		require.NoError(t, c.Update(point("BTC/USDT", off, 100, 1)))
	}

	got := c.GetRange("BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp),
			"points must be strictly ascending")
	}
}

func TestUpdateSameTimestampOverwrites(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())

	require.NoError(t, c.Update(point("BTC/USDT", 0, 100, 1)))
	require.NoError(t, c.Update(point("BTC/USDT", 0, 200, 2)))

	got := c.GetRange("BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.Len(t, got, 1, "duplicate timestamps must collapse to one point")
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(200)), "last write wins")
}

func TestEvictionKeepsMostRecent(t *testing.T) {
	const capacity = 10
	c := NewMarketDataCache(capacity, zap.NewNop())

	for i := 0; i < capacity+7; i++ {
		require.NoError(t, c.Update(point("ETH/USDT", time.Duration(i)*time.Minute, float64(i), 1)))
	}

	require.Equal(t, capacity, c.Len("ETH/USDT"))

	got := c.GetLatest("ETH/USDT", capacity)
	require.Len(t, got, capacity)
	assert.Equal(t, baseTime.Add(7*time.Minute), got[0].Timestamp, "oldest surviving point")
	assert.Equal(t, baseTime.Add(16*time.Minute), got[len(got)-1].Timestamp)
}

func TestGetRangeEmptyWindow(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())
	require.NoError(t, c.Update(point("BTC/USDT", 0, 100, 1)))

	got := c.GetRange("BTC/USDT", baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
	assert.Empty(t, got, "empty window is not an error")

	assert.Empty(t, c.GetRange("UNKNOWN", baseTime, baseTime.Add(time.Hour)))
}

func TestGetLatest(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Update(point("BTC/USDT", time.Duration(i)*time.Minute, float64(i), 1)))
	}

	got := c.GetLatest("BTC/USDT", 3)
	require.Len(t, got, 3)
	assert.Equal(t, baseTime.Add(2*time.Minute), got[0].Timestamp)
	assert.Equal(t, baseTime.Add(4*time.Minute), got[2].Timestamp)

	// Asking for more than available returns everything
	assert.Len(t, c.GetLatest("BTC/USDT", 50), 5)
}

func TestVWAP(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())
	require.NoError(t, c.Update(point("BTC/USDT", 0, 10, 1)))
	require.NoError(t, c.Update(point("BTC/USDT", time.Minute, 20, 3)))

	vwap, err := c.VWAP("BTC/USDT", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, vwap.Equal(decimal.NewFromFloat(17.5)), "got %s", vwap)
}

func TestVWAPEmptyWindow(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())

	_, err := c.VWAP("BTC/USDT", baseTime, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, ErrEmptyWindow)

	// Points exist but the window holds no volume
	require.NoError(t, c.Update(point("BTC/USDT", 0, 10, 0)))
	_, err = c.VWAP("BTC/USDT", baseTime, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestUpdateTickAggregation(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())

	tick := func(offset time.Duration, price, qty float64) model.Tick {
		return model.Tick{
			Symbol:    "BTC/USDT",
			Timestamp: baseTime.Add(offset),
			Price:     decimal.NewFromFloat(price),
			Quantity:  decimal.NewFromFloat(qty),
			Side:      model.OrderSideBuy,
			TradeID:   fmt.Sprintf("t-%d", offset),
		}
	}

	// Three ticks in the same second fold into one candle
	require.NoError(t, c.UpdateTick(tick(0, 100, 1)))
	require.NoError(t, c.UpdateTick(tick(100*time.Millisecond, 105, 2)))
	require.NoError(t, c.UpdateTick(tick(200*time.Millisecond, 95, 1)))

	latest, ok := c.Latest("BTC/USDT")
	require.True(t, ok)
	assert.True(t, latest.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, latest.High.Equal(decimal.NewFromInt(105)))
	assert.True(t, latest.Low.Equal(decimal.NewFromInt(95)))
	assert.True(t, latest.Close.Equal(decimal.NewFromInt(95)))
	assert.True(t, latest.Volume.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, 1, c.Len("BTC/USDT"))

	// A tick in the next second opens a new candle
	require.NoError(t, c.UpdateTick(tick(time.Second, 96, 1)))
	assert.Equal(t, 2, c.Len("BTC/USDT"))
}

func TestOldestAndSymbols(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())

	_, ok := c.Oldest("BTC/USDT")
	assert.False(t, ok)

	require.NoError(t, c.Update(point("BTC/USDT", time.Minute, 100, 1)))
	require.NoError(t, c.Update(point("ETH/USDT", 0, 50, 1)))

	oldest, ok := c.Oldest("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, baseTime.Add(time.Minute), oldest)

	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, c.Symbols())
}

// Concurrent writers on distinct symbols plus readers of a third symbol
// must not deadlock, and every read must observe a prefix of that symbol's
// writes in order.
func TestConcurrentReadersAndWriters(t *testing.T) {
	c := NewMarketDataCache(5000, zap.NewNop())

	const writers = 4
	const perWriter = 500
	const readers = 4

	// Pre-populate the symbol the readers watch
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Update(point("WATCHED", time.Duration(i)*time.Second, float64(i), 1)))
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM-%d", w)
			for i := 0; i < perWriter; i++ {
				if err := c.Update(point(symbol, time.Duration(i)*time.Second, float64(i), 1)); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				got := c.GetRange("WATCHED", baseTime, baseTime.Add(time.Hour))
				if len(got) == 0 {
					t.Error("watched symbol vanished")
					return
				}
				for j := 1; j < len(got); j++ {
					if !got[j-1].Timestamp.Before(got[j].Timestamp) {
						t.Error("torn read: out of order snapshot")
						return
					}
				}
			}
		}()
	}

	wg.Wait()

	for w := 0; w < writers; w++ {
		symbol := fmt.Sprintf("SYM-%d", w)
		assert.Equal(t, perWriter, c.Len(symbol))
	}
}

func TestClear(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())
	require.NoError(t, c.Update(point("BTC/USDT", 0, 100, 1)))
	require.NoError(t, c.Update(point("ETH/USDT", 0, 100, 1)))

	c.ClearSymbol("BTC/USDT")
	assert.Equal(t, 0, c.Len("BTC/USDT"))
	assert.Equal(t, 1, c.Len("ETH/USDT"))

	c.Clear()
	assert.Empty(t, c.Symbols())
}

func TestUpdateBatchGroupsBySymbol(t *testing.T) {
	c := NewMarketDataCache(100, zap.NewNop())

	var points []model.MarketDataPoint
	for i := 0; i < 10; i++ {
		points = append(points, point("BTC/USDT", time.Duration(i)*time.Minute, float64(i), 1))
	}
	for i := 0; i < 10; i++ {
		points = append(points, point("ETH/USDT", time.Duration(i)*time.Minute, float64(i), 1))
	}

	require.NoError(t, c.UpdateBatch(points))
	assert.Equal(t, 10, c.Len("BTC/USDT"))
	assert.Equal(t, 10, c.Len("ETH/USDT"))
}
