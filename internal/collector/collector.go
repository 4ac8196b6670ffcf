// Package collector pumps live-feed market data into the cache and the
// persistent store. Feed clients publish points into a buffered channel;
// a single writer goroutine drains it, so cache writes for a symbol are
// applied in submission order.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/marketdata"
	"github.com/chigefeijimu/rust-trade/internal/model"

	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 1000
	defaultFlushInterval = time.Second
)

// ErrStopped is returned by Publish after the collector has shut down.
var ErrStopped = errors.New("collector stopped")

// Persister is the durable sink for collected points. The market data
// repository satisfies this.
type Persister interface {
	InsertBatch(ctx context.Context, points []model.MarketDataPoint) error
}

// Collector forwards published points to the manager's cache immediately
// and flushes them to the persistent store in batches.
type Collector struct {
	manager   *marketdata.Manager
	persister Persister
	logger    *zap.Logger

	points    chan model.MarketDataPoint
	flushEach time.Duration

	mu         sync.Mutex
	stopped    bool
	publishers sync.WaitGroup
	done       chan struct{}
}

// New creates a collector. bufferSize bounds the publish channel;
// flushInterval controls how often buffered points are persisted.
func New(manager *marketdata.Manager, persister Persister, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Collector {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &Collector{
		manager:   manager,
		persister: persister,
		logger:    logger,
		points:    make(chan model.MarketDataPoint, bufferSize),
		flushEach: flushInterval,
		done:      make(chan struct{}),
	}
}

// Done is closed once Run has drained and flushed after cancellation.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Publish enqueues a point from a feed client. It blocks when the buffer
// is full and fails once the collector has stopped.
//
// A nil return means the point will be cached and persisted: publishers
// that pass the stopped gate are counted in-flight, and shutdown keeps
// consuming until every counted publisher has returned.
func (c *Collector) Publish(ctx context.Context, point model.MarketDataPoint) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.publishers.Add(1)
	c.mu.Unlock()
	defer c.publishers.Done()

	select {
	case c.points <- point:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the channel until the context is cancelled, then flushes the
// remaining buffer. It is meant to be called once, on its own goroutine.
func (c *Collector) Run(ctx context.Context) {
	defer close(c.done)

	c.logger.Info("collector started",
		zap.Int("buffer", cap(c.points)),
		zap.Duration("flush_interval", c.flushEach))

	ticker := time.NewTicker(c.flushEach)
	defer ticker.Stop()

	pending := make([]model.MarketDataPoint, 0, cap(c.points))

	for {
		select {
		case point := <-c.points:
			if err := c.manager.Ingest(point); err != nil {
				c.logger.Warn("dropping bad feed point",
					zap.Error(err),
					zap.String("symbol", point.Symbol))
				continue
			}
			pending = append(pending, point)

		case <-ticker.C:
			pending = c.flush(ctx, pending)

		case <-ctx.Done():
			c.shutdown(pending)
			return
		}
	}
}

// shutdown closes the publish gate, then keeps consuming until every
// in-flight Publish has returned so no acknowledged point is lost, and
// finally flushes what remains.
func (c *Collector) shutdown(pending []model.MarketDataPoint) {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	settled := make(chan struct{})
	go func() {
		c.publishers.Wait()
		close(settled)
	}()

	for {
		select {
		case point := <-c.points:
			if err := c.manager.Ingest(point); err != nil {
				continue
			}
			pending = append(pending, point)
		case <-settled:
			c.drain(&pending)
			c.flush(context.Background(), pending)
			c.logger.Info("collector stopped")
			return
		}
	}
}

// drain empties whatever is still queued at shutdown.
func (c *Collector) drain(pending *[]model.MarketDataPoint) {
	for {
		select {
		case point := <-c.points:
			if err := c.manager.Ingest(point); err != nil {
				continue
			}
			*pending = append(*pending, point)
		default:
			return
		}
	}
}

func (c *Collector) flush(ctx context.Context, pending []model.MarketDataPoint) []model.MarketDataPoint {
	if len(pending) == 0 {
		return pending
	}
	if err := c.persister.InsertBatch(ctx, pending); err != nil {
		// Keep the batch; the next flush retries at the persister's pace.
		c.logger.Error("failed to persist market data batch",
			zap.Error(err),
			zap.Int("points", len(pending)))
		return pending
	}
	c.logger.Debug("persisted market data batch", zap.Int("points", len(pending)))
	return pending[:0]
}
