package repository

import (
	"context"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// MarketDataRepository handles database operations for market data. It is
// the persistent-store collaborator behind the market data manager.
type MarketDataRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewMarketDataRepository creates a new market data repository
func NewMarketDataRepository(db *sqlx.DB, logger *zap.Logger) *MarketDataRepository {
	return &MarketDataRepository{
		db:     db,
		logger: logger,
	}
}

// FetchRange retrieves market data for a symbol between start and end,
// inclusive, in ascending timestamp order
func (r *MarketDataRepository) FetchRange(
	ctx context.Context,
	symbol string,
	start, end time.Time,
) ([]model.MarketDataPoint, error) {
	query := `
		SELECT timestamp, symbol, price, volume, high, low, open, close
		FROM market_data
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`

	var data []model.MarketDataPoint
	err := r.db.SelectContext(ctx, &data, query, symbol, start, end)
	if err != nil {
		r.logger.Error("Failed to fetch market data range",
			zap.Error(err),
			zap.String("symbol", symbol))
		return nil, err
	}

	return data, nil
}

// FetchRangeMulti retrieves market data for several symbols at once,
// ordered by symbol then timestamp
func (r *MarketDataRepository) FetchRangeMulti(
	ctx context.Context,
	symbols []string,
	start, end time.Time,
) ([]model.MarketDataPoint, error) {
	query := `
		SELECT timestamp, symbol, price, volume, high, low, open, close
		FROM market_data
		WHERE symbol = ANY($1) AND timestamp >= $2 AND timestamp <= $3
		ORDER BY symbol, timestamp ASC
	`

	var data []model.MarketDataPoint
	err := r.db.SelectContext(ctx, &data, query, pq.Array(symbols), start, end)
	if err != nil {
		r.logger.Error("Failed to fetch multi-symbol market data",
			zap.Error(err),
			zap.Strings("symbols", symbols))
		return nil, err
	}

	return data, nil
}

// FetchLatest retrieves the most recent n points for a symbol, ascending
func (r *MarketDataRepository) FetchLatest(
	ctx context.Context,
	symbol string,
	n int,
) ([]model.MarketDataPoint, error) {
	query := `
		SELECT timestamp, symbol, price, volume, high, low, open, close
		FROM (
			SELECT timestamp, symbol, price, volume, high, low, open, close
			FROM market_data
			WHERE symbol = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) recent
		ORDER BY timestamp ASC
	`

	var data []model.MarketDataPoint
	err := r.db.SelectContext(ctx, &data, query, symbol, n)
	if err != nil {
		r.logger.Error("Failed to fetch latest market data",
			zap.Error(err),
			zap.String("symbol", symbol))
		return nil, err
	}

	return data, nil
}

// InsertBatch inserts a batch of market data points, overwriting points
// that already exist at the same symbol and timestamp
func (r *MarketDataRepository) InsertBatch(
	ctx context.Context,
	points []model.MarketDataPoint,
) error {
	if len(points) == 0 {
		return nil
	}

	// Using transaction for batch insert
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO market_data (timestamp, symbol, price, volume, high, low, open, close)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timestamp)
		DO UPDATE SET
			price = EXCLUDED.price,
			volume = EXCLUDED.volume,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			open = EXCLUDED.open,
			close = EXCLUDED.close
	`)
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		_, err = stmt.ExecContext(
			ctx,
			p.Timestamp,
			p.Symbol,
			p.Price,
			p.Volume,
			p.High,
			p.Low,
			p.Open,
			p.Close,
		)
		if err != nil {
			r.logger.Error("Failed to insert market data point",
				zap.Error(err),
				zap.String("symbol", p.Symbol),
				zap.Time("timestamp", p.Timestamp))
			return err
		}
	}

	return tx.Commit()
}

// InsertTicks persists trade-level records
func (r *MarketDataRepository) InsertTicks(
	ctx context.Context,
	ticks []model.Tick,
) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO tick_data (timestamp, symbol, price, quantity, side, trade_id, is_maker)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trade_id) DO NOTHING
	`)
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return err
	}
	defer stmt.Close()

	for _, t := range ticks {
		_, err = stmt.ExecContext(
			ctx,
			t.Timestamp,
			t.Symbol,
			t.Price,
			t.Quantity,
			string(t.Side),
			t.TradeID,
			t.IsMaker,
		)
		if err != nil {
			r.logger.Error("Failed to insert tick",
				zap.Error(err),
				zap.String("symbol", t.Symbol),
				zap.String("trade_id", t.TradeID))
			return err
		}
	}

	return tx.Commit()
}

// DeleteOlderThan removes market data older than the cutoff and returns
// the number of rows deleted
func (r *MarketDataRepository) DeleteOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM market_data WHERE timestamp < $1", cutoff)
	if err != nil {
		r.logger.Error("Failed to delete old market data", zap.Error(err))
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		r.logger.Info("Cleaned up old market data",
			zap.Int64("rows", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
