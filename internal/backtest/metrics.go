package backtest

import (
	"math"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/model"

	"github.com/shopspring/decimal"
)

// Annualization constants for the risk-adjusted ratios.
const (
	riskFreeRate   = 0.02
	periodsPerYear = 252
)

// Metrics summarizes the performance of a run.
type Metrics struct {
	TotalReturn   decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int

	// WinRate is winning trades over all trades, as a percentage.
	WinRate decimal.Decimal
	// ProfitFactor is gross profit over gross loss across closed round
	// trips. With no losing round trips the divisor is taken as one unit.
	ProfitFactor decimal.Decimal
	// AvgProfitPerTrade is the mean net P&L of a closed round trip.
	AvgProfitPerTrade decimal.Decimal

	SharpeRatio  float64
	SortinoRatio float64

	MaxDrawdown decimal.Decimal
	// MaxDrawdownDuration is the peak-to-trough time of the deepest
	// drawdown.
	MaxDrawdownDuration time.Duration

	TotalCommission decimal.Decimal
	TotalVolume     decimal.Decimal
}

// buyLot is an open long position slice awaiting a matching sell.
type buyLot struct {
	quantity       decimal.Decimal
	price          decimal.Decimal
	unitCommission decimal.Decimal
}

// ComputeMetrics derives the performance report from the trade list and
// equity curve.
//
// Win/loss counting pairs sells against earlier buys FIFO: each sell trade
// closes one round trip, classified by its net P&L including both legs'
// commissions. Buy trades are not classified; positions still open at run
// end therefore show up only in the total return through their unrealized
// value.
func ComputeMetrics(trades []model.Trade, equity []model.EquityPoint, initialCapital decimal.Decimal) Metrics {
	m := Metrics{
		TotalTrades: len(trades),
		TotalReturn: totalReturn(equity, initialCapital),
	}
	m.MaxDrawdown, m.MaxDrawdownDuration = maxDrawdown(equity)

	var lots []buyLot
	var roundTrips []decimal.Decimal
	for _, trade := range trades {
		m.TotalCommission = m.TotalCommission.Add(trade.Commission)
		m.TotalVolume = m.TotalVolume.Add(trade.Quantity.Mul(trade.Price))

		switch trade.Side {
		case model.OrderSideBuy:
			lots = append(lots, buyLot{
				quantity:       trade.Quantity,
				price:          trade.Price,
				unitCommission: safeDiv(trade.Commission, trade.Quantity),
			})

		case model.OrderSideSell:
			remaining := trade.Quantity
			costBasis := decimal.Zero
			for len(lots) > 0 && remaining.IsPositive() {
				lot := &lots[0]
				matched := decimal.Min(lot.quantity, remaining)
				costBasis = costBasis.Add(matched.Mul(lot.price.Add(lot.unitCommission)))
				lot.quantity = lot.quantity.Sub(matched)
				remaining = remaining.Sub(matched)
				if lot.quantity.IsZero() {
					lots = lots[1:]
				}
			}

			matchedQty := trade.Quantity.Sub(remaining)
			if matchedQty.IsZero() {
				continue
			}
			proceeds := matchedQty.Mul(trade.Price).Sub(trade.Commission)
			netPL := proceeds.Sub(costBasis)
			roundTrips = append(roundTrips, netPL)
			if netPL.IsPositive() {
				m.WinningTrades++
			} else {
				m.LosingTrades++
			}
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}
	m.ProfitFactor = profitFactor(roundTrips)
	m.AvgProfitPerTrade = avgProfit(roundTrips)

	returns := periodReturns(equity)
	m.SharpeRatio = sharpeRatio(returns)
	m.SortinoRatio = sortinoRatio(returns)

	return m
}

// totalReturn is the percentage gain of the final equity value over the
// initial capital.
func totalReturn(equity []model.EquityPoint, initialCapital decimal.Decimal) decimal.Decimal {
	if len(equity) == 0 || !initialCapital.IsPositive() {
		return decimal.Zero
	}
	final := equity[len(equity)-1].Value
	return final.Sub(initialCapital).Div(initialCapital).Mul(decimal.NewFromInt(100))
}

// profitFactor is gross profit over gross loss across the closed round
// trips. With wins and no losses the loss side is taken as one unit so the
// factor stays finite.
func profitFactor(roundTrips []decimal.Decimal) decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, pl := range roundTrips {
		if pl.IsPositive() {
			grossProfit = grossProfit.Add(pl)
		} else {
			grossLoss = grossLoss.Add(pl.Neg())
		}
	}
	if grossLoss.IsZero() {
		if grossProfit.IsZero() {
			return decimal.NewFromInt(1)
		}
		return grossProfit
	}
	return grossProfit.Div(grossLoss)
}

// avgProfit is the mean net P&L over the closed round trips.
func avgProfit(roundTrips []decimal.Decimal) decimal.Decimal {
	if len(roundTrips) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, pl := range roundTrips {
		sum = sum.Add(pl)
	}
	return sum.Div(decimal.NewFromInt(int64(len(roundTrips))))
}

// periodReturns is the simple return between consecutive equity samples.
func periodReturns(equity []model.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev.IsZero() {
			returns = append(returns, 0)
			continue
		}
		r := equity[i].Value.Sub(prev).Div(prev)
		returns = append(returns, r.InexactFloat64())
	}
	return returns
}

// sharpeRatio annualizes the mean period return over its volatility,
// against the risk-free rate. Zero-volatility series score zero.
func sharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	volatility := math.Sqrt(variance * periodsPerYear)
	if volatility == 0 {
		return 0
	}
	return (mean*periodsPerYear - riskFreeRate) / volatility
}

// sortinoRatio is the Sharpe variant that penalizes only downside periods.
// Series with no negative period return score zero.
func sortinoRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	downside := 0.0
	n := 0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	deviation := math.Sqrt(downside / float64(n) * periodsPerYear)
	if deviation == 0 {
		return 0
	}
	return (meanOf(returns)*periodsPerYear - riskFreeRate) / deviation
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// maxDrawdown is the largest percentage decline from a running equity peak,
// with the peak-to-trough time of that decline. Curves with fewer than two
// points have no drawdown.
func maxDrawdown(equity []model.EquityPoint) (decimal.Decimal, time.Duration) {
	if len(equity) < 2 {
		return decimal.Zero, 0
	}

	maxDD := decimal.Zero
	var maxDuration time.Duration
	peak := equity[0].Value
	peakTime := equity[0].Timestamp
	for _, point := range equity[1:] {
		if point.Value.GreaterThan(peak) {
			peak = point.Value
			peakTime = point.Timestamp
			continue
		}
		if peak.IsPositive() {
			dd := peak.Sub(point.Value).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDD) {
				maxDD = dd
				maxDuration = point.Timestamp.Sub(peakTime)
			}
		}
	}
	return maxDD, maxDuration
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
