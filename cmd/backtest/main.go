// Command backtest runs a strategy backtest from the command line and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/cache"
	"github.com/chigefeijimu/rust-trade/internal/config"
	"github.com/chigefeijimu/rust-trade/internal/marketdata"
	"github.com/chigefeijimu/rust-trade/internal/repository"
	"github.com/chigefeijimu/rust-trade/internal/service"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "config file path")
		symbol     = flag.String("symbol", "", "symbol to backtest, e.g. BTC/USDT")
		strategy   = flag.String("strategy", service.StrategyTypeSMACross, "strategy type")
		days       = flag.Int("days", 0, "window: number of days back from now")
		start      = flag.String("start", "", "window start, RFC 3339")
		end        = flag.String("end", "", "window end, RFC 3339")
		capital    = flag.String("capital", "10000", "initial capital")
		commission = flag.String("commission", "", "commission rate, e.g. 0.001")
		params     = flag.String("params", "", "strategy parameters, k=v comma separated")
		timeout    = flag.Duration("timeout", 5*time.Minute, "run timeout")
	)
	flag.Parse()

	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.DBName, cfg.Database.SSLMode,
	)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewMarketDataRepository(db, logger)
	dataCache := cache.NewMarketDataCache(cfg.Cache.MaxPointsPerSymbol, logger)
	manager := marketdata.NewManager(dataCache, repo, logger)
	backtests := service.NewBacktestService(manager, logger)

	req := &service.BacktestRequest{
		StrategyType:       *strategy,
		Symbol:             *symbol,
		Days:               *days,
		InitialCapital:     *capital,
		CommissionRate:     *commission,
		StrategyParameters: parseParams(*params),
	}
	if req.CommissionRate == "" {
		req.CommissionRate = cfg.Backtest.DefaultCommissionRate
	}
	if req.Days == 0 && *start == "" {
		req.Days = cfg.Backtest.DefaultDays
	}
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			logger.Fatal("Invalid start time", zap.Error(err))
		}
		req.StartTime = &t
	}
	if *end != "" {
		t, err := time.Parse(time.RFC3339, *end)
		if err != nil {
			logger.Fatal("Invalid end time", zap.Error(err))
		}
		req.EndTime = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := backtests.RunBacktest(ctx, req)
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("Failed to encode result", zap.Error(err))
	}
	fmt.Println(string(out))
}

func parseParams(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	params := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		}
	}
	return params
}
