package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chigefeijimu/rust-trade/internal/cache"
	"github.com/chigefeijimu/rust-trade/internal/collector"
	"github.com/chigefeijimu/rust-trade/internal/config"
	"github.com/chigefeijimu/rust-trade/internal/marketdata"
	"github.com/chigefeijimu/rust-trade/internal/repository"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to database
	db, err := connectToDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize the store and the hot cache behind the manager
	marketDataRepo := repository.NewMarketDataRepository(db, logger)
	dataCache := cache.NewMarketDataCache(cfg.Cache.MaxPointsPerSymbol, logger)
	manager := marketdata.NewManager(dataCache, marketDataRepo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ingestion pump for the live feed collaborator
	feed := collector.New(manager, marketDataRepo, cfg.Collector.BufferSize, cfg.Collector.FlushInterval, logger)
	go feed.Run(ctx)

	// Periodic retention cleanup on the durable store
	go runRetentionCleanup(ctx, marketDataRepo, cfg.Cache.RetentionDays, logger)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	select {
	case <-feed.Done():
	case <-time.After(10 * time.Second):
		logger.Warn("collector did not stop in time")
	}

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Create logger config
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

func runRetentionCleanup(ctx context.Context, repo *repository.MarketDataRepository, retentionDays int, logger *zap.Logger) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			if _, err := repo.DeleteOlderThan(ctx, cutoff); err != nil {
				logger.Error("retention cleanup failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
