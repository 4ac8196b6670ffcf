package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Database  DatabaseConfig
	Cache     CacheConfig
	Collector CollectorConfig
	Backtest  BacktestConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig bounds the in-memory market data cache
type CacheConfig struct {
	MaxPointsPerSymbol int
	RetentionDays      int
}

// CollectorConfig tunes the live-feed ingestion pump
type CollectorConfig struct {
	BufferSize    int
	FlushInterval time.Duration
}

// BacktestConfig holds backtest invocation defaults
type BacktestConfig struct {
	DefaultCommissionRate string
	DefaultDays           int
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variables override
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Cache defaults
	v.SetDefault("cache.maxPointsPerSymbol", 1000)
	v.SetDefault("cache.retentionDays", 30)

	// Collector defaults
	v.SetDefault("collector.bufferSize", 1000)
	v.SetDefault("collector.flushInterval", "1s")

	// Backtest defaults
	v.SetDefault("backtest.defaultCommissionRate", "0.001")
	v.SetDefault("backtest.defaultDays", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
