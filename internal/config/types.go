package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Decision log drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config aggregates every setting the service needs.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	Journal     JournalConfig     `mapstructure:"journal"`
	DecisionLog DecisionLogConfig `mapstructure:"decision_log"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig points at Postgres. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisConfig enables the read-through cache when URL is set.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// ClickHouseConfig enables the price history source when DSN is set.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// JournalConfig is the SQLite journal location. When set, backtest runs
// are journaled too.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// DecisionLogConfig selects where decision records are written.
type DecisionLogConfig struct {
	Driver       string        `mapstructure:"driver"`
	BufferSize   int           `mapstructure:"buffer_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RiskConfig holds the no-op advisor thresholds per profile.
type RiskConfig struct {
	Thresholds          ThresholdConfig `mapstructure:"thresholds"`
	BacktestConcurrency int             `mapstructure:"backtest_concurrency"`
}

type ThresholdConfig struct {
	Defensive  decimal.Decimal `mapstructure:"defensive"`
	Normal     decimal.Decimal `mapstructure:"normal"`
	Aggressive decimal.Decimal `mapstructure:"aggressive"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment must not be empty"))
	}
	if c.HTTP.Addr == "" {
		err = multierr.Append(err, errors.New("http.addr must not be empty"))
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.RequestTimeout <= 0 {
		err = multierr.Append(err, errors.New("http timeouts must be positive"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("http.shutdown_timeout must be positive"))
	}
	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		err = multierr.Append(err, errors.New("redis.ttl must be positive when redis.url is set"))
	}

	switch c.DecisionLog.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			err = multierr.Append(err, errors.New("decision_log.driver postgres requires database.dsn"))
		}
	case DriverSQLite:
		if c.Journal.Path == "" {
			err = multierr.Append(err, errors.New("decision_log.driver sqlite requires journal.path"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("decision_log.driver %q is not one of memory, postgres, sqlite", c.DecisionLog.Driver))
	}
	if c.DecisionLog.BufferSize <= 0 {
		err = multierr.Append(err, errors.New("decision_log.buffer_size must be greater than 0"))
	}
	if c.DecisionLog.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("decision_log.write_timeout must be positive"))
	}

	thresholds := []struct {
		name  string
		value decimal.Decimal
	}{
		{"defensive", c.Risk.Thresholds.Defensive},
		{"normal", c.Risk.Thresholds.Normal},
		{"aggressive", c.Risk.Thresholds.Aggressive},
	}
	for _, th := range thresholds {
		if th.value.IsNegative() || th.value.GreaterThan(decimal.NewFromInt(100)) {
			err = multierr.Append(err, fmt.Errorf("risk.thresholds.%s must be within [0,100]", th.name))
		}
	}
	if c.Risk.BacktestConcurrency <= 0 {
		err = multierr.Append(err, errors.New("risk.backtest_concurrency must be greater than 0"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level must not be empty"))
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		err = multierr.Append(err, errors.New("logging.encoding must be json or console"))
	}

	return err
}
