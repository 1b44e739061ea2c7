/*
Package config loads engine configuration from YAML with environment
overrides.

All settings have working defaults; a missing config file is not an
error, so `go run ./cmd/server` works out of the box against a local
SQLite file.

Environment variables override file values with the YIELD_ prefix and
underscores for nesting, e.g. YIELD_SERVER_PORT=9090.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Deposits    DepositsConfig    `mapstructure:"deposits"`
	Withdrawals WithdrawalsConfig `mapstructure:"withdrawals"`
	Referral    ReferralConfig    `mapstructure:"referral"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
}

type DepositsConfig struct {
	MinConfirmations int `mapstructure:"min_confirmations"`
}

type WithdrawalsConfig struct {
	// TTL is how long a PENDING request may sit before the scheduler
	// expires it and refunds the hold.
	TTL time.Duration `mapstructure:"ttl"`
}

type ReferralConfig struct {
	// Rate is the commission fraction, e.g. "0.05" for 5%.
	Rate string `mapstructure:"rate"`
}

type GatewayConfig struct {
	// Secret signs payment-gateway callbacks (HMAC-SHA256 over the raw
	// body). Callbacks with a bad signature never reach the reconciler.
	Secret string `mapstructure:"secret"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Group   string   `mapstructure:"group"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// Load reads the config file at path (optional) plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "yield.db")
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("deposits.min_confirmations", 3)
	v.SetDefault("withdrawals.ttl", 24*time.Hour)
	v.SetDefault("referral.rate", "0.05")
	v.SetDefault("gateway.secret", "")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "chain.transfers")
	v.SetDefault("kafka.group", "yield-engine")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetEnvPrefix("YIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
