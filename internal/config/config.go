// Package config loads the service configuration from a YAML file with
// environment variable overrides. The encryption key never lives in the file;
// it comes from the environment only and its absence is fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perpjournal/tradesync/internal/secrets"
)

// Config is the complete service configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Exchanges ExchangesConfig `yaml:"exchanges"`

	// EncryptionKey is populated from ENCRYPTION_KEY, never from YAML.
	EncryptionKey string `yaml:"-"`
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeSecs int    `yaml:"conn_max_life_secs"`
}

// ConnMaxLifetime converts the configured seconds to a duration.
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifeSecs) * time.Second
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type SchedulerConfig struct {
	IntervalSecs     int `yaml:"interval_secs"`
	MisfireGraceSecs int `yaml:"misfire_grace_secs"`
}

// Interval is the cadence between scheduler firings.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSecs) * time.Second
}

// MisfireGrace bounds how late a missed firing may still run.
func (s SchedulerConfig) MisfireGrace() time.Duration {
	return time.Duration(s.MisfireGraceSecs) * time.Second
}

// ExchangesConfig carries per-venue base-URL overrides, used for testnets and
// regional endpoints. Empty strings select production defaults.
type ExchangesConfig struct {
	BinanceBaseURL     string `yaml:"binance_base_url"`
	BybitBaseURL       string `yaml:"bybit_base_url"`
	BlofinBaseURL      string `yaml:"blofin_base_url"`
	HyperliquidBaseURL string `yaml:"hyperliquid_base_url"`

	// HyperliquidDefaultLeverage replaces the 10x assumption process-wide.
	HyperliquidDefaultLeverage float64 `yaml:"hyperliquid_default_leverage"`
}

// Load reads the YAML file at path (optional), applies environment overrides,
// fills defaults, and validates. A missing or empty ENCRYPTION_KEY is an
// error: the caller is expected to treat it as fatal.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("%s is not set", secrets.EncryptionKeyEnv)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database DSN is not set (DATABASE_URL)")
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		c.Exchanges.BinanceBaseURL = v
	}
	if v := os.Getenv("BYBIT_BASE_URL"); v != "" {
		c.Exchanges.BybitBaseURL = v
	}
	if v := os.Getenv("BLOFIN_BASE_URL"); v != "" {
		c.Exchanges.BlofinBaseURL = v
	}
	if v := os.Getenv("HYPERLIQUID_BASE_URL"); v != "" {
		c.Exchanges.HyperliquidBaseURL = v
	}
	c.EncryptionKey = os.Getenv(secrets.EncryptionKeyEnv)
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifeSecs == 0 {
		c.Database.ConnMaxLifeSecs = int((5 * time.Minute).Seconds())
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Scheduler.IntervalSecs == 0 {
		c.Scheduler.IntervalSecs = int((24 * time.Hour).Seconds())
	}
	if c.Scheduler.MisfireGraceSecs == 0 {
		c.Scheduler.MisfireGraceSecs = int(time.Hour.Seconds())
	}
	if c.Exchanges.HyperliquidDefaultLeverage == 0 {
		c.Exchanges.HyperliquidDefaultLeverage = 10.0
	}
}
