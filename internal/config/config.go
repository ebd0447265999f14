package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lock-credential-bridge/internal/slots"
)

// Config represents the bridge configuration
type Config struct {
	// Project whose locks are resolved when no project is given explicitly
	ProjectID string `mapstructure:"project_id"`

	Upstream UpstreamConfig `mapstructure:"upstream"`
	Slots    SlotsConfig    `mapstructure:"slots"`
	Bulk     BulkConfig     `mapstructure:"bulk"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Redis    RedisConfig    `mapstructure:"redis"`
	API      APIConfig      `mapstructure:"api"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// UpstreamConfig points at the device-management service
type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIToken    string        `mapstructure:"api_token"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PageSize    int           `mapstructure:"page_size"`
}

// SlotsConfig describes the credential slot range of the deployed locks
type SlotsConfig struct {
	First    int   `mapstructure:"first"`
	Last     int   `mapstructure:"last"`
	Reserved []int `mapstructure:"reserved"`
}

// BulkConfig tunes the bulk credential operations
type BulkConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ResolverConfig tunes device discovery
type ResolverConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// JournalConfig controls the operation journal
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // sqlite3, postgres
	DSN     string `mapstructure:"dsn"`
}

// RedisConfig controls report publishing
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	ListKey    string `mapstructure:"list_key"`
	Channel    string `mapstructure:"channel"`
	MaxReports int64  `mapstructure:"max_reports"`
}

// APIConfig holds the HTTP API listener settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	layout := slots.DefaultLayout()

	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:     "https://devices.example.com",
			CallTimeout: 15 * time.Second,
			MaxRetries:  2,
			PageSize:    100,
		},
		Slots: SlotsConfig{
			First:    layout.First,
			Last:     layout.Last,
			Reserved: layout.Reserved,
		},
		Bulk: BulkConfig{
			Concurrency:  5,
			BatchTimeout: 2 * time.Minute,
		},
		Resolver: ResolverConfig{
			Concurrency: 4,
		},
		Journal: JournalConfig{
			Enabled: true,
			Driver:  "sqlite3",
			DSN:     "./lockbridge.db",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			ListKey:    "lockbridge:reports",
			Channel:    "lockbridge:operations",
			MaxReports: 500,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/lock-credential-bridge")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lock-credential-bridge"))
		}
	}

	v.SetEnvPrefix("LOCKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides are picked up
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("upstream.base_url", cfg.Upstream.BaseURL)
	v.SetDefault("upstream.api_token", cfg.Upstream.APIToken)
	v.SetDefault("upstream.call_timeout", cfg.Upstream.CallTimeout)
	v.SetDefault("upstream.max_retries", cfg.Upstream.MaxRetries)
	v.SetDefault("upstream.page_size", cfg.Upstream.PageSize)
	v.SetDefault("slots.first", cfg.Slots.First)
	v.SetDefault("slots.last", cfg.Slots.Last)
	v.SetDefault("slots.reserved", cfg.Slots.Reserved)
	v.SetDefault("bulk.concurrency", cfg.Bulk.Concurrency)
	v.SetDefault("bulk.batch_timeout", cfg.Bulk.BatchTimeout)
	v.SetDefault("resolver.concurrency", cfg.Resolver.Concurrency)
	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.driver", cfg.Journal.Driver)
	v.SetDefault("journal.dsn", cfg.Journal.DSN)
	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.list_key", cfg.Redis.ListKey)
	v.SetDefault("redis.channel", cfg.Redis.Channel)
	v.SetDefault("redis.max_reports", cfg.Redis.MaxReports)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}

	if c.Upstream.CallTimeout <= 0 {
		return fmt.Errorf("upstream.call_timeout must be positive")
	}

	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative")
	}

	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be positive")
	}

	if err := c.SlotLayout().Validate(); err != nil {
		return fmt.Errorf("slots: %w", err)
	}

	if c.Bulk.Concurrency <= 0 {
		return fmt.Errorf("bulk.concurrency must be positive")
	}

	if c.Bulk.BatchTimeout <= 0 {
		return fmt.Errorf("bulk.batch_timeout must be positive")
	}

	if c.Resolver.Concurrency <= 0 {
		return fmt.Errorf("resolver.concurrency must be positive")
	}

	if c.Journal.Enabled {
		if c.Journal.Driver != "sqlite3" && c.Journal.Driver != "postgres" {
			return fmt.Errorf("journal.driver must be one of: sqlite3, postgres")
		}
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn is required when the journal is enabled")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// SlotLayout converts the slot settings to an allocator layout
func (c *Config) SlotLayout() slots.Layout {
	reserved := make([]int, len(c.Slots.Reserved))
	copy(reserved, c.Slots.Reserved)

	return slots.Layout{
		First:    c.Slots.First,
		Last:     c.Slots.Last,
		Reserved: reserved,
	}
}
