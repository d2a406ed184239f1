package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrStoreDriver = errors.New("config: unknown store driver")
	ErrMissingURL  = errors.New("config: store driver needs a connection url")
	ErrSyncRate    = errors.New("config: sync rate must be positive")
)

const EnvPrefix = "MATCHSTATE"

type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	StoreDriver string        `mapstructure:"store_driver"` // memory | redis | postgres
	RedisURL    string        `mapstructure:"redis_url"`
	DatabaseURL string        `mapstructure:"database_url"`
	StoreTTL    time.Duration `mapstructure:"store_ttl"`

	RosterDatabaseURL string        `mapstructure:"roster_database_url"` // empty disables roster lookups
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`

	SyncEndpoint string        `mapstructure:"sync_endpoint"` // empty disables meta sync
	SyncToken    string        `mapstructure:"sync_token"`
	SyncRate     float64       `mapstructure:"sync_rate"` // requests per second
	SyncBurst    int           `mapstructure:"sync_burst"`
	SyncTimeout  time.Duration `mapstructure:"sync_timeout"`

	MatchTTL      time.Duration `mapstructure:"match_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

var defaults = map[string]any{
	"http_addr":           ":8080",
	"log_level":           "info",
	"log_format":          "json",
	"store_driver":        "memory",
	"redis_url":           "",
	"database_url":        "",
	"store_ttl":           24 * time.Hour,
	"roster_database_url": "",
	"lookup_timeout":      3 * time.Second,
	"sync_endpoint":       "",
	"sync_token":          "",
	"sync_rate":           5.0,
	"sync_burst":          5,
	"sync_timeout":        5 * time.Second,
	"match_ttl":           30 * time.Minute,
	"sweep_interval":      time.Minute,
}

// Load reads .env files (if present) and then MATCHSTATE_* environment
// variables over the defaults.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		_ = godotenv.Load(path) // missing files are fine
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis", ErrMissingURL)
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres", ErrMissingURL)
		}
	default:
		return fmt.Errorf("%w: %q", ErrStoreDriver, c.StoreDriver)
	}
	if c.SyncEndpoint != "" && c.SyncRate <= 0 {
		return ErrSyncRate
	}
	return nil
}
