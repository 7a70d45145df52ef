package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything the binaries need to wire the auction core.
type Config struct {
	Debug    bool           `mapstructure:"debug"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auction  AuctionConfig  `mapstructure:"auction"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	DSN           string `mapstructure:"dsn"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// NATSConfig holds the optional event-mirror settings. An empty URL disables
// the NATS sink.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// AuctionConfig holds core engine settings.
type AuctionConfig struct {
	EscrowAccount    string  `mapstructure:"escrow_account"`
	RegistryAddr     string  `mapstructure:"registry_addr"`
	CapabilitySecret string  `mapstructure:"capability_secret"`
	ThrottleBurst    int     `mapstructure:"throttle_burst"`
	ThrottlePerSec   float64 `mapstructure:"throttle_per_sec"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// and SAUDA_* environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("sauda")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows, so every key gets a
	// default.
	v.SetDefault("debug", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "sauda.events")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connection_name", "sauda-auction-core")
	v.SetDefault("auction.escrow_account", "escrow")
	v.SetDefault("auction.registry_addr", "deed-registry")
	v.SetDefault("auction.capability_secret", "")
	v.SetDefault("auction.throttle_burst", 0)
	v.SetDefault("auction.throttle_per_sec", 0.0)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the binaries rely on.
func (c *Config) Validate() error {
	if c.Auction.EscrowAccount == "" {
		return errors.New("auction.escrow_account is required")
	}
	if c.Auction.RegistryAddr == "" {
		return errors.New("auction.registry_addr is required")
	}
	if c.Auction.ThrottleBurst < 0 {
		return errors.New("auction.throttle_burst must not be negative")
	}
	if c.Auction.ThrottlePerSec < 0 {
		return errors.New("auction.throttle_per_sec must not be negative")
	}
	return nil
}
