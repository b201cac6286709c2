package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
)

// Config represents the main structure mapping the entire application configuration.
// This struct uses mapstructure tags to map YAML keys to Go struct fields.
type Config struct {
	// Server configuration section containing HTTP server settings
	Server struct {
		Port            int           `mapstructure:"port"`             // HTTP server port (default: 8080)
		BaseURL         string        `mapstructure:"base_url"`         // Base URL for generating short links
		TrustedProxies  []string      `mapstructure:"trusted_proxies"`  // Proxies allowed to set X-Forwarded-For
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // http.Server read timeout
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // http.Server write timeout
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // Grace period for in-flight requests and ledger drain
	} `mapstructure:"server"`

	// Database configuration section
	Database struct {
		Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
		Name   string `mapstructure:"name"`   // SQLite database file name
		DSN    string `mapstructure:"dsn"`    // Postgres connection string
	} `mapstructure:"database"`

	// Classifier holds the visitor validity policy
	Classifier struct {
		TargetMarket   string        `mapstructure:"target_market"`   // ISO country code counted as monetizable
		FallbackValid  bool          `mapstructure:"fallback_valid"`  // Validity used when the oracle fails
		OracleTimeout  time.Duration `mapstructure:"oracle_timeout"`  // Upper bound on a single oracle lookup
		SignaturesFile string        `mapstructure:"signatures_file"` // Optional YAML preview-bot table
	} `mapstructure:"classifier"`

	// Oracle configures the IP reputation lookup
	Oracle struct {
		BaseURL       string        `mapstructure:"base_url"`
		RatePerSecond float64       `mapstructure:"rate_per_second"`
		Burst         int           `mapstructure:"burst"`
		CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"oracle"`

	Redis struct {
		URL string `mapstructure:"url"` // Empty disables the redis cache and code store
	} `mapstructure:"redis"`

	// Ledger configuration for asynchronous click recording
	Ledger struct {
		BufferSize   int           `mapstructure:"buffer_size"`   // Size of the click channel buffer
		WorkerCount  int           `mapstructure:"worker_count"`  // Number of worker goroutines writing clicks
		WriteTimeout time.Duration `mapstructure:"write_timeout"` // Timeout of one write attempt
		MaxAttempts  int           `mapstructure:"max_attempts"`  // Attempts per click before it counts as failed
		Kafka        struct {
			Brokers []string `mapstructure:"brokers"`
			Topic   string   `mapstructure:"topic"`
		} `mapstructure:"kafka"`
	} `mapstructure:"ledger"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		Issuer    string        `mapstructure:"issuer"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
		CodeTTL   time.Duration `mapstructure:"code_ttl"`

		HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`   // How long the auth page waits for the extension
		HandshakeCountdown int           `mapstructure:"handshake_countdown"` // Seconds before the page closes after success
	} `mapstructure:"auth"`

	// Monitor configuration for target URL health checking
	Monitor struct {
		Enabled         bool `mapstructure:"enabled"`
		IntervalMinutes int  `mapstructure:"interval_minutes"` // Interval in minutes between checks
	} `mapstructure:"monitor"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig loads the application configuration using Viper.
// A .env file is applied first when present, then ./configs/config.yaml,
// then environment variables (server.port <- SERVER_PORT).
func LoadConfig() (*Config, error) {
	return Load("./configs")
}

// Load reads configuration from the given directory. A missing config file is
// not an error; defaults and environment variables still apply.
func Load(dir string) (*Config, error) {
	// Ignore error if .env not found (e.g. prod)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, customerrors.ErrConfigLoad{Path: dir, Reason: err.Error()}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.name", "linkcloak.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("classifier.target_market", "VN")
	v.SetDefault("classifier.fallback_valid", false)
	v.SetDefault("classifier.oracle_timeout", 800*time.Millisecond)
	v.SetDefault("classifier.signatures_file", "")

	v.SetDefault("oracle.base_url", "http://ip-api.com")
	v.SetDefault("oracle.rate_per_second", 40.0)
	v.SetDefault("oracle.burst", 10)
	v.SetDefault("oracle.cache_ttl", 6*time.Hour)

	v.SetDefault("redis.url", "")

	v.SetDefault("ledger.buffer_size", 1000)
	v.SetDefault("ledger.worker_count", 5)
	v.SetDefault("ledger.write_timeout", 2*time.Second)
	v.SetDefault("ledger.max_attempts", 2)
	v.SetDefault("ledger.kafka.brokers", []string{})
	v.SetDefault("ledger.kafka.topic", "click-events")

	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.issuer", "linkcloak")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.code_ttl", 2*time.Minute)
	v.SetDefault("auth.handshake_timeout", 5*time.Second)
	v.SetDefault("auth.handshake_countdown", 5)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval_minutes", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Ledger.WorkerCount < 1 {
		return fmt.Errorf("ledger.worker_count must be at least 1")
	}
	if c.Ledger.BufferSize < 0 {
		return fmt.Errorf("ledger.buffer_size must not be negative")
	}
	if c.Ledger.MaxAttempts < 1 {
		c.Ledger.MaxAttempts = 1
	}
	if c.Classifier.OracleTimeout <= 0 {
		return fmt.Errorf("classifier.oracle_timeout must be positive")
	}
	if len(c.Classifier.TargetMarket) != 2 {
		return fmt.Errorf("classifier.target_market must be a two-letter country code")
	}
	return nil
}
