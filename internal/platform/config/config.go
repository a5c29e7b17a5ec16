package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server captures process level configuration.
type Server struct {
	Addr     string `mapstructure:"PATIENTSYNC_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogJSON  bool   `mapstructure:"LOG_JSON"`

	Registry RegistryConfig `mapstructure:",squash"`
	Process  ProcessConfig  `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Audit    AuditConfig    `mapstructure:",squash"`
}

// RegistryConfig points at the third-party patient registry.
type RegistryConfig struct {
	BaseURL string `mapstructure:"REGISTRY_BASE_URL"`
}

// ProcessConfig tunes the cached, rate-limited process call.
type ProcessConfig struct {
	RateLimitPerMinute int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	CacheTTL           time.Duration `mapstructure:"PROCESS_CACHE_TTL"`
}

// DatabaseConfig selects the local store. An empty URL keeps records in memory.
type DatabaseConfig struct {
	URL          string `mapstructure:"DATABASE_URL"`
	MaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
}

// RedisConfig selects the shared cache. An empty URL uses in-process stores.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// AuditConfig selects where lifecycle audit events go. No brokers keeps
// events in memory.
type AuditConfig struct {
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"AUDIT_TOPIC"`
}

var keys = []string{
	"PATIENTSYNC_ADDR", "LOG_LEVEL", "LOG_JSON",
	"REGISTRY_BASE_URL",
	"RATE_LIMIT_PER_MINUTE", "PROCESS_CACHE_TTL",
	"DATABASE_URL", "DB_MAX_OPEN_CONNS",
	"REDIS_URL", "REDIS_POOL_SIZE", "REDIS_MIN_IDLE_CONNS",
	"REDIS_DIAL_TIMEOUT", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT",
	"KAFKA_BROKERS", "AUDIT_TOPIC",
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Server, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Server, error) {
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PATIENTSYNC_ADDR", ":8000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", true)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("PROCESS_CACHE_TTL", 5*time.Minute)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
	v.SetDefault("AUDIT_TOPIC", "patient-audit")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Server{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Audit.Brokers) == 1 && strings.Contains(cfg.Audit.Brokers[0], ",") {
		cfg.Audit.Brokers = strings.Split(cfg.Audit.Brokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values.
func (c *Server) Validate() error {
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("REGISTRY_BASE_URL is required")
	}
	if c.Process.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Process.RateLimitPerMinute)
	}
	if c.Process.CacheTTL <= 0 {
		return fmt.Errorf("PROCESS_CACHE_TTL must be positive, got %s", c.Process.CacheTTL)
	}
	return nil
}
