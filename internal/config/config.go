// Package config loads server configuration from an optional YAML file and
// the environment. Environment variables always win; a .env file is honored
// when present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the server binary.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	CORS        CORSConfig        `yaml:"cors"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig controls the PostgreSQL connection and the boot-time
// readiness wait.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Name            string        `yaml:"name" env:"DB_NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"DB_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int           `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"` // seconds
	WaitInterval    time.Duration `env:"DB_WAIT_INTERVAL"`
	WaitTimeout     time.Duration `env:"DB_WAIT_TIMEOUT"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.Name),
		fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	return strings.Join(parts, " ")
}

// RedisConfig controls the analytics cache. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL"`
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer     string        `yaml:"issuer" env:"JWT_ISSUER"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// TrackingConfig controls the collect pipeline.
type TrackingConfig struct {
	SessionIdleTimeout time.Duration `env:"TRACKING_SESSION_IDLE_TIMEOUT"`
	MaxMetadataBytes   int           `yaml:"max_metadata_bytes" env:"TRACKING_MAX_METADATA_BYTES"`
}

// MaintenanceConfig holds cron schedules for background jobs.
type MaintenanceConfig struct {
	SessionSweepSchedule string `yaml:"session_sweep_schedule" env:"MAINT_SESSION_SWEEP_SCHEDULE"`
	RetentionSchedule    string `yaml:"retention_schedule" env:"MAINT_RETENTION_SCHEDULE"`
	RollupSchedule       string `yaml:"rollup_schedule" env:"MAINT_ROLLUP_SCHEDULE"`
}

// CORSConfig lists allowed browser origins. "*" allows all.
type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Origins splits the comma-separated origin list.
func (c CORSConfig) Origins() []string {
	raw := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RateLimitConfig controls per-caller request budgets.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Load reads configuration. Order: built-in defaults, then the YAML file named
// by CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "db"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Name == "" {
		c.Database.Name = "onevisitor"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.WaitInterval == 0 {
		c.Database.WaitInterval = time.Second
	}
	if c.Database.WaitTimeout == 0 {
		c.Database.WaitTimeout = 60 * time.Second
	}

	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 5 * time.Minute
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "onevisitor"
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 7 * 24 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tracking.SessionIdleTimeout == 0 {
		c.Tracking.SessionIdleTimeout = 30 * time.Minute
	}
	if c.Tracking.MaxMetadataBytes == 0 {
		c.Tracking.MaxMetadataBytes = 8192
	}

	if c.Maintenance.SessionSweepSchedule == "" {
		c.Maintenance.SessionSweepSchedule = "@every 5m"
	}
	if c.Maintenance.RetentionSchedule == "" {
		c.Maintenance.RetentionSchedule = "0 3 * * *"
	}
	if c.Maintenance.RollupSchedule == "" {
		c.Maintenance.RollupSchedule = "30 0 * * *"
	}

	if c.CORS.AllowedOrigins == "" {
		c.CORS.AllowedOrigins = "*"
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Database.WaitInterval <= 0 {
		return fmt.Errorf("DB_WAIT_INTERVAL must be positive")
	}
	return nil
}
