package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Deckvault Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Redis     RedisConfig     `yaml:"redis"`
	MongoDB   MongoDBConfig   `yaml:"mongodb"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthConfig controls identity, token and session behaviour.
type AuthConfig struct {
	// MultiUser enables authentication. When false every request runs as
	// the implicit local administrator and all access checks are skipped.
	MultiUser bool `yaml:"multi_user"`

	// AllowRegistration opens POST /auth/register to anonymous callers.
	// The very first account can always be registered.
	AllowRegistration bool `yaml:"allow_registration"`

	// DefaultRole is assigned to self-registered accounts.
	DefaultRole string `yaml:"default_role"`

	// MaxSessionsPerUser caps concurrent valid sessions. Oldest are evicted first.
	MaxSessionsPerUser int `yaml:"max_sessions_per_user"`

	// SessionReapInterval is how often invalid and expired sessions are
	// deleted, in minutes. 0 disables the background reaper.
	SessionReapInterval int `yaml:"session_reap_interval"`

	// BootstrapAdmin seeds an administrator on first start when the
	// users table is empty.
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin"`

	JWT JWTConfig `yaml:"jwt"`
}

// BootstrapAdminConfig contains the credentials for the first administrator.
type BootstrapAdminConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// JWTConfig contains JWT token settings. TTLs are in minutes.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// RateLimitConfig contains per-user request rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Backend           string `yaml:"backend"` // memory, redis
	RequestsPerWindow int    `yaml:"requests_per_window"`
	WindowSeconds     int    `yaml:"window_seconds"`
	SweepInterval     int    `yaml:"sweep_interval"` // seconds
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	Backend string `yaml:"backend"` // sqlite, mongodb
}

// RedisConfig contains Redis connection settings for the shared rate limiter.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MongoDBConfig contains MongoDB connection settings for the document session store.
type MongoDBConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// MQTTConfig contains MQTT broker connection settings for security events.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for auth metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DECKVAULT_SECTION_KEY
// For example: DECKVAULT_DATABASE_PATH, DECKVAULT_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/deckvault.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: AuthConfig{
			MultiUser:           true,
			AllowRegistration:   false,
			DefaultRole:         "editor",
			MaxSessionsPerUser:  10,
			SessionReapInterval: 60,
			JWT: JWTConfig{
				Issuer:          "deckvault",
				Audience:        "deckvault-api",
				AccessTokenTTL:  15,
				RefreshTokenTTL: 10080,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			Backend:           "memory",
			RequestsPerWindow: 100,
			WindowSeconds:     60,
			SweepInterval:     300,
		},
		Sessions: SessionsConfig{
			Backend: "sqlite",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "deckvault:ratelimit:",
		},
		MongoDB: MongoDBConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "deckvault",
			Collection: "sessions",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "deckvault-core",
			},
			QoS:         1,
			TopicPrefix: "deckvault",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "deckvault",
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DECKVAULT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("DECKVAULT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DECKVAULT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Auth
	if v := os.Getenv("DECKVAULT_MULTI_USER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.MultiUser = b
		}
	}
	if v := os.Getenv("DECKVAULT_ALLOW_REGISTRATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.AllowRegistration = b
		}
	}
	if v := os.Getenv("DECKVAULT_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.BootstrapAdmin.Password = v
	}

	// Always override the secret in production.
	if v := os.Getenv("DECKVAULT_JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
	}

	// Backends
	if v := os.Getenv("DECKVAULT_RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("DECKVAULT_SESSIONS_BACKEND"); v != "" {
		cfg.Sessions.Backend = v
	}
	if v := os.Getenv("DECKVAULT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DECKVAULT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DECKVAULT_MONGODB_URI"); v != "" {
		cfg.MongoDB.URI = v
	}

	// MQTT
	if v := os.Getenv("DECKVAULT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DECKVAULT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DECKVAULT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("DECKVAULT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// minJWTSecretLength is the shortest accepted explicit signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An empty secret is allowed and replaced by an insecure development
	// default at startup (with a warning). A short explicit one is a mistake.
	if c.Auth.JWT.Secret != "" && len(c.Auth.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "auth.jwt.secret must be at least 32 characters")
	}
	if c.Auth.JWT.AccessTokenTTL < 1 {
		errs = append(errs, "auth.jwt.access_token_ttl must be positive")
	}
	if c.Auth.JWT.RefreshTokenTTL <= c.Auth.JWT.AccessTokenTTL {
		errs = append(errs, "auth.jwt.refresh_token_ttl must exceed access_token_ttl")
	}
	if c.Auth.MaxSessionsPerUser < 1 {
		errs = append(errs, "auth.max_sessions_per_user must be at least 1")
	}
	switch c.Auth.DefaultRole {
	case "admin", "editor", "viewer":
	default:
		errs = append(errs, "auth.default_role must be admin, editor, or viewer")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow < 1 {
			errs = append(errs, "rate_limit.requests_per_window must be at least 1")
		}
		if c.RateLimit.WindowSeconds < 1 {
			errs = append(errs, "rate_limit.window_seconds must be at least 1")
		}
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when rate_limit.backend is redis")
		}
	default:
		errs = append(errs, "rate_limit.backend must be memory or redis")
	}

	switch c.Sessions.Backend {
	case "sqlite":
	case "mongodb":
		if c.MongoDB.URI == "" || c.MongoDB.Database == "" {
			errs = append(errs, "mongodb.uri and mongodb.database are required when sessions.backend is mongodb")
		}
	default:
		errs = append(errs, "sessions.backend must be sqlite or mongodb")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTokenTTL returns the refresh token (and session) lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.JWT.RefreshTokenTTL) * time.Minute
}

// RateLimitWindow returns the fixed rate limit window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}
