package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for FarmRa Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Ingest    MQTTIngestConfig    `yaml:"ingest"`
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

// MQTTIngestConfig controls reading ingestion over MQTT.
type MQTTIngestConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
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

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains the Redis connection used by the session store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Seed      SeedConfig      `yaml:"seed"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
	ClockSkew      int    `yaml:"clock_skew"`       // seconds
}

// Session modes and stores.
const (
	SessionModeToken   = "token"
	SessionModeSession = "session"

	SessionStoreSQLite = "sqlite"
	SessionStoreRedis  = "redis"
)

// SessionConfig selects how authenticated requests carry their credential.
// Mode "token" uses bearer JWTs; mode "session" uses a server-side session
// referenced by a cookie.
type SessionConfig struct {
	Mode         string `yaml:"mode"`
	Store        string `yaml:"store"`
	TTL          int    `yaml:"ttl"` // minutes
	CookieName   string `yaml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure"`
}

// PasswordConfig is the minimum-strength policy applied at signup.
type PasswordConfig struct {
	MinLength     int    `yaml:"min_length"`
	RequireUpper  bool   `yaml:"require_upper"`
	RequireDigit  bool   `yaml:"require_digit"`
	RequireSymbol bool   `yaml:"require_symbol"`
	Symbols       string `yaml:"symbols"`
}

// RateLimitConfig contains rate limiting settings for the credential endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// SeedConfig names the principal created when the credential store is empty.
type SeedConfig struct {
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FARMRA_SECTION_KEY
// For example: FARMRA_DATABASE_PATH, FARMRA_API_PORT
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/farmra.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "farmra-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Ingest: MQTTIngestConfig{
				Enabled:     true,
				TopicPrefix: "farmra/telemetry",
			},
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
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "farmra",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 120,
			},
			Session: SessionConfig{
				Mode:       SessionModeToken,
				Store:      SessionStoreSQLite,
				TTL:        120,
				CookieName: "farmra_session",
			},
			Password: PasswordConfig{
				MinLength:     8,
				RequireUpper:  true,
				RequireDigit:  true,
				RequireSymbol: true,
				Symbols:       "@$!%*?&",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             5,
			},
			Seed: SeedConfig{
				Role: "ADMIN",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FARMRA_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FARMRA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FARMRA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FARMRA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("FARMRA_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FARMRA_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("FARMRA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("FARMRA_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	// Always override the secret in production.
	if v := os.Getenv("FARMRA_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("FARMRA_SESSION_MODE"); v != "" {
		cfg.Security.Session.Mode = v
	}
	if v := os.Getenv("FARMRA_SEED_EMAIL"); v != "" {
		cfg.Security.Seed.Email = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Ingest.Enabled && c.MQTT.Ingest.TopicPrefix == "" {
		errs = append(errs, "mqtt.ingest.topic_prefix is required when ingestion is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set FARMRA_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.JWT.AccessTokenTTL < 1 {
		errs = append(errs, "security.jwt.access_token_ttl must be at least 1 minute")
	}
	if c.Security.JWT.ClockSkew < 0 {
		errs = append(errs, "security.jwt.clock_skew must not be negative")
	}

	switch c.Security.Session.Mode {
	case SessionModeToken:
	case SessionModeSession:
		switch c.Security.Session.Store {
		case SessionStoreSQLite:
		case SessionStoreRedis:
			if c.Redis.URL == "" {
				errs = append(errs, "redis.url is required when security.session.store is redis")
			}
		default:
			errs = append(errs, "security.session.store must be sqlite or redis")
		}
		if c.Security.Session.TTL < 1 {
			errs = append(errs, "security.session.ttl must be at least 1 minute")
		}
		if c.Security.Session.CookieName == "" {
			errs = append(errs, "security.session.cookie_name is required in session mode")
		}
	default:
		errs = append(errs, "security.session.mode must be token or session")
	}

	if c.Security.Password.MinLength < 1 {
		errs = append(errs, "security.password.min_length must be at least 1")
	}
	if c.Security.Password.RequireSymbol && c.Security.Password.Symbols == "" {
		errs = append(errs, "security.password.symbols is required when require_symbol is set")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be at least 1")
	}

	switch strings.ToUpper(strings.TrimSpace(c.Security.Seed.Role)) {
	case "", "FARMER", "TECHNICIAN", "ADMIN", "CUSTOMER":
	default:
		errs = append(errs, "security.seed.role must be one of FARMER, TECHNICIAN, ADMIN, CUSTOMER")
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

// AccessTokenTTL returns the bearer token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// ClockSkew returns the tolerated clock skew when verifying tokens.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.Security.JWT.ClockSkew) * time.Second
}

// SessionTTL returns the server-side session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Security.Session.TTL) * time.Minute
}
