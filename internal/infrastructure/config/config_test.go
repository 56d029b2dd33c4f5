package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
  session:
    mode: session
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}
	if cfg.Security.Session.Mode != SessionModeSession {
		t.Errorf("Security.Session.Mode = %q, want %q", cfg.Security.Session.Mode, SessionModeSession)
	}
	// Values absent from the file keep their defaults.
	if cfg.Security.Session.Store != SessionStoreSQLite {
		t.Errorf("Security.Session.Store = %q, want %q", cfg.Security.Session.Store, SessionStoreSQLite)
	}
	if cfg.Security.JWT.AccessTokenTTL != 120 {
		t.Errorf("Security.JWT.AccessTokenTTL = %d, want 120", cfg.Security.JWT.AccessTokenTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for missing jwt secret, got nil")
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "negative clock skew",
			mutate:  func(c *Config) { c.Security.JWT.ClockSkew = -1 },
			wantErr: "clock_skew",
		},
		{
			name:    "unknown session mode",
			mutate:  func(c *Config) { c.Security.Session.Mode = "both" },
			wantErr: "security.session.mode",
		},
		{
			name: "redis store without url",
			mutate: func(c *Config) {
				c.Security.Session.Mode = SessionModeSession
				c.Security.Session.Store = SessionStoreRedis
			},
			wantErr: "redis.url",
		},
		{
			name: "redis store with url",
			mutate: func(c *Config) {
				c.Security.Session.Mode = SessionModeSession
				c.Security.Session.Store = SessionStoreRedis
				c.Redis.URL = "redis://localhost:6379/0"
			},
		},
		{
			name: "unknown session store",
			mutate: func(c *Config) {
				c.Security.Session.Mode = SessionModeSession
				c.Security.Session.Store = "memcached"
			},
			wantErr: "security.session.store",
		},
		{
			name:    "unknown seed role",
			mutate:  func(c *Config) { c.Security.Seed.Role = "SUPERUSER" },
			wantErr: "security.seed.role",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = ""
	cfg.API.Port = 0
	cfg.Security.JWT.Secret = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"database.path", "api.port", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
		Security: SecurityConfig{
			JWT:     JWTConfig{AccessTokenTTL: 120, ClockSkew: 5},
			Session: SessionConfig{TTL: 90},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.AccessTokenTTL(); got != 120*time.Minute {
		t.Errorf("AccessTokenTTL() = %v, want 120m", got)
	}
	if got := cfg.ClockSkew(); got != 5*time.Second {
		t.Errorf("ClockSkew() = %v, want 5s", got)
	}
	if got := cfg.SessionTTL(); got != 90*time.Minute {
		t.Errorf("SessionTTL() = %v, want 90m", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("FARMRA_DATABASE_PATH", "/custom/path.db")
	t.Setenv("FARMRA_MQTT_HOST", "mqtt.example.com")
	t.Setenv("FARMRA_MQTT_USERNAME", "testuser")
	t.Setenv("FARMRA_MQTT_PASSWORD", "testpass")
	t.Setenv("FARMRA_API_HOST", "192.168.1.1")
	t.Setenv("FARMRA_API_PORT", "9090")
	t.Setenv("FARMRA_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("FARMRA_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("FARMRA_JWT_SECRET", "jwt-secret")
	t.Setenv("FARMRA_SESSION_MODE", "session")
	t.Setenv("FARMRA_SEED_EMAIL", "admin@farm.example")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Redis.URL", cfg.Redis.URL, "redis://cache:6379/1"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"Security.Session.Mode", cfg.Security.Session.Mode, "session"},
		{"Security.Seed.Email", cfg.Security.Seed.Email, "admin@farm.example"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_IgnoresBadPort(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("FARMRA_API_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Security.Session.Mode != SessionModeToken {
		t.Errorf("defaultConfig Session.Mode = %q, want %q", cfg.Security.Session.Mode, SessionModeToken)
	}
	if cfg.Security.Password.Symbols != "@$!%*?&" {
		t.Errorf("defaultConfig Password.Symbols = %q", cfg.Security.Password.Symbols)
	}
}
