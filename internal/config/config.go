// Package config loads and validates the runtime configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the NAAP_ prefix (e.g.,
// NAAP_DATABASE_HOST overrides database.host in the YAML), so the same binary
// runs with a config.yaml in local development and with pure environment
// variables in containerised deployments.
//
// CRON_SECRET and BASE_SVC_URL have no NAAP_ prefix because they are injected
// by infrastructure tooling (cron runners, the platform's identity service
// deployment) that treats them as generic secret names rather than
// application-specific settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the listen address for the HTTP server.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration. The schema itself
// is owned by the platform's web layer; this service only needs a pool.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// IdentityConfig holds settings for validating caller sessions.
//
// BaseSvcURL points at the external auth service's session-validation
// endpoint. When JWTSecret is set, tokens that parse as HS256 JWTs are
// verified locally without a network round-trip; everything else falls
// through to the identity service.
type IdentityConfig struct {
	BaseSvcURL string        `mapstructure:"base_svc_url"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the optional Redis connection used for plan-based quota
// limiting. When disabled the runtime falls back to the in-process token
// bucket limiter.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig holds Service Gateway runtime tunables.
type GatewayConfig struct {
	CronSecret         string        `mapstructure:"cron_secret"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	ProbeConcurrency   int           `mapstructure:"probe_concurrency"`
	DegradedThreshold  time.Duration `mapstructure:"degraded_threshold"`
	ResolveCacheTTL    time.Duration `mapstructure:"resolve_cache_ttl"`
	ProxyMaxBodyBytes  int64         `mapstructure:"proxy_max_body_bytes"`
	HealthCheckEnabled bool          `mapstructure:"health_check_enabled"`
	HealthCheckEvery   time.Duration `mapstructure:"health_check_every"`
}

// LifecycleConfig holds plugin lifecycle tunables.
type LifecycleConfig struct {
	PortRangeStart     int           `mapstructure:"port_range_start"`
	PortRangeEnd       int           `mapstructure:"port_range_end"`
	HookTimeout        time.Duration `mapstructure:"hook_timeout"`
	HealthAttempts     int           `mapstructure:"health_attempts"`
	HealthRetryDelay   time.Duration `mapstructure:"health_retry_delay"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	MaxFailedChecks    int           `mapstructure:"max_failed_checks"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
	HealthyThreshold   int           `mapstructure:"healthy_threshold"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration.
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit-trail settings.
type AuditConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	LogReadOperations bool `mapstructure:"log_read_operations"`
}

// Load reads configuration from an optional YAML file and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NAAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/naap")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No config file is fine; defaults + env carry everything.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Infrastructure-injected secrets, unprefixed by convention.
	if s := os.Getenv("CRON_SECRET"); s != "" {
		cfg.Gateway.CronSecret = s
	}
	if u := os.Getenv("BASE_SVC_URL"); u != "" {
		cfg.Identity.BaseSvcURL = u
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that cannot produce a working runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Lifecycle.PortRangeStart >= c.Lifecycle.PortRangeEnd {
		return fmt.Errorf("invalid lifecycle port range: %d-%d",
			c.Lifecycle.PortRangeStart, c.Lifecycle.PortRangeEnd)
	}
	if c.Gateway.ProbeConcurrency <= 0 {
		return fmt.Errorf("gateway.probe_concurrency must be positive, got %d",
			c.Gateway.ProbeConcurrency)
	}
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" || c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("tls enabled but cert_file/key_file not set")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "naap")
	v.SetDefault("database.user", "naap")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("identity.timeout", "5s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("gateway.probe_timeout", "10s")
	v.SetDefault("gateway.probe_concurrency", 5)
	v.SetDefault("gateway.degraded_threshold", "2s")
	v.SetDefault("gateway.resolve_cache_ttl", "5m")
	v.SetDefault("gateway.proxy_max_body_bytes", 10*1024*1024)
	v.SetDefault("gateway.health_check_enabled", true)
	v.SetDefault("gateway.health_check_every", "5m")

	v.SetDefault("lifecycle.port_range_start", 4300)
	v.SetDefault("lifecycle.port_range_end", 4399)
	v.SetDefault("lifecycle.hook_timeout", "5m")
	v.SetDefault("lifecycle.health_attempts", 5)
	v.SetDefault("lifecycle.health_retry_delay", "2s")
	v.SetDefault("lifecycle.monitor_interval", "30s")
	v.SetDefault("lifecycle.max_failed_checks", 3)
	v.SetDefault("lifecycle.unhealthy_threshold", 3)
	v.SetDefault("lifecycle.healthy_threshold", 2)

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods",
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
}
