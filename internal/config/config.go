// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"dynhost/internal/endpoint"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/dynhost/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Workers  int    `kong:"help='Command pool workers (overrides config).',env='COMMAND_WORKERS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig             `toml:"server"`
	Transport TransportConfig          `toml:"transport"`
	Command   CommandConfig            `toml:"command"`
	Services  map[string]ServiceConfig `toml:"services"`
	Log       LogConfig                `toml:"log"`
	Metrics   MetricsConfig            `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TransportConfig holds outgoing connection settings for the delegate transport.
type TransportConfig struct {
	ConnectTimeoutMS int  `toml:"connect_timeout_ms"`
	ReadTimeoutMS    int  `toml:"read_timeout_ms"`
	IdleConnections  int  `toml:"idle_connections"`
	FollowRedirects  bool `toml:"follow_redirects"`
}

// CommandConfig sizes the command worker pool and its circuit breaker.
type CommandConfig struct {
	Workers           int `toml:"workers"`
	QueueSize         int `toml:"queue_size"`
	TimeoutMS         int `toml:"timeout_ms"`
	BreakerThreshold  int `toml:"breaker_threshold"` // consecutive failures; 0 disables the breaker
	BreakerCooldownMS int `toml:"breaker_cooldown_ms"`
}

// ServiceConfig lists the static instances behind a logical service name.
type ServiceConfig struct {
	Instances []string `toml:"instances"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/dynhost/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Workers != 0 {
		c.Command.Workers = cli.Workers
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Transport.ConnectTimeoutMS < 0 {
		return fmt.Errorf("transport.connect_timeout_ms must be non-negative; got %d", c.Transport.ConnectTimeoutMS)
	}
	if c.Transport.ReadTimeoutMS < 0 {
		return fmt.Errorf("transport.read_timeout_ms must be non-negative; got %d", c.Transport.ReadTimeoutMS)
	}
	if c.Transport.IdleConnections < 0 {
		return fmt.Errorf("transport.idle_connections must be non-negative; got %d", c.Transport.IdleConnections)
	}
	if c.Command.Workers < 0 {
		return fmt.Errorf("command.workers must be non-negative; got %d", c.Command.Workers)
	}
	if c.Command.QueueSize < 0 {
		return fmt.Errorf("command.queue_size must be non-negative; got %d", c.Command.QueueSize)
	}
	if c.Command.TimeoutMS < 0 {
		return fmt.Errorf("command.timeout_ms must be non-negative; got %d", c.Command.TimeoutMS)
	}
	if c.Command.BreakerThreshold < 0 {
		return fmt.Errorf("command.breaker_threshold must be non-negative; got %d", c.Command.BreakerThreshold)
	}
	if c.Command.BreakerCooldownMS < 0 {
		return fmt.Errorf("command.breaker_cooldown_ms must be non-negative; got %d", c.Command.BreakerCooldownMS)
	}

	// Service instances must be bare host:port endpoints.
	for name, svc := range c.Services {
		if strings.ContainsAny(name, "/:") || name == "" {
			return fmt.Errorf("services: invalid service name %q", name)
		}
		if len(svc.Instances) == 0 {
			return fmt.Errorf("services.%s.instances must not be empty", name)
		}
		for _, inst := range svc.Instances {
			if _, err := endpoint.Parse(inst); err != nil {
				return fmt.Errorf("services.%s.instances: %w", name, err)
			}
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/test", "/test1", "/custom_feign_feign", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Transport.ConnectTimeoutMS == 0 {
		c.Transport.ConnectTimeoutMS = 10_000
	}
	if c.Transport.ReadTimeoutMS == 0 {
		c.Transport.ReadTimeoutMS = 60_000
	}
	if c.Transport.IdleConnections == 0 {
		c.Transport.IdleConnections = 100
	}
	if c.Command.Workers == 0 {
		c.Command.Workers = 10
	}
	if c.Command.QueueSize == 0 {
		c.Command.QueueSize = 100
	}
	if c.Command.TimeoutMS == 0 {
		c.Command.TimeoutMS = 1_000
	}
	if c.Command.BreakerCooldownMS == 0 {
		c.Command.BreakerCooldownMS = 5_000
	}
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Self returns the endpoint other components use to call this server.
func (c *ServerConfig) Self() endpoint.Endpoint {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return endpoint.Endpoint(fmt.Sprintf("%s:%d", host, c.Port))
}

// ConnectTimeout returns the configured dial timeout.
func (c *TransportConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the configured per-call read timeout.
func (c *TransportConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// Timeout returns the per-command execution timeout.
func (c *CommandConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// BreakerCooldown returns how long an open circuit stays open.
func (c *CommandConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMS) * time.Millisecond
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
