// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/forward-proxy/config.toml",
	"configs/config.toml",
}

// ReservedPaths are served by the gateway itself and cannot be used as route prefixes.
var ReservedPaths = []string{"/proxy", "/auth-proxy", "/health", "/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamTimeout int    `kong:"help='Upstream timeout in seconds (overrides config).',env='UPSTREAM_TIMEOUT'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat       string `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Routes   []RouteConfig  `toml:"routes"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"` // 0 means the per-second rate
}

// ProxyConfig names the query parameters used by the dynamic endpoints.
type ProxyConfig struct {
	TargetParam string `toml:"target_param"`
	TokenParam  string `toml:"token_param"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// RouteConfig is one static route table entry.
type RouteConfig struct {
	Name    string `toml:"name"`
	Prefix  string `toml:"prefix"`
	Target  string `toml:"target"`
	Rewrite string `toml:"rewrite"`
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

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/forward-proxy/config.toml then configs/config.toml; if neither
// exists the built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

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
	if cli.UpstreamTimeout != 0 {
		c.Upstream.TimeoutSeconds = cli.UpstreamTimeout
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
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
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must be >= 0; got %d", c.Server.RateLimit.Burst)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Proxy.TargetParam != "" && c.Proxy.TargetParam == c.Proxy.TokenParam {
		return fmt.Errorf("proxy.target_param and proxy.token_param must differ; both are %q", c.Proxy.TargetParam)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Route prefixes. Target URLs are checked when the route table is built.
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Prefix == "" || r.Prefix[0] != '/' || r.Prefix == "/" {
			return fmt.Errorf("routes[%d].prefix must start with '/' and not be the root; got %q", i, r.Prefix)
		}
		if strings.HasSuffix(r.Prefix, "/") {
			return fmt.Errorf("routes[%d].prefix must not end with '/'; got %q", i, r.Prefix)
		}
		if r.Target == "" {
			return fmt.Errorf("routes[%d].target is required", i)
		}
		if r.Rewrite != "" && r.Rewrite[0] != '/' {
			return fmt.Errorf("routes[%d].rewrite must be empty or start with '/'; got %q", i, r.Rewrite)
		}
		if seen[r.Prefix] {
			return fmt.Errorf("routes[%d].prefix %q is duplicated", i, r.Prefix)
		}
		seen[r.Prefix] = true
		if p, ok := reservedConflict(r.Prefix); ok {
			return fmt.Errorf("routes[%d].prefix %q conflicts with reserved route %q", i, r.Prefix, p)
		}
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if r, ok := reservedConflict(p); ok {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
		}
		for _, r := range c.Routes {
			if p == r.Prefix || strings.HasPrefix(p, r.Prefix+"/") {
				return fmt.Errorf("metrics.path %q conflicts with route prefix %q", p, r.Prefix)
			}
		}
	}

	return nil
}

func reservedConflict(p string) (string, bool) {
	for _, reserved := range ReservedPaths {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return reserved, true
		}
	}
	return "", false
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.TargetParam == "" {
		c.Proxy.TargetParam = "target"
	}
	if c.Proxy.TokenParam == "" {
		c.Proxy.TokenParam = "token"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	for i := range c.Routes {
		if c.Routes[i].Name == "" {
			c.Routes[i].Name = path.Base(c.Routes[i].Prefix)
		}
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

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; route targets could be redirected",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
