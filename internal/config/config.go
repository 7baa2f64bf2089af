// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/net/http/httpguts"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/target-forwarder/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served locally and never forwarded.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	AllowedTargets  string `kong:"help='Comma-separated allowed target domains (overrides config).',env='ALLOWED_TARGETS'"`
	HeadersToRemove string `kong:"help='Comma-separated request headers to strip (overrides config).',env='HEADERS_TO_REMOVE'"`
	Strategy        string `kong:"help='Target extraction strategy: merge|slice (overrides config).',env='TARGET_STRATEGY'"`
	TargetHost      string `kong:"help='Forward every request to this host instead of the target parameter.',env='TARGET_HOST'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Forward  ForwardConfig  `toml:"forward"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"`           // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"` // 0 means unlimited
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ForwardConfig controls target resolution and header rewriting.
type ForwardConfig struct {
	// AllowedTargets lists domains targets must match exactly or as a
	// subdomain. Empty disables the check.
	AllowedTargets  []string `toml:"allowed_targets"`
	HeadersToRemove []string `toml:"headers_to_remove"`
	Strategy        string   `toml:"strategy"`
	TargetParam     string   `toml:"target_param"`
	ReservedParams  []string `toml:"reserved_params"`
	TargetHost      string   `toml:"target_host"`
	PathPrefix      string   `toml:"path_prefix"`
	UserAgent       string   `toml:"user_agent"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"` // 0 means no forwarder-imposed deadline
	IdleConnections int `toml:"idle_connections"`
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
// /etc/target-forwarder/config.toml then configs/config.toml; if neither
// exists the defaults plus CLI/env values are used.
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
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.AllowedTargets != "" {
		c.Forward.AllowedTargets = SplitList(cli.AllowedTargets)
	}
	if cli.HeadersToRemove != "" {
		c.Forward.HeadersToRemove = SplitList(cli.HeadersToRemove)
	}
	if cli.Strategy != "" {
		c.Forward.Strategy = cli.Strategy
	}
	if cli.TargetHost != "" {
		c.Forward.TargetHost = cli.TargetHost
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
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Forwarding.
	switch strings.ToLower(c.Forward.Strategy) {
	case "merge", "slice", "":
		// valid
	default:
		return fmt.Errorf("forward.strategy must be one of: merge, slice; got %q", c.Forward.Strategy)
	}
	if p := c.Forward.TargetParam; p != "" && strings.ContainsAny(p, "=&?# ") {
		return fmt.Errorf("forward.target_param must be a plain parameter name; got %q", p)
	}
	if c.Forward.TargetHost != "" {
		u, err := url.Parse(c.Forward.TargetHost)
		if err != nil {
			return fmt.Errorf("forward.target_host is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" || u.Hostname() == "" {
			return fmt.Errorf("forward.target_host must be an absolute http(s) URL; got %q", c.Forward.TargetHost)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("forward.target_host must not carry a query or fragment; got %q", c.Forward.TargetHost)
		}
	}
	for _, name := range c.Forward.HeadersToRemove {
		if !httpguts.ValidHeaderFieldName(strings.TrimSpace(name)) {
			return fmt.Errorf("forward.headers_to_remove: %q is not a valid header name", name)
		}
	}
	if p := c.Forward.PathPrefix; p != "" && p[0] != '/' {
		return fmt.Errorf("forward.path_prefix must start with '/'; got %q", p)
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
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, IdleConnections), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	c.Forward.Strategy = strings.ToLower(c.Forward.Strategy)
	if c.Forward.Strategy == "" {
		c.Forward.Strategy = "merge"
	}
	if c.Forward.TargetParam == "" {
		c.Forward.TargetParam = "target"
	}
	if c.Forward.ReservedParams == nil {
		c.Forward.ReservedParams = []string{"path"}
	}
	if c.Forward.PathPrefix == "" {
		c.Forward.PathPrefix = "/api/proxy"
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

// SplitList splits a comma-separated value, trimming blanks and dropping
// empty entries.
func SplitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or empty when running on
// defaults.
func (c *Config) FilePath() string { return c.filePath }

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

// WarnOpenAllowlist logs a warning when no allowed targets are configured,
// which lets callers reach any host.
func (c *Config) WarnOpenAllowlist(logger *slog.Logger) {
	if len(c.Forward.AllowedTargets) == 0 {
		logger.Warn("forward.allowed_targets is empty; every target host is allowed")
	}
}
