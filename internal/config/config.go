// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/sse-relay/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	InvokeBase string `kong:"help='Sidecar HTTP endpoint (overrides config).',env='DAPR_HTTP_ENDPOINT'"`
	DirectBase string `kong:"help='Direct application endpoint (overrides config).',env='API_DIRECT_ENDPOINT'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Embedding EmbeddingConfig `toml:"embedding"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8001); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the two upstream call targets and their timeouts.
// InvokeBaseURL is the sidecar's HTTP-invocation endpoint; DirectBaseURL
// reaches the application directly, bypassing the sidecar.
type UpstreamConfig struct {
	InvokeBaseURL        string `toml:"invoke_base_url"`
	DirectBaseURL        string `toml:"direct_base_url"`
	AppID                string `toml:"app_id"`
	StreamMethod         string `toml:"stream_method"`
	LookupMethod         string `toml:"lookup_method"`
	StreamTimeoutSeconds int    `toml:"stream_timeout_seconds"`
	LookupTimeoutSeconds int    `toml:"lookup_timeout_seconds"`
	IdleConnections      int    `toml:"idle_connections"`
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

// EmbeddingConfig holds settings for the embedding activity and its
// model-serving backend.
type EmbeddingConfig struct {
	Enabled            bool   `toml:"enabled"`
	BackendURL         string `toml:"backend_url"`
	ServiceToken       string `toml:"service_token"`
	DefaultModel       string `toml:"default_model"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	// AllowSandbag permits callers to inject an artificial processing delay.
	// Test-only knob for simulating slow backends; leave off in production.
	AllowSandbag bool `toml:"allow_sandbag"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/sse-relay/config.toml then configs/config.toml.
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

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
	if cli.InvokeBase != "" {
		c.Upstream.InvokeBaseURL = cli.InvokeBase
	}
	if cli.DirectBase != "" {
		c.Upstream.DirectBaseURL = cli.DirectBase
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"upstream.invoke_base_url", c.Upstream.InvokeBaseURL},
		{"upstream.direct_base_url", c.Upstream.DirectBaseURL},
	} {
		u, err := url.Parse(field.value)
		if err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", field.name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must use http or https; got %q", field.name, field.value)
		}
	}

	if c.Upstream.AppID == "" {
		return fmt.Errorf("upstream.app_id is required")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.StreamTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.stream_timeout_seconds must be non-negative; got %d", c.Upstream.StreamTimeoutSeconds)
	}
	if c.Upstream.LookupTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.lookup_timeout_seconds must be non-negative; got %d", c.Upstream.LookupTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Embedding.Enabled && c.Embedding.BackendURL == "" {
		return fmt.Errorf("embedding.backend_url is required when the embedding activity is enabled")
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
		for _, reserved := range []string{"/stream", "/workflow", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, timeouts, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 * 1024 * 1024 // 1 MB
	}
	if c.Upstream.InvokeBaseURL == "" {
		c.Upstream.InvokeBaseURL = "http://localhost:3500"
	}
	if c.Upstream.DirectBaseURL == "" {
		c.Upstream.DirectBaseURL = "http://localhost:5111"
	}
	if c.Upstream.AppID == "" {
		c.Upstream.AppID = "api"
	}
	if c.Upstream.StreamMethod == "" {
		c.Upstream.StreamMethod = "semantic-search/stream"
	}
	if c.Upstream.LookupMethod == "" {
		c.Upstream.LookupMethod = "semantic-search/workflow"
	}
	if c.Upstream.StreamTimeoutSeconds == 0 {
		c.Upstream.StreamTimeoutSeconds = 300
	}
	if c.Upstream.LookupTimeoutSeconds == 0 {
		c.Upstream.LookupTimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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
	if c.Embedding.DefaultModel == "" {
		c.Embedding.DefaultModel = "all-MiniLM-L6-v2"
	}
	if c.Embedding.HTTPTimeoutSeconds == 0 {
		c.Embedding.HTTPTimeoutSeconds = 30
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

// InvokeURL returns the sidecar service-invocation URL for the given method.
// Format: {base}/v1.0/invoke/{app-id}/method/{method}.
func (c *UpstreamConfig) InvokeURL(method string) string {
	return fmt.Sprintf("%s/v1.0/invoke/%s/method/%s",
		strings.TrimRight(c.InvokeBaseURL, "/"), c.AppID, method)
}

// DirectURL returns the direct application URL for the given method.
func (c *UpstreamConfig) DirectURL(method string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.DirectBaseURL, "/"), method)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The config may carry the embedding backend's service token.
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
