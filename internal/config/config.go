// Package config handles configuration loading from the environment, CLI flags
// and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/onshape-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are gateway routes the metrics endpoint must not shadow.
var reservedRoutes = []string{"/api", "/getfile", "/oauth", "/oauthsignin", "/refresh", "/redirect", "/healthz", "/gateway/status"}

const (
	defaultAuthorizeURL = "https://oauth.onshape.com/oauth/authorize"
	defaultAppBaseURL   = "https://ftconshape.com"
	defaultAuditFile    = "server.log"
)

// CLI holds command-line arguments parsed by Kong. Every flag can also be
// supplied through the environment, which is how the gateway is normally
// deployed.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	ClientID     string `kong:"help='OAuth client id.',env='CLIENT_ID'"`
	ClientSecret string `kong:"help='OAuth client secret.',env='CLIENT_SECRET'"`
	TokenURL     string `kong:"help='OAuth token endpoint URL.',env='CLIENT_URL'"`
	AuthorizeURL string `kong:"help='OAuth authorize endpoint URL.',env='AUTHORIZE_URL'"`
	AppName      string `kong:"help='Application name used in app redirects.',env='APP_NAME'"`
	AppBaseURL   string `kong:"help='Base URL the application is served from.',env='APP_BASE_URL'"`
	EnableLog    string `kong:"help='Enable the per-request audit log (1|true).',env='ENABLE_LOG'"`
	LogFilename  string `kong:"help='Audit log file path.',env='LOG_FILENAME'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	OAuth    OAuthConfig    `toml:"oauth"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// OAuthConfig holds the confidential OAuth client and the CAD host's
// authorization server endpoints.
type OAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenURL     string `toml:"token_url"`
	AuthorizeURL string `toml:"authorize_url"`
	AppName      string `toml:"app_name"`
	AppBaseURL   string `toml:"app_base_url"`
}

// Missing returns the names of the settings the token exchange cannot work
// without. An empty result means the client is fully configured.
func (o *OAuthConfig) Missing() []string {
	var missing []string
	if o.TokenURL == "" {
		missing = append(missing, "token_url")
	}
	if o.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if o.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	return missing
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int      `toml:"timeout_seconds"` // 0 disables the client timeout
	IdleConnections int      `toml:"idle_connections"`
	AllowedHosts    []string `toml:"allowed_hosts"` // empty allows any x-server host
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level        string `toml:"level"`
	Format       string `toml:"format"`
	AuditEnabled bool   `toml:"audit_enabled"`
	AuditFile    string `toml:"audit_file"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoadDotEnv loads the first existing dotenv file into the process
// environment. Variables already set are never overridden. It must run
// before the CLI is parsed so Kong's env lookups see the values.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the optional TOML config file and applies CLI/environment
// overrides. When no explicit path is given (via --config or CONFIG_PATH), it
// searches /etc/onshape-gateway/config.toml then configs/config.toml; if none
// exists the configuration comes from defaults and the environment alone.
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
	if cli.ClientID != "" {
		c.OAuth.ClientID = cli.ClientID
	}
	if cli.ClientSecret != "" {
		c.OAuth.ClientSecret = cli.ClientSecret
	}
	if cli.TokenURL != "" {
		c.OAuth.TokenURL = cli.TokenURL
	}
	if cli.AuthorizeURL != "" {
		c.OAuth.AuthorizeURL = cli.AuthorizeURL
	}
	if cli.AppName != "" {
		c.OAuth.AppName = cli.AppName
	}
	if cli.AppBaseURL != "" {
		c.OAuth.AppBaseURL = cli.AppBaseURL
	}
	if cli.EnableLog != "" {
		c.Log.AuditEnabled = parseToggle(cli.EnableLog)
	}
	if cli.LogFilename != "" {
		c.Log.AuditFile = cli.LogFilename
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// parseToggle accepts "1" and "true" (any case) as enabled.
func parseToggle(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true")
}

func (c *Config) validate() error {
	if c.OAuth.ClientSecret == "YOUR_CLIENT_SECRET_HERE" {
		return fmt.Errorf("oauth.client_secret contains placeholder value; set the real secret or leave it empty")
	}

	// Endpoint URLs are optional but must be absolute http(s) when set.
	for _, ep := range []struct{ name, value string }{
		{"oauth.token_url", c.OAuth.TokenURL},
		{"oauth.authorize_url", c.OAuth.AuthorizeURL},
		{"oauth.app_base_url", c.OAuth.AppBaseURL},
	} {
		if ep.value == "" {
			continue
		}
		if err := validateEndpoint(ep.value); err != nil {
			return fmt.Errorf("%s: %w", ep.name, err)
		}
	}

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
	for _, h := range c.Upstream.AllowedHosts {
		if h == "" || strings.ContainsAny(h, "/:") {
			return fmt.Errorf("upstream.allowed_hosts entries must be bare host names; got %q", h)
		}
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

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// upstream.timeout_seconds is deliberately left at zero: outbound calls are
// bounded by the inbound request context only.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.OAuth.AuthorizeURL == "" {
		c.OAuth.AuthorizeURL = defaultAuthorizeURL
	}
	if c.OAuth.AppBaseURL == "" {
		c.OAuth.AppBaseURL = defaultAppBaseURL
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
	if c.Log.AuditFile == "" {
		c.Log.AuditFile = defaultAuditFile
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

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file may carry the OAuth client secret.
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
