package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPort            = 8080
	DefaultShutdownTimeout = 10 * time.Second
	DefaultSamplerInterval = 5 * time.Second
	DefaultSamplerHistory  = 120
	DefaultCheckTimeout    = 2 * time.Second
	DefaultSyncInterval    = 5 * time.Second
	DefaultMaxRSSPercent   = 90.0
	DefaultMaxGoroutines   = 10000

	DefaultAppName     = "DevSecOps Sample App"
	DefaultVersion     = "1.0.0"
	DefaultBuild       = "local"
	DefaultCommit      = "unknown"
	DefaultEnvironment = "development"
)

// DefaultScanningTools are the security scanners reported by GET /.
var DefaultScanningTools = []string{"gitleaks", "trivy", "semgrep", "checkov", "hadolint"}

// Environment variables that override the file configuration.
const (
	EnvPort            = "PORT"
	EnvGRPCPort        = "GRPC_PORT"
	EnvAppName         = "APP_NAME"
	EnvVersion         = "APP_VERSION"
	EnvEnvironment     = "APP_ENV"
	EnvBuild           = "BUILD_NUMBER"
	EnvCommit          = "GIT_COMMIT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvLogLevel        = "LOG_LEVEL"
)

// Config holds the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	App       AppConfig       `yaml:"app"`
	Log       LogConfig       `yaml:"log"`
	Security  SecurityConfig  `yaml:"security"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ServerConfig holds listener and lifecycle settings.
type ServerConfig struct {
	// Port is the HTTP port bound on all interfaces (default 8080).
	Port int `yaml:"port"`

	// GRPCPort serves the gRPC health service. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// ShutdownTimeout bounds how long in-flight requests may drain after a
	// termination signal (default 10s).
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// MaxConnections caps concurrently accepted connections. 0 means unlimited.
	MaxConnections int `yaml:"max_connections"`

	// Compress enables gzip for clients that accept it (default true).
	Compress bool `yaml:"compress"`

	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `yaml:"pprof"`

	// Auth guards the gRPC health service and the pprof routes.
	Auth AuthConfig `yaml:"auth"`
}

// AppConfig is the service identity reported by /, /health and /info.
// Every field is non-empty after Load.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Build       string `yaml:"build"`
	Commit      string `yaml:"commit"`
	Environment string `yaml:"environment"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error (default info).
	Level string `yaml:"level"`

	// Format is one of: json | text (default json).
	Format string `yaml:"format"`
}

// SlogLevel parses Level. Unknown values map to info; validate rejects them
// before this is reached.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SecurityConfig is the security-posture summary published on GET /.
type SecurityConfig struct {
	Scanning      bool     `yaml:"scanning"`
	Tools         []string `yaml:"tools"`
	GatesEnforced bool     `yaml:"gates_enforced"`
}

// SamplerConfig controls background sampling used by the WebSocket stream and
// the alerts engine.
type SamplerConfig struct {
	Interval time.Duration `yaml:"interval"`
	History  int           `yaml:"history"`
}

// ReadinessConfig holds the thresholds for GET /ready and the gRPC health service.
type ReadinessConfig struct {
	// MaxRSSPercent fails readiness when resident memory exceeds this share
	// of host memory.
	MaxRSSPercent float64 `yaml:"max_rss_percent"`

	// MaxGoroutines fails readiness above this count. 0 disables the check.
	MaxGoroutines int `yaml:"max_goroutines"`

	CheckTimeout time.Duration `yaml:"check_timeout"`

	// SyncInterval is how often the gRPC health status is refreshed.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is "field operator value", e.g. "rss_bytes > 5e8".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// AuthConfig controls client authentication on the gRPC listener.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key to read the key from (default "x-api-key").
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// Load builds the configuration: defaults, then the YAML file at path (skipped
// when path is empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	fillApp(&cfg.App)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			ShutdownTimeout:   DefaultShutdownTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
			Compress:          true,
		},
		App: AppConfig{
			Name:        DefaultAppName,
			Version:     DefaultVersion,
			Build:       DefaultBuild,
			Commit:      DefaultCommit,
			Environment: DefaultEnvironment,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Security: SecurityConfig{
			Scanning:      true,
			Tools:         append([]string(nil), DefaultScanningTools...),
			GatesEnforced: true,
		},
		Sampler: SamplerConfig{
			Interval: DefaultSamplerInterval,
			History:  DefaultSamplerHistory,
		},
		Readiness: ReadinessConfig{
			MaxRSSPercent: DefaultMaxRSSPercent,
			MaxGoroutines: DefaultMaxGoroutines,
			CheckTimeout:  DefaultCheckTimeout,
			SyncInterval:  DefaultSyncInterval,
		},
	}
}

// applyEnv overrides cfg with non-empty environment variables.
func applyEnv(cfg *Config) error {
	var errs error

	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setString(EnvAppName, &cfg.App.Name)
	setString(EnvVersion, &cfg.App.Version)
	setString(EnvEnvironment, &cfg.App.Environment)
	setString(EnvBuild, &cfg.App.Build)
	setString(EnvCommit, &cfg.App.Commit)
	setString(EnvLogLevel, &cfg.Log.Level)

	setInt := func(env string, dst *int) {
		v := os.Getenv(env)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s=%q is not an integer", env, v))
			return
		}
		*dst = n
	}
	setInt(EnvPort, &cfg.Server.Port)
	setInt(EnvGRPCPort, &cfg.Server.GRPCPort)

	if v := os.Getenv(EnvShutdownTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s=%q is not a duration", EnvShutdownTimeout, v))
		} else {
			cfg.Server.ShutdownTimeout = d
		}
	}
	return errs
}

// fillApp restores defaults for identity fields blanked by the file.
func fillApp(a *AppConfig) {
	if a.Name == "" {
		a.Name = DefaultAppName
	}
	if a.Version == "" {
		a.Version = DefaultVersion
	}
	if a.Build == "" {
		a.Build = DefaultBuild
	}
	if a.Commit == "" {
		a.Commit = DefaultCommit
	}
	if a.Environment == "" {
		a.Environment = DefaultEnvironment
	}
}

// validate checks structural constraints on the parsed configuration and
// reports every violation, not just the first.
func validate(cfg *Config) error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("server.port %d is out of range [1, 65535]", cfg.Server.Port)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		add("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.Port {
		add("server.grpc_port must differ from server.port")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}
	if cfg.Server.MaxConnections < 0 {
		add("server.max_connections must not be negative")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		add("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); cfg.Log.Level != "" && err != nil {
		add("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "":
	default:
		add("log.format %q unknown: want json|text", cfg.Log.Format)
	}

	if cfg.Sampler.Interval <= 0 {
		add("sampler.interval must be positive")
	}
	if cfg.Sampler.History < 1 {
		add("sampler.history must be at least 1")
	}

	if cfg.Readiness.MaxRSSPercent <= 0 || cfg.Readiness.MaxRSSPercent > 100 {
		add("readiness.max_rss_percent %.1f is out of range (0, 100]", cfg.Readiness.MaxRSSPercent)
	}
	if cfg.Readiness.MaxGoroutines < 0 {
		add("readiness.max_goroutines must not be negative")
	}
	if cfg.Readiness.CheckTimeout <= 0 {
		add("readiness.check_timeout must be positive")
	}
	if cfg.Readiness.SyncInterval <= 0 {
		add("readiness.sync_interval must be positive")
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			add("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			add("alerts.rules[%d]: condition %q must be \"field op value\"", i, r.Condition)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			add("alerts.rules[%d]: severity %q unknown", i, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			add("alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return errs
}
