package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultMDSplusServer     = cmod.DefaultServer
	DefaultTimeout           = 30 * time.Second
	DefaultPollInterval      = 5 * time.Minute
	DefaultConcurrency       = 4
	DefaultMinorRadius       = plasma.DefaultMinorRadius
	DefaultHTTPPort          = 8080
	DefaultSnapshotTTL       = 24 * time.Hour
	DefaultBroadcastInterval = 5 * time.Second
)

// Config is the top-level configuration of cmodparams serve.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	MDSplus MDSplusConfig `yaml:"mdsplus"`
	Agent   AgentConfig   `yaml:"agent"`
	Server  ServerConfig  `yaml:"server"`
}

// MDSplusConfig says where and as whom to fetch signals.
type MDSplusConfig struct {
	// Server is the mdsip data server, host or host:port.
	Server string `yaml:"server"`

	// User is the login name sent to the server.
	User string `yaml:"user"`

	// UserEnv names an environment variable holding the login name.
	// Used when User is empty.
	UserEnv string `yaml:"user_env"`

	// Timeout bounds each request/answer exchange with the server.
	Timeout time.Duration `yaml:"timeout"`
}

// Login returns the configured login name, or "" to use the process user.
func (m MDSplusConfig) Login() string {
	if m.User != "" {
		return m.User
	}
	if m.UserEnv == "" {
		return ""
	}
	return os.Getenv(m.UserEnv)
}

// AgentConfig holds the polling settings.
type AgentConfig struct {
	// PollInterval controls how often every configured shot is re-fetched.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Concurrency is the number of shots fetched in parallel.
	Concurrency int `yaml:"concurrency"`

	// MinorRadius in metres, used for shots that do not set their own.
	MinorRadius float64 `yaml:"minor_radius"`

	// Window is the averaging window for shots that do not set their own.
	// Unset means the full time axis.
	Window WindowConfig `yaml:"window"`

	// Shots is the list of shots to summarise.
	Shots []ShotConfig `yaml:"shots"`
}

// ShotConfig describes one shot to fetch.
type ShotConfig struct {
	Shot        int          `yaml:"shot"`
	Window      WindowConfig `yaml:"window"`
	MinorRadius float64      `yaml:"minor_radius"`
}

// WindowConfig is an averaging window in seconds. Start and End must be set
// together or not at all.
type WindowConfig struct {
	Start *float64 `yaml:"start"`
	End   *float64 `yaml:"end"`
}

// IsSet reports whether any bound is present.
func (w WindowConfig) IsSet() bool { return w.Start != nil || w.End != nil }

// Window converts w to a plasma.Window.
func (w WindowConfig) Window() plasma.Window {
	return plasma.Window{Start: w.Start, End: w.End}
}

// WindowFor returns the averaging window for s.
func (a AgentConfig) WindowFor(s ShotConfig) plasma.Window {
	if s.Window.IsSet() {
		return s.Window.Window()
	}
	return a.Window.Window()
}

// MinorRadiusFor returns the minor radius for s.
func (a AgentConfig) MinorRadiusFor(s ShotConfig) float64 {
	if s.MinorRadius > 0 {
		return s.MinorRadius
	}
	return a.MinorRadius
}

// ServerConfig holds the HTTP side: REST API, WebSocket hub and /metrics.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and exporter listen on.
	HTTPPort int `yaml:"http_port"`

	// SnapshotTTL is how long a shot's last result stays visible without a
	// successful refresh.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`

	// BroadcastInterval controls how often WebSocket clients receive the snapshot.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Auth configures how REST and metrics clients authenticate.
	Auth AuthConfig `yaml:"auth"`

	// Alerts holds alerting rule and webhook delivery configuration.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the HTTP side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "X-Api-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-Api-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-Api-Key"
}

// AlertsConfig holds all alerting rules and webhook targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines a threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "greenwald_fraction > 0.8" or "state == failed".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		MDSplus: MDSplusConfig{
			Server:  DefaultMDSplusServer,
			Timeout: DefaultTimeout,
		},
		Agent: AgentConfig{
			PollInterval: DefaultPollInterval,
			Concurrency:  DefaultConcurrency,
			MinorRadius:  DefaultMinorRadius,
		},
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			SnapshotTTL:       DefaultSnapshotTTL,
			BroadcastInterval: DefaultBroadcastInterval,
			Auth:              AuthConfig{Mode: "none"},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.MDSplus.Server == "" {
		return fmt.Errorf("mdsplus.server is required")
	}
	if cfg.MDSplus.Timeout < 0 {
		return fmt.Errorf("mdsplus.timeout must not be negative")
	}
	if cfg.Agent.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if cfg.Agent.Concurrency <= 0 {
		return fmt.Errorf("agent.concurrency must be positive")
	}
	if cfg.Agent.MinorRadius <= 0 {
		return fmt.Errorf("agent.minor_radius must be positive")
	}
	if err := validateWindow(cfg.Agent.Window); err != nil {
		return fmt.Errorf("agent.window: %w", err)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", cfg.Server.HTTPPort)
	}
	if cfg.Server.SnapshotTTL <= 0 {
		return fmt.Errorf("server.snapshot_ttl must be positive")
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}

	switch cfg.Server.Auth.Mode {
	case "none", "apikey":
	default:
		return fmt.Errorf("server.auth.mode %q: want apikey or none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}

	seen := make(map[int]bool, len(cfg.Agent.Shots))
	for i, s := range cfg.Agent.Shots {
		if seen[s.Shot] {
			return fmt.Errorf("shots[%d]: duplicate shot %d", i, s.Shot)
		}
		seen[s.Shot] = true
		if s.MinorRadius < 0 {
			return fmt.Errorf("shots[%d] %d: minor_radius must not be negative", i, s.Shot)
		}
		if err := validateWindow(s.Window); err != nil {
			return fmt.Errorf("shots[%d] %d: window: %w", i, s.Shot, err)
		}
	}

	for i, wh := range cfg.Server.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	for i, r := range cfg.Server.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	return nil
}

// validateWindow rejects windows with exactly one bound. The averaging code
// never fills in a missing bound, so such a window could not be evaluated.
func validateWindow(w WindowConfig) error {
	if (w.Start == nil) != (w.End == nil) {
		return fmt.Errorf("start and end must be set together")
	}
	return nil
}
