// Package config loads browserd settings from a YAML file, the environment,
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/browserd/pkg/logging"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath = "BROWSERD_CONFIG"
	EnvToken      = "BROWSERD_TOKEN"
	EnvHeadless   = "BROWSERD_HEADLESS"
	EnvAddr       = "BROWSERD_ADDR"
)

// Config is the complete browserd configuration.
type Config struct {
	Browser  BrowserConfig `yaml:"browser" json:"browser"`
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
	Reaper   ReaperConfig  `yaml:"reaper" json:"reaper"`
	Policy   PolicyConfig  `yaml:"policy" json:"policy"`
	Server   ServerConfig  `yaml:"server" json:"server"`
	Log      LogConfig     `yaml:"log" json:"log"`

	// Path of the file this config was read from, empty for defaults.
	Path string `yaml:"-" json:"-"`
}

// BrowserConfig controls how session processes are launched.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless" json:"headless"`
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	ProfileRoot    string `yaml:"profile_root" json:"profile_root"`
	ExecutablePath string `yaml:"executable_path" json:"executable_path"`
	NoSandbox      bool   `yaml:"no_sandbox" json:"no_sandbox"`

	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`

	// SkipInstall disables the driver download check at startup.
	SkipInstall bool `yaml:"skip_install" json:"skip_install"`
}

// TimeoutConfig bounds every blocking browser operation.
type TimeoutConfig struct {
	Selector   time.Duration `yaml:"selector" json:"selector"`
	Navigation time.Duration `yaml:"navigation" json:"navigation"`
	WaitCap    time.Duration `yaml:"wait_cap" json:"wait_cap"`
	Action     time.Duration `yaml:"action" json:"action"`
	CloseWait  time.Duration `yaml:"close_wait" json:"close_wait"`
}

// ReaperConfig drives the idle session sweep.
type ReaperConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	IdleMark    time.Duration `yaml:"idle_mark" json:"idle_mark"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// PolicyConfig restricts navigation targets with glob patterns.
type PolicyConfig struct {
	AllowedURLs []string `yaml:"allowed_urls" json:"allowed_urls"`
	DeniedURLs  []string `yaml:"denied_urls" json:"denied_urls"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	APIToken string `yaml:"api_token" json:"-"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Dir    string `yaml:"dir" json:"dir"`
	Level  string `yaml:"level" json:"level"`
	Stderr bool   `yaml:"stderr" json:"stderr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:    true,
			Width:       1280,
			Height:      720,
			ProfileRoot: "~/.browserd/profiles",
		},
		Timeouts: TimeoutConfig{
			Selector:   10 * time.Second,
			Navigation: 30 * time.Second,
			WaitCap:    30 * time.Second,
			Action:     30 * time.Second,
			CloseWait:  5 * time.Second,
		},
		Reaper: ReaperConfig{
			Interval:    60 * time.Second,
			IdleMark:    5 * time.Minute,
			IdleTimeout: 10 * time.Minute,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8085",
		},
		Log: LogConfig{
			Dir:    "~/.browserd/logs",
			Level:  "info",
			Stderr: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, expands ${VAR}
// references, applies environment overrides and validates the result.
// An empty path falls back to $BROWSERD_CONFIG, then to defaults only.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.Path = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	var err error
	if cfg.Browser.ProfileRoot, err = expandHome(cfg.Browser.ProfileRoot); err != nil {
		return nil, err
	}
	if cfg.Log.Dir, err = expandHome(cfg.Log.Dir); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvToken); v != "" && c.Server.APIToken == "" {
		c.Server.APIToken = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvHeadless, v, err)
		}
		c.Browser.Headless = b
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height)
	}
	if c.Browser.ProfileRoot == "" {
		return fmt.Errorf("browser.profile_root is required")
	}
	if c.Browser.MaxSessions < 0 {
		return fmt.Errorf("browser.max_sessions cannot be negative")
	}

	// Checked in file order so the first bad value is always the one reported
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"timeouts.selector", c.Timeouts.Selector},
		{"timeouts.navigation", c.Timeouts.Navigation},
		{"timeouts.wait_cap", c.Timeouts.WaitCap},
		{"timeouts.action", c.Timeouts.Action},
		{"timeouts.close_wait", c.Timeouts.CloseWait},
		{"reaper.interval", c.Reaper.Interval},
		{"reaper.idle_timeout", c.Reaper.IdleTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.Reaper.IdleMark < 0 {
		return fmt.Errorf("reaper.idle_mark cannot be negative")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
