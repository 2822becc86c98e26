package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "browserd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfigPath, EnvToken, EnvHeadless, EnvAddr} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.Width)
	assert.Equal(t, 720, cfg.Browser.Height)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Selector)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Navigation)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.WaitCap)
	assert.Equal(t, 60*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Reaper.IdleTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, "127.0.0.1:8085", cfg.Server.Addr)
	assert.True(t, filepath.IsAbs(cfg.Browser.ProfileRoot), "~ should be expanded")
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvToken, "secret-token")

	path := writeConfig(t, `
browser:
  headless: false
  width: 1600
  height: 900
  profile_root: /tmp/browserd-profiles
  max_sessions: 4
timeouts:
  selector: 2s
  wait_cap: 15s
reaper:
  interval: 30s
  idle_timeout: 20m
policy:
  denied_urls:
    - "file://*"
server:
  api_token: ${BROWSERD_TOKEN}
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1600, cfg.Browser.Width)
	assert.Equal(t, 900, cfg.Browser.Height)
	assert.Equal(t, "/tmp/browserd-profiles", cfg.Browser.ProfileRoot)
	assert.Equal(t, 4, cfg.Browser.MaxSessions)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Selector)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.WaitCap)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Navigation, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 20*time.Minute, cfg.Reaper.IdleTimeout)
	assert.Equal(t, []string{"file://*"}, cfg.Policy.DeniedURLs)
	assert.Equal(t, "secret-token", cfg.Server.APIToken)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadUsesConfigEnvVar(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  addr: 0.0.0.0:9000\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvHeadless, "false")
	t.Setenv(EnvAddr, ":7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestEnvOverrideInvalidBool(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvHeadless, "sometimes")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvHeadless)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(writeConfig(t, "browser: [not, a, map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")

	_, err = Load(writeConfig(t, "timeouts:\n  selector: 0s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeouts.selector")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero width", func(c *Config) { c.Browser.Width = 0 }, "viewport"},
		{"no profile root", func(c *Config) { c.Browser.ProfileRoot = "" }, "profile_root"},
		{"negative max sessions", func(c *Config) { c.Browser.MaxSessions = -1 }, "max_sessions"},
		{"zero action timeout", func(c *Config) { c.Timeouts.Action = 0 }, "timeouts.action"},
		{"zero reap interval", func(c *Config) { c.Reaper.Interval = 0 }, "reaper.interval"},
		{"negative idle mark", func(c *Config) { c.Reaper.IdleMark = -time.Second }, "idle_mark"},
		{"disabled idle mark", func(c *Config) { c.Reaper.IdleMark = 0 }, ""},
		{"no addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsFirstBadDuration(t *testing.T) {
	for i := 0; i < 20; i++ {
		cfg := DefaultConfig()
		cfg.Timeouts.Selector = 0
		cfg.Timeouts.CloseWait = -time.Second
		cfg.Reaper.IdleTimeout = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Equal(t, "timeouts.selector must be positive, got 0s", err.Error())
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("BROWSERD_DOTENV_TEST", "")
	os.Unsetenv("BROWSERD_DOTENV_TEST")

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BROWSERD_DOTENV_TEST=from-file\n"), 0600))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "absent.env")))
	assert.Equal(t, "from-file", os.Getenv("BROWSERD_DOTENV_TEST"))
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	t.Setenv("BROWSERD_DOTENV_TEST", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BROWSERD_DOTENV_TEST=from-file\n"), 0600))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("BROWSERD_DOTENV_TEST"))
}
