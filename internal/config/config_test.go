package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/crawlpool/internal/domain"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 20, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, time.Minute, cfg.Scheduler.AccountWait())
	assert.Equal(t, time.Second, cfg.Scheduler.BackoffInitial())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.BackoffMax())
	assert.Equal(t, 10, cfg.Scheduler.DetailChunkSize)
	assert.Equal(t, 5, cfg.Scheduler.UserChunkSize)
	assert.Equal(t, 5, cfg.Scheduler.DefaultConcurrency)

	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, time.Minute, cfg.Proxy.SafetyMargin())
	assert.Equal(t, 3, cfg.Proxy.AcquireAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Proxy.Static.TTL())
	assert.Empty(t, cfg.Proxy.Static.Addresses)

	assert.Equal(t, 5*time.Minute, cfg.Accounts.CoolingInterval())
	assert.Equal(t, filepath.Join(home, ".crawlpool", "accounts.toml"), cfg.Accounts.Path)
	assert.Equal(t, filepath.Join(home, ".crawlpool", "secrets"), cfg.Accounts.SecretsDir)
	assert.Equal(t, SecretsBackendFile, cfg.Accounts.SecretsBackend)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadReadsHomeConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, ".crawlpool", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`
[scheduler]
max_retries = 4

[proxy.static]
addresses = ["10.0.0.1:8000", "10.0.0.2:8000"]
ttl_seconds = 120

[accounts]
path = "~/data/accounts.toml"
`), 0o600))

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scheduler.MaxRetries)
	assert.Equal(t, []string{"10.0.0.1:8000", "10.0.0.2:8000"}, cfg.Proxy.Static.Addresses)
	assert.Equal(t, 2*time.Minute, cfg.Proxy.Static.TTL())
	assert.Equal(t, filepath.Join(home, "data", "accounts.toml"), cfg.Accounts.Path)
	assert.Equal(t, 20, cfg.Scheduler.MaxWorkers)
}

func TestLoadExplicitConfigFileMustExist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load(v)
	assert.ErrorContains(t, err, "read config")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CRAWLPOOL_SCHEDULER_MAX_WORKERS", "7")
	t.Setenv("CRAWLPOOL_PROXY_ENABLED", "false")
	t.Setenv("CRAWLPOOL_LOG_LEVEL", "debug")
	t.Setenv("CRAWLPOOL_ACCOUNTS_SECRETS_BACKEND", "memory")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scheduler.MaxWorkers)
	assert.False(t, cfg.Proxy.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, SecretsBackendMemory, cfg.Accounts.SecretsBackend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero margin", mutate: func(c *Config) { c.Proxy.SafetyMarginSeconds = 0 }, wantErr: "proxy.safety_margin_seconds"},
		{name: "negative margin", mutate: func(c *Config) { c.Proxy.SafetyMarginSeconds = -5 }, wantErr: "proxy.safety_margin_seconds"},
		{name: "zero attempts", mutate: func(c *Config) { c.Proxy.AcquireAttempts = 0 }, wantErr: "proxy.acquire_attempts"},
		{name: "zero workers", mutate: func(c *Config) { c.Scheduler.MaxWorkers = 0 }, wantErr: "scheduler.max_workers"},
		{name: "inverted backoff", mutate: func(c *Config) { c.Scheduler.BackoffMaxMS = 10 }, wantErr: "backoff"},
		{name: "ttl within margin", mutate: func(c *Config) { c.Proxy.Static.TTLSeconds = 60 }, wantErr: "must exceed proxy.safety_margin_seconds"},
		{name: "unknown backend", mutate: func(c *Config) { c.Accounts.SecretsBackend = "vault" }, wantErr: "secrets_backend"},
		{name: "half vendor creds", mutate: func(c *Config) { c.Proxy.Vendor.Username = "kdl" }, wantErr: "username and password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			tt.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWriteFileRoundTripsThroughLoad(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Default()
	require.NoError(t, err)
	cfg.Scheduler.MaxRetries = 5
	cfg.Proxy.Static.Addresses = []string{"proxy.local:3128"}

	path := filepath.Join(home, ".crawlpool", "config.toml")
	require.NoError(t, WriteFile(path, cfg, false))
	assert.ErrorContains(t, WriteFile(path, cfg, false), "already exists")
	require.NoError(t, WriteFile(path, cfg, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Scheduler.MaxRetries)
	assert.Equal(t, []string{"proxy.local:3128"}, loaded.Proxy.Static.Addresses)
}

func TestRedactedHidesVendorSecrets(t *testing.T) {
	cfg := Config{Proxy: ProxyConfig{Vendor: VendorConfig{Username: "kdl", Password: "pw", SecretID: "sid", Signature: "sig"}}}

	redacted := cfg.Redacted()
	assert.Equal(t, "kdl", redacted.Proxy.Vendor.Username)
	assert.Equal(t, "********", redacted.Proxy.Vendor.Password)
	assert.Equal(t, "********", redacted.Proxy.Vendor.Signature)
	assert.Equal(t, "pw", cfg.Proxy.Vendor.Password)

	data, err := redacted.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "secret_id")
	assert.Contains(t, string(data), "sid")
	assert.NotContains(t, string(data), "'pw'")
}
