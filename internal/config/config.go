package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/crawlpool/internal/domain"
)

const (
	EnvPrefix  = "CRAWLPOOL"
	ConfigDir  = ".crawlpool"
	ConfigName = "config"
	ConfigType = "toml"

	SecretsBackendFile     = "file"
	SecretsBackendPass     = "pass"
	SecretsBackendPassFile = "pass+file"
	SecretsBackendMemory   = "memory"
)

type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	Proxy     ProxyConfig     `mapstructure:"proxy" toml:"proxy"`
	Accounts  AccountsConfig  `mapstructure:"accounts" toml:"accounts"`
	Worker    WorkerConfig    `mapstructure:"worker" toml:"worker"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" toml:"metrics"`
}

type SchedulerConfig struct {
	MaxRetries         int `mapstructure:"max_retries" toml:"max_retries"`
	MaxWorkers         int `mapstructure:"max_workers" toml:"max_workers"`
	AccountWaitSeconds int `mapstructure:"account_wait_seconds" toml:"account_wait_seconds"`
	BackoffInitialMS   int `mapstructure:"backoff_initial_ms" toml:"backoff_initial_ms"`
	BackoffMaxMS       int `mapstructure:"backoff_max_ms" toml:"backoff_max_ms"`
	DetailChunkSize    int `mapstructure:"detail_chunk_size" toml:"detail_chunk_size"`
	UserChunkSize      int `mapstructure:"user_chunk_size" toml:"user_chunk_size"`
	DefaultConcurrency int `mapstructure:"default_concurrency" toml:"default_concurrency"`
}

func (c SchedulerConfig) AccountWait() time.Duration {
	return time.Duration(c.AccountWaitSeconds) * time.Second
}

func (c SchedulerConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

func (c SchedulerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

type ProxyConfig struct {
	Enabled             bool         `mapstructure:"enabled" toml:"enabled"`
	SafetyMarginSeconds int          `mapstructure:"safety_margin_seconds" toml:"safety_margin_seconds"`
	AcquireAttempts     int          `mapstructure:"acquire_attempts" toml:"acquire_attempts"`
	WarmSize            int          `mapstructure:"warm_size" toml:"warm_size"`
	Static              StaticConfig `mapstructure:"static" toml:"static"`
	Vendor              VendorConfig `mapstructure:"vendor" toml:"vendor"`
}

func (c ProxyConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

type StaticConfig struct {
	Addresses  []string `mapstructure:"addresses" toml:"addresses"`
	TTLSeconds int      `mapstructure:"ttl_seconds" toml:"ttl_seconds"`
}

func (c StaticConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type VendorConfig struct {
	Username  string `mapstructure:"username" toml:"username"`
	Password  string `mapstructure:"password" toml:"password"`
	SecretID  string `mapstructure:"secret_id" toml:"secret_id"`
	Signature string `mapstructure:"signature" toml:"signature"`
}

func (c VendorConfig) Credentials() domain.VendorCredentials {
	return domain.VendorCredentials{
		Username:  c.Username,
		Password:  c.Password,
		SecretID:  c.SecretID,
		Signature: c.Signature,
	}
}

type AccountsConfig struct {
	CoolingIntervalSeconds int    `mapstructure:"cooling_interval_seconds" toml:"cooling_interval_seconds"`
	Path                   string `mapstructure:"path" toml:"path"`
	SecretsDir             string `mapstructure:"secrets_dir" toml:"secrets_dir"`
	SecretsBackend         string `mapstructure:"secrets_backend" toml:"secrets_backend"`
	PassPrefix             string `mapstructure:"pass_prefix" toml:"pass_prefix"`
}

func (c AccountsConfig) CoolingInterval() time.Duration {
	return time.Duration(c.CoolingIntervalSeconds) * time.Second
}

type WorkerConfig struct {
	LatencyMS int `mapstructure:"latency_ms" toml:"latency_ms"`
}

func (c WorkerConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMS) * time.Millisecond
}

type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// DefaultPath is ~/.crawlpool/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, ConfigDir, ConfigName+"."+ConfigType), nil
}

// SetDefaults registers every key so that environment overrides and
// Unmarshal see the full tree.
func SetDefaults(v *viper.Viper, homeDir string) {
	v.SetDefault("scheduler.max_retries", 2)
	v.SetDefault("scheduler.max_workers", 20)
	v.SetDefault("scheduler.account_wait_seconds", 60)
	v.SetDefault("scheduler.backoff_initial_ms", 1000)
	v.SetDefault("scheduler.backoff_max_ms", 30000)
	v.SetDefault("scheduler.detail_chunk_size", 10)
	v.SetDefault("scheduler.user_chunk_size", 5)
	v.SetDefault("scheduler.default_concurrency", 5)

	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.safety_margin_seconds", 60)
	v.SetDefault("proxy.acquire_attempts", 3)
	v.SetDefault("proxy.warm_size", 0)
	v.SetDefault("proxy.static.addresses", []string{})
	v.SetDefault("proxy.static.ttl_seconds", 300)
	v.SetDefault("proxy.vendor.username", "")
	v.SetDefault("proxy.vendor.password", "")
	v.SetDefault("proxy.vendor.secret_id", "")
	v.SetDefault("proxy.vendor.signature", "")

	v.SetDefault("accounts.cooling_interval_seconds", 300)
	v.SetDefault("accounts.path", filepath.Join(homeDir, ConfigDir, "accounts.toml"))
	v.SetDefault("accounts.secrets_dir", filepath.Join(homeDir, ConfigDir, "secrets"))
	v.SetDefault("accounts.secrets_backend", SecretsBackendFile)
	v.SetDefault("accounts.pass_prefix", "crawlpool")

	v.SetDefault("worker.latency_ms", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.addr", "")
}

// Load reads the config file and CRAWLPOOL_* environment into a Config. When
// no file was set on v, ~/.crawlpool/config.toml is used if it exists.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}
	SetDefaults(v, homeDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicit := v.ConfigFileUsed(); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType(ConfigType)
		v.AddConfigPath(filepath.Join(homeDir, ConfigDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Accounts.Path = expandHome(cfg.Accounts.Path, homeDir)
	cfg.Accounts.SecretsDir = expandHome(cfg.Accounts.SecretsDir, homeDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() (Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	v := viper.New()
	SetDefaults(v, homeDir)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode default config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_workers must be positive, got %d", c.Scheduler.MaxWorkers))
	}
	if c.Scheduler.AccountWaitSeconds <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.account_wait_seconds must be positive, got %d", c.Scheduler.AccountWaitSeconds))
	}
	if c.Scheduler.BackoffInitialMS <= 0 || c.Scheduler.BackoffMaxMS < c.Scheduler.BackoffInitialMS {
		errs = append(errs, fmt.Errorf("scheduler backoff must satisfy 0 < backoff_initial_ms <= backoff_max_ms, got %d/%d",
			c.Scheduler.BackoffInitialMS, c.Scheduler.BackoffMaxMS))
	}
	if c.Scheduler.DetailChunkSize <= 0 || c.Scheduler.UserChunkSize <= 0 || c.Scheduler.DefaultConcurrency <= 0 {
		errs = append(errs, errors.New("scheduler chunk sizes and default_concurrency must be positive"))
	}
	if c.Proxy.SafetyMarginSeconds <= 0 {
		errs = append(errs, fmt.Errorf("proxy.safety_margin_seconds must be positive, got %d", c.Proxy.SafetyMarginSeconds))
	}
	if c.Proxy.AcquireAttempts <= 0 {
		errs = append(errs, fmt.Errorf("proxy.acquire_attempts must be positive, got %d", c.Proxy.AcquireAttempts))
	}
	if c.Proxy.WarmSize < 0 {
		errs = append(errs, fmt.Errorf("proxy.warm_size must not be negative, got %d", c.Proxy.WarmSize))
	}
	if c.Proxy.Static.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("proxy.static.ttl_seconds must be positive, got %d", c.Proxy.Static.TTLSeconds))
	}
	if c.Proxy.Enabled && c.Proxy.Static.TTLSeconds > 0 && c.Proxy.Static.TTLSeconds <= c.Proxy.SafetyMarginSeconds {
		errs = append(errs, fmt.Errorf("proxy.static.ttl_seconds (%d) must exceed proxy.safety_margin_seconds (%d)",
			c.Proxy.Static.TTLSeconds, c.Proxy.SafetyMarginSeconds))
	}
	if err := c.Proxy.Vendor.Credentials().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Accounts.CoolingIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("accounts.cooling_interval_seconds must be positive, got %d", c.Accounts.CoolingIntervalSeconds))
	}
	switch c.Accounts.SecretsBackend {
	case SecretsBackendFile, SecretsBackendPass, SecretsBackendPassFile, SecretsBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("accounts.secrets_backend %q is not one of file, pass, pass+file, memory", c.Accounts.SecretsBackend))
	}
	if c.Worker.LatencyMS < 0 {
		errs = append(errs, fmt.Errorf("worker.latency_ms must not be negative, got %d", c.Worker.LatencyMS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: invalid config: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Redacted hides vendor secrets for display.
func (c Config) Redacted() Config {
	if c.Proxy.Vendor.Password != "" {
		c.Proxy.Vendor.Password = "********"
	}
	if c.Proxy.Vendor.Signature != "" {
		c.Proxy.Vendor.Signature = "********"
	}
	return c
}

// Encode renders c as TOML.
func (c Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// WriteFile writes c as TOML to path. An existing file is kept unless force is
// set.
func WriteFile(path string, c Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}

	data, err := c.Encode()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func expandHome(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
