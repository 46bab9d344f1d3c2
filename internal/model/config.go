package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig holds settings for the REST backend.
type APIConfig struct {
	// BaseURL is the configured API base, e.g. https://host/api. A
	// path-relative value such as /api means a same-origin proxy.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds every REST call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the REST timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PushConfig holds settings for the real-time notification channel.
type PushConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PathSuffix is stripped from the API base to find the channel root.
	PathSuffix string `mapstructure:"path_suffix" yaml:"path_suffix"`

	// IncapableHosts are host globs of deployments that cannot hold a
	// long-lived connection (serverless hosting).
	IncapableHosts []string `mapstructure:"incapable_hosts" yaml:"incapable_hosts"`

	ReconnectAttempts int `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelayMs  int `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
}

// ReconnectDelay returns the fixed delay between connection attempts.
func (c PushConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// SyncConfig controls background refreshes.
type SyncConfig struct {
	// PollIntervalSec is how often the feed is refreshed while push is
	// unavailable. Zero disables polling.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// CacheConfig controls the local snapshot cache.
type CacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
	Sound bool   `mapstructure:"sound" yaml:"sound"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
}

// EnvPrefix is prepended to every environment override,
// e.g. WARRANTY_API_BASE_URL.
const EnvPrefix = "WARRANTY"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/warrantynotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultCachePath returns the default SQLite snapshot cache location.
func DefaultCachePath() string {
	return filepath.Join(configDir(), "cache.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "warrantynotify")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:    "http://localhost:3000/api",
			TimeoutSec: 10,
		},
		Push: PushConfig{
			Enabled:           true,
			PathSuffix:        "/api",
			IncapableHosts:    []string{"*.vercel.app"},
			ReconnectAttempts: 3,
			ReconnectDelayMs:  2000,
		},
		Sync: SyncConfig{
			PollIntervalSec: 60,
		},
		Cache: CacheConfig{
			Path: DefaultCachePath(),
		},
		Display: DisplayConfig{
			Theme: "default",
			Sound: true,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("push.enabled", d.Push.Enabled)
	v.SetDefault("push.path_suffix", d.Push.PathSuffix)
	v.SetDefault("push.incapable_hosts", d.Push.IncapableHosts)
	v.SetDefault("push.reconnect_attempts", d.Push.ReconnectAttempts)
	v.SetDefault("push.reconnect_delay_ms", d.Push.ReconnectDelayMs)
	v.SetDefault("sync.poll_interval_sec", d.Sync.PollIntervalSec)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("display.sound", d.Display.Sound)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with WARRANTY_ override file values. A
// missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize replaces out-of-range values with defaults.
func (c *AppConfig) normalize() {
	d := DefaultAppConfig()
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = d.API.TimeoutSec
	}
	if c.Push.ReconnectAttempts < 0 {
		c.Push.ReconnectAttempts = 0
	}
	if c.Push.ReconnectDelayMs <= 0 {
		c.Push.ReconnectDelayMs = d.Push.ReconnectDelayMs
	}
	if c.Sync.PollIntervalSec < 0 {
		c.Sync.PollIntervalSec = 0
	}
	if c.Cache.Path == "" {
		c.Cache.Path = d.Cache.Path
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("push", cfg.Push)
	v.Set("sync", cfg.Sync)
	v.Set("cache", cfg.Cache)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
