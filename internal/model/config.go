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

// MaxPages caps a single bundle search walk regardless of server cursors.
const MaxPages = 10

// DefaultPageSize is the page limit sent with each bundle search.
const DefaultPageSize = 50

// ClickUpConfig describes where the remote service and its session live.
type ClickUpConfig struct {
	// Domain is the cookie domain holding the session credential.
	Domain string `mapstructure:"domain" yaml:"domain"`

	// CookieName is the name of the session cookie.
	CookieName string `mapstructure:"cookie_name" yaml:"cookie_name"`

	// WorkspaceID pins the workspace. When empty it is derived from
	// TargetURLs.
	WorkspaceID string `mapstructure:"workspace_id" yaml:"workspace_id"`

	// TargetURLs are the open, authenticated web-app URLs known to the
	// producer (e.g. https://app.clickup.com/9011099466/home).
	TargetURLs []string `mapstructure:"target_urls" yaml:"target_urls"`

	// FrontdoorURLs are the inbox API hosts, tried in order.
	FrontdoorURLs []string `mapstructure:"frontdoor_urls" yaml:"frontdoor_urls"`

	// APIURL is the public REST API used by the task-list fallback.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`

	// AppURL is the web app root used to build task deep links.
	AppURL string `mapstructure:"app_url" yaml:"app_url"`

	PageSize          int `mapstructure:"page_size" yaml:"page_size"`
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`
}

// RelayConfig holds relay server and client settings.
type RelayConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	URL          string `mapstructure:"url" yaml:"url"`
	Backend      string `mapstructure:"backend" yaml:"backend"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// ProducerConfig holds the sync-push loop settings.
type ProducerConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// Concurrency bounds parallel remote mutations in one batch.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// DisplayConfig holds terminal consumer preferences.
type DisplayConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	ClickUp  ClickUpConfig  `mapstructure:"clickup" yaml:"clickup"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Producer ProducerConfig `mapstructure:"producer" yaml:"producer"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// RequestTimeout returns the per-candidate timeout.
func (c ClickUpConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// PollInterval returns the producer interval.
func (c ProducerConfig) PollInterval() time.Duration {
	if c.PollIntervalSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}

// PollInterval returns the consumer refresh interval.
func (c DisplayConfig) PollInterval() time.Duration {
	if c.PollIntervalSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/swipe/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "swipe", "config.yaml")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		ClickUp: ClickUpConfig{
			Domain:     "app.clickup.com",
			CookieName: "cu_jwt",
			FrontdoorURLs: []string{
				"https://frontdoor-prod-us-west-2-2.clickup.com",
			},
			APIURL:            "https://api.clickup.com",
			AppURL:            "https://app.clickup.com",
			PageSize:          DefaultPageSize,
			RequestTimeoutSec: 30,
		},
		Relay: RelayConfig{
			Addr:         ":3001",
			URL:          "http://localhost:3001",
			Backend:      "memory",
			DSN:          ":memory:",
			MaxBodyBytes: 4 << 20,
		},
		Producer: ProducerConfig{
			PollIntervalSec: 120,
			Concurrency:     4,
		},
		Display: DisplayConfig{
			PollIntervalSec: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// setDefaults mirrors DefaultAppConfig into viper so that partial files
// and environment overrides resolve to sensible values.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("clickup.domain", d.ClickUp.Domain)
	v.SetDefault("clickup.cookie_name", d.ClickUp.CookieName)
	v.SetDefault("clickup.workspace_id", "")
	v.SetDefault("clickup.target_urls", []string{})
	v.SetDefault("clickup.frontdoor_urls", d.ClickUp.FrontdoorURLs)
	v.SetDefault("clickup.api_url", d.ClickUp.APIURL)
	v.SetDefault("clickup.app_url", d.ClickUp.AppURL)
	v.SetDefault("clickup.page_size", d.ClickUp.PageSize)
	v.SetDefault("clickup.request_timeout_sec", d.ClickUp.RequestTimeoutSec)
	v.SetDefault("relay.addr", d.Relay.Addr)
	v.SetDefault("relay.url", d.Relay.URL)
	v.SetDefault("relay.backend", d.Relay.Backend)
	v.SetDefault("relay.dsn", d.Relay.DSN)
	v.SetDefault("relay.max_body_bytes", d.Relay.MaxBodyBytes)
	v.SetDefault("producer.poll_interval_sec", d.Producer.PollIntervalSec)
	v.SetDefault("producer.concurrency", d.Producer.Concurrency)
	v.SetDefault("display.poll_interval_sec", d.Display.PollIntervalSec)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with SWIPE_ override file values
// (SWIPE_RELAY_URL overrides relay.url). A missing file yields defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("swipe")
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

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.ClickUp.PageSize <= 0 {
		cfg.ClickUp.PageSize = DefaultPageSize
	}
	if cfg.Producer.Concurrency <= 0 {
		cfg.Producer.Concurrency = 1
	}
	cfg.ClickUp.APIURL = strings.TrimRight(cfg.ClickUp.APIURL, "/")
	cfg.ClickUp.AppURL = strings.TrimRight(cfg.ClickUp.AppURL, "/")
	cfg.Relay.URL = strings.TrimRight(cfg.Relay.URL, "/")

	return cfg, nil
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

	v.Set("clickup", cfg.ClickUp)
	v.Set("relay", cfg.Relay)
	v.Set("producer", cfg.Producer)
	v.Set("display", cfg.Display)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
