package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/viper"
)

// Config holds all LLM Cost Meter configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Metering  MeteringConfig  `mapstructure:"metering"`
	Server    ServerConfig    `mapstructure:"server"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// StorageConfig selects the ledger and budget store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// PricingConfig defines pricing data settings. An empty Dir uses only the
// embedded catalog.
type PricingConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// MeteringConfig toggles cost calculation.
type MeteringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProxyConfig defines transparent proxy settings.
type ProxyConfig struct {
	Enabled        bool  `mapstructure:"enabled"`
	MaxBodySize    int64 `mapstructure:"max_body_size"`
	DenyOnExceed   bool  `mapstructure:"deny_on_exceed"`
	AddCostHeaders bool  `mapstructure:"add_cost_headers"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Buffer  int           `mapstructure:"buffer"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultsConfig defines default values.
type DefaultsConfig struct {
	Scope string `mapstructure:"scope"`
}

// RetentionConfig controls the scheduled ledger purge. A zero MaxAge
// disables it.
type RetentionConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age"`
	Schedule string        `mapstructure:"schedule"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".lcm"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".lcm", "meter.db"))
	v.SetDefault("pricing.dir", "")
	v.SetDefault("pricing.watch", false)
	v.SetDefault("metering.enabled", true)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.max_body_size", 10*1024*1024) // 10 MB
	v.SetDefault("proxy.deny_on_exceed", true)
	v.SetDefault("proxy.add_cost_headers", true)
	v.SetDefault("alerts.buffer", 256)
	v.SetDefault("alerts.slack.enabled", false)
	v.SetDefault("alerts.slack.webhook_url", "")
	v.SetDefault("alerts.slack.channel", "#llm-costs")
	v.SetDefault("alerts.webhook.enabled", false)
	v.SetDefault("alerts.webhook.url", "")
	v.SetDefault("alerts.webhook.secret", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("defaults.scope", model.DefaultScopeID)
	v.SetDefault("retention.max_age", "0s")
	v.SetDefault("retention.schedule", "@daily")

	// Environment variables
	v.SetEnvPrefix("LCM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values viper cannot type-check on its own.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("invalid config: storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("invalid config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid config: unknown logging.format %q", c.Logging.Format)
	}

	if c.Defaults.Scope == "" {
		return fmt.Errorf("invalid config: defaults.scope must not be empty")
	}

	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("invalid config: retention.max_age must not be negative")
	}

	return nil
}
