// Package config provides YAML-based configuration loading for bcphub.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the controller process
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// BCP describes outbound connections and inbound servers
	BCP BCPConfig `mapstructure:"bcp"`

	// Net holds connection tuning options
	Net NetConfig `mapstructure:"net"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "bcphub",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/bcphub.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		BCP: BCPConfig{
			Enabled: true,
			Hello: HelloConfig{
				Version:           DefaultBCPVersion,
				ControllerName:    "bcphub",
				ControllerVersion: "0.1.0",
			},
		},
		Net: NetConfig{ConnectTimeoutMS: 0, SendQueue: 64},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix BCPHUB and `.`/`-` are replaced with `_`.
// Example: BCPHUB_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BCPHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	// BCP defaults; connections/servers have none so that "absent" stays absent
	v.SetDefault("bcp.enabled", cfg.BCP.Enabled)
	v.SetDefault("bcp.hello.version", cfg.BCP.Hello.Version)
	v.SetDefault("bcp.hello.controller_name", cfg.BCP.Hello.ControllerName)
	v.SetDefault("bcp.hello.controller_version", cfg.BCP.Hello.ControllerVersion)
	// Net defaults
	v.SetDefault("net.connect_timeout_ms", cfg.Net.ConnectTimeoutMS)
	v.SetDefault("net.send_queue", cfg.Net.SendQueue)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("BCPHUB_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `bcphub`
		v.SetConfigName("bcphub")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bcphub"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v, cfg)
}

// LoadBytes parses YAML configuration from memory. Environment overrides are
// not applied.
func LoadBytes(b []byte) (*Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("bcp.enabled", cfg.BCP.Enabled)
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v, cfg)
}

func decode(v *viper.Viper, cfg *Config) (*Config, error) {
	// "None" (or any scalar sentinel) disables that half of the subsystem
	for _, key := range []string{"bcp.connections", "bcp.servers"} {
		raw := v.Get(key)
		if raw == nil {
			continue
		}
		if _, ok := raw.(map[string]any); ok {
			continue
		}
		if !IsNone(raw) {
			return nil, fmt.Errorf("%s: expected a mapping or None, got %T", key, raw)
		}
		v.Set(key, map[string]any{})
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Net.ConnectTimeoutMS < 0 {
		return fmt.Errorf("invalid net.connect_timeout_ms: %d", c.Net.ConnectTimeoutMS)
	}
	if c.Net.SendQueue <= 0 {
		c.Net.SendQueue = 64
	}
	return c.BCP.validate()
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
