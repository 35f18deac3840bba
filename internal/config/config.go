// Package config loads syncspace configuration from file and
// environment.
//
// Configuration is searched as syncspace.yaml in the working directory,
// ./config, and $HOME/.config/syncspace, with SYNCSPACE_* environment
// variables overriding file values. A missing file is not an error; the
// defaults describe a single local server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full syncspace configuration.
type Config struct {
	Server struct {
		Port    int    `mapstructure:"port" yaml:"port"`
		DBPath  string `mapstructure:"db_path" yaml:"db_path"`
		LogFile string `mapstructure:"log_file" yaml:"log_file"`
	} `mapstructure:"server" yaml:"server"`

	Store struct {
		URL string `mapstructure:"url" yaml:"url"`
	} `mapstructure:"store" yaml:"store"`

	Relay struct {
		URL string `mapstructure:"url" yaml:"url"`

		// GlobalTopic restores the legacy protocol where every session
		// across every document shares one topic and relies on content
		// equality alone. Off by default; topics are per-document.
		GlobalTopic bool `mapstructure:"global_topic" yaml:"global_topic"`

		// Reconnect enables automatic reconnection with backoff.
		Reconnect bool `mapstructure:"reconnect" yaml:"reconnect"`
	} `mapstructure:"relay" yaml:"relay"`

	Autosave struct {
		QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
	} `mapstructure:"autosave" yaml:"autosave"`

	Redis struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		Password string `mapstructure:"password" yaml:"password"`
	} `mapstructure:"redis" yaml:"redis"`
}

// Default returns the built-in configuration: one local server, no Redis
// bridge, per-document topics, 2s autosave quiet period.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.DBPath = filepath.Join(".syncspace", "documents.db")
	cfg.Store.URL = "http://localhost:8080"
	cfg.Relay.URL = "ws://localhost:8080/ws"
	cfg.Relay.Reconnect = true
	cfg.Autosave.QuietPeriod = 2 * time.Second
	return cfg
}

// Load reads configuration, layering file and environment over the
// defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("syncspace")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "syncspace"))
	}
	v.SetEnvPrefix("SYNCSPACE")
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.db_path", defaults.Server.DBPath)
	v.SetDefault("server.log_file", defaults.Server.LogFile)
	v.SetDefault("store.url", defaults.Store.URL)
	v.SetDefault("relay.url", defaults.Relay.URL)
	v.SetDefault("relay.global_topic", defaults.Relay.GlobalTopic)
	v.SetDefault("relay.reconnect", defaults.Relay.Reconnect)
	v.SetDefault("autosave.quiet_period", defaults.Autosave.QuietPeriod)
	v.SetDefault("redis.addr", defaults.Redis.Addr)
	v.SetDefault("redis.password", defaults.Redis.Password)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories as needed. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
