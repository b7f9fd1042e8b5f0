// Package config loads application configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research orchestrator.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Research ResearchConfig `mapstructure:"research"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// EngineConfig points at the remote research engine.
type EngineConfig struct {
	URL            string        `mapstructure:"url"`
	AuthToken      string        `mapstructure:"auth_token"`
	GraphID        string        `mapstructure:"graph_id"`
	AssistantName  string        `mapstructure:"assistant_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
	Backoff        time.Duration `mapstructure:"backoff"`
}

func (e EngineConfig) Validate() error {
	if strings.TrimSpace(e.URL) == "" {
		return errors.New("engine.url is required")
	}
	if strings.TrimSpace(e.GraphID) == "" {
		return errors.New("engine.graph_id is required")
	}
	return nil
}

// ResearchConfig tunes the completion waiter.
type ResearchConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	WaitDeadline       time.Duration `mapstructure:"wait_deadline"`
	MaxPollFailures    int           `mapstructure:"max_poll_failures"`
	AllowClarification bool          `mapstructure:"allow_clarification"`
}

// StorageConfig selects the session registry backend.
type StorageConfig struct {
	Store string      `mapstructure:"store"` // inmemory | redis
	Redis RedisConfig `mapstructure:"redis"`
}

func (s StorageConfig) Validate() error {
	switch s.Store {
	case "", "inmemory":
		return nil
	case "redis":
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return errors.New("storage.redis.addr required when storage.store is redis")
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage.store: %s", s.Store)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MonitorConfig controls the background engine health probe.
type MonitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron expression or @hourly/@daily
}

// Load reads config from path (or the usual lookup dirs when empty) plus
// DEEPRESEARCH_* environment overrides. A missing config file is fine; the
// defaults describe a local engine on :2024.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8321")
	v.SetDefault("engine.url", "http://localhost:2024")
	v.SetDefault("engine.auth_token", "dev-token")
	v.SetDefault("engine.graph_id", "Deep Researcher")
	v.SetDefault("engine.assistant_name", "Research Assistant")
	v.SetDefault("engine.request_timeout", 15*time.Second)
	v.SetDefault("engine.retries", 2)
	v.SetDefault("engine.backoff", 300*time.Millisecond)
	v.SetDefault("research.poll_interval", 2*time.Second)
	v.SetDefault("research.wait_deadline", 720*time.Second)
	v.SetDefault("research.max_poll_failures", 3)
	v.SetDefault("research.allow_clarification", true)
	v.SetDefault("storage.store", "inmemory")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.schedule", "@hourly")

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
