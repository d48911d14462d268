// Package config defines and loads the controller configuration.
package config

import (
	"fmt"
	"time"

	"github.com/mreider/fabrik/internal/faults"
)

// Config is the top-level controller configuration.
type Config struct {
	Kubernetes KubernetesConfig `mapstructure:"kubernetes" yaml:"kubernetes"`
	EventSink  EventSinkConfig  `mapstructure:"eventsink" yaml:"eventsink"`
	Chaos      ChaosConfig      `mapstructure:"chaos" yaml:"chaos"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// KubernetesConfig holds cluster connection settings.
type KubernetesConfig struct {
	// Kubeconfig is the path to a kubeconfig file. Empty means in-cluster
	// configuration.
	Kubeconfig string `mapstructure:"kubeconfig" yaml:"kubeconfig"`
}

// EventSinkConfig holds the telemetry ingest endpoint settings. An empty
// URL or token disables event emission (events are skipped with a warning,
// never an error).
type EventSinkConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ChaosConfig drives the episode scheduler.
type ChaosConfig struct {
	// MaxInterval bounds the random sleep between episodes. The actual
	// sleep is drawn uniformly from [0, MaxInterval].
	MaxInterval time.Duration `mapstructure:"maxinterval" yaml:"maxinterval"`

	// EpisodeDuration is how long injected faults stay active.
	EpisodeDuration time.Duration `mapstructure:"episodeduration" yaml:"episodeduration"`

	// RolloutTimeout bounds the wait for a target's pods to cycle after a
	// patch.
	RolloutTimeout time.Duration `mapstructure:"rollouttimeout" yaml:"rollouttimeout"`

	// Namespaces are the monitored namespaces targets are resolved in.
	Namespaces []string `mapstructure:"namespaces" yaml:"namespaces"`

	// Services is the whitelist of logical service names chaos may
	// target. Defaults to the demo fleet.
	Services []string `mapstructure:"services" yaml:"services"`

	// PlanFile optionally overrides the built-in per-service fault plan.
	PlanFile string `mapstructure:"planfile" yaml:"planfile"`
}

// RedisConfig holds the optional status publisher settings. An empty
// address disables publishing.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// ServerConfig holds the admin API settings.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is one of: json, console.
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the demo defaults.
func DefaultConfig() *Config {
	return &Config{
		Kubernetes: KubernetesConfig{
			Kubeconfig: "", // in-cluster
		},
		EventSink: EventSinkConfig{
			URL:     "",
			Token:   "",
			Timeout: 10 * time.Second,
		},
		Chaos: ChaosConfig{
			MaxInterval:     2 * time.Hour,
			EpisodeDuration: 10 * time.Minute,
			RolloutTimeout:  2 * time.Minute,
			Namespaces:      []string{"fabrik"},
			Services:        faults.KnownServices(),
			PlanFile:        "",
		},
		Redis: RedisConfig{
			Address:  "",
			Password: "",
			DB:       0,
			Key:      "fabrik:chaos:status",
			Channel:  "fabrik:chaos:notify",
		},
		Server: ServerConfig{
			Port: 8077,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the controller cannot run
// with.
func (c *Config) Validate() error {
	if c.Chaos.MaxInterval <= 0 {
		return fmt.Errorf("chaos.maxinterval must be positive, got %s", c.Chaos.MaxInterval)
	}
	if c.Chaos.EpisodeDuration <= 0 {
		return fmt.Errorf("chaos.episodeduration must be positive, got %s", c.Chaos.EpisodeDuration)
	}
	if c.Chaos.RolloutTimeout <= 0 {
		return fmt.Errorf("chaos.rollouttimeout must be positive, got %s", c.Chaos.RolloutTimeout)
	}
	if len(c.Chaos.Namespaces) == 0 {
		return fmt.Errorf("chaos.namespaces must list at least one namespace")
	}
	if len(c.Chaos.Services) == 0 {
		return fmt.Errorf("chaos.services must list at least one service")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.EventSink.Timeout <= 0 {
		return fmt.Errorf("eventsink.timeout must be positive, got %s", c.EventSink.Timeout)
	}
	return nil
}

// EventSinkEnabled reports whether both sink URL and token are configured.
func (c *Config) EventSinkEnabled() bool {
	return c.EventSink.URL != "" && c.EventSink.Token != ""
}

// StatusPublisherEnabled reports whether a Redis address is configured.
func (c *Config) StatusPublisherEnabled() bool {
	return c.Redis.Address != ""
}
