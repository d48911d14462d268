package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration with the following precedence, highest first:
// environment variables (FABRIK_* prefix), config file, defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FABRIK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fabrik")
		v.AddConfigPath("$HOME/.fabrik")

		// A missing config file is fine, defaults and env cover everything.
		_ = v.ReadInConfig()
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables and defaults
// only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Kubernetes
	v.SetDefault("kubernetes.kubeconfig", defaults.Kubernetes.Kubeconfig)

	// Event sink
	v.SetDefault("eventsink.url", defaults.EventSink.URL)
	v.SetDefault("eventsink.token", defaults.EventSink.Token)
	v.SetDefault("eventsink.timeout", defaults.EventSink.Timeout)

	// Chaos
	v.SetDefault("chaos.maxinterval", defaults.Chaos.MaxInterval)
	v.SetDefault("chaos.episodeduration", defaults.Chaos.EpisodeDuration)
	v.SetDefault("chaos.rollouttimeout", defaults.Chaos.RolloutTimeout)
	v.SetDefault("chaos.namespaces", defaults.Chaos.Namespaces)
	v.SetDefault("chaos.services", defaults.Chaos.Services)
	v.SetDefault("chaos.planfile", defaults.Chaos.PlanFile)

	// Redis
	v.SetDefault("redis.address", defaults.Redis.Address)
	v.SetDefault("redis.password", defaults.Redis.Password)
	v.SetDefault("redis.db", defaults.Redis.DB)
	v.SetDefault("redis.key", defaults.Redis.Key)
	v.SetDefault("redis.channel", defaults.Redis.Channel)

	// Server
	v.SetDefault("server.port", defaults.Server.Port)

	// Log
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

func bindEnvVars(v *viper.Viper) {
	// Explicit bindings so nested keys map onto flat variable names.
	envBindings := map[string]string{
		"kubernetes.kubeconfig": "KUBECONFIG",
		"eventsink.url":         "FABRIK_EVENT_SINK_URL",
		"eventsink.token":       "FABRIK_EVENT_SINK_TOKEN",
		"eventsink.timeout":     "FABRIK_EVENT_SINK_TIMEOUT",
		"chaos.maxinterval":     "FABRIK_CHAOS_MAX_INTERVAL",
		"chaos.episodeduration": "FABRIK_CHAOS_EPISODE_DURATION",
		"chaos.rollouttimeout":  "FABRIK_CHAOS_ROLLOUT_TIMEOUT",
		"chaos.namespaces":      "FABRIK_CHAOS_NAMESPACES",
		"chaos.services":        "FABRIK_CHAOS_SERVICES",
		"chaos.planfile":        "FABRIK_CHAOS_PLAN_FILE",
		"redis.address":         "FABRIK_REDIS_ADDR",
		"redis.password":        "FABRIK_REDIS_PASSWORD",
		"redis.db":              "FABRIK_REDIS_DB",
		"redis.key":             "FABRIK_REDIS_KEY",
		"redis.channel":         "FABRIK_REDIS_CHANNEL",
		"server.port":           "FABRIK_SERVER_PORT",
		"log.level":             "FABRIK_LOG_LEVEL",
		"log.format":            "FABRIK_LOG_FORMAT",
	}

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// MustLoad loads configuration and panics on failure.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// GetEnvOrDefault returns the environment value for key, or defaultValue
// when unset.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
