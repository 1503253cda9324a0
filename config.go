package apprun

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// RuntimeConfig configures Boot's ambient concerns (logging, namespace
// prefix for shared durable backends). Loaded with viper the way
// evalgo-org-eve/cli/root.go binds flags, env and an optional config
// file into a single source of truth.
type RuntimeConfig struct {
	LogLevel  string
	LogFormat string
	Namespace string
}

// DurableConfig configures the durable subpackage's store/bus/queue
// backends (SPEC_FULL.md §2 "Config").
type DurableConfig struct {
	StoreBackend string // "memory" | "bolt" | "postgres"
	BoltPath     string
	PostgresDSN  string
	BusBackend   string // "memory" | "redis"
	RedisAddr    string
	PollInterval time.Duration
}

// LoadRuntimeConfig reads configuration from (in ascending precedence)
// defaults, a config file, and environment variables prefixed APPRUN_.
func LoadRuntimeConfig(configFile string) (*RuntimeConfig, error) {
	v := newViper("APPRUN", configFile)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("namespace", "default")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return nil, fmt.Errorf("apprun: reading config file: %w", err)
		}
	}

	return &RuntimeConfig{
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		Namespace: v.GetString("namespace"),
	}, nil
}

// LoadDurableConfig reads the durable layer's backend selection and
// connection settings with the same precedence as LoadRuntimeConfig.
func LoadDurableConfig(configFile string) (*DurableConfig, error) {
	v := newViper("APPRUN_DURABLE", configFile)
	v.SetDefault("store_backend", "memory")
	v.SetDefault("bolt_path", "apprun-durable.db")
	v.SetDefault("bus_backend", "memory")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("poll_interval", "1s")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return nil, fmt.Errorf("apprun: reading durable config file: %w", err)
		}
	}

	return &DurableConfig{
		StoreBackend: v.GetString("store_backend"),
		BoltPath:     v.GetString("bolt_path"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		BusBackend:   v.GetString("bus_backend"),
		RedisAddr:    v.GetString("redis_addr"),
		PollInterval: v.GetDuration("poll_interval"),
	}, nil
}

func newViper(envPrefix, configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("." + envPrefix)
	}
	return v
}
