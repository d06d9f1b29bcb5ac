// Package config loads relay and trip directory settings from defaults, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Trip lookup backends.
const (
	LookupNATS = "nats"
	LookupSQL  = "sql"
	LookupNone = "none"
)

type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	ServerName        string        `mapstructure:"server_name"`

	RedisAddr   string `mapstructure:"redis_addr"`
	NATSURL     string `mapstructure:"nats_url"`
	DatabaseURL    string `mapstructure:"database_url"`
	DatabaseDriver string `mapstructure:"database_driver"`
	TripLookup  string `mapstructure:"trip_lookup"`

	RoleTimeout     time.Duration `mapstructure:"role_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	HistoryIdleTTL  time.Duration `mapstructure:"history_idle_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	JWTSecret string `mapstructure:"jwt_secret"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var keys = []string{
	"listen_addr", "worker_pool_size", "max_connections", "read_timeout",
	"write_timeout", "send_buffer", "heartbeat_interval", "heartbeat_timeout",
	"server_name", "redis_addr", "nats_url", "database_url", "database_driver", "trip_lookup",
	"role_timeout", "history_limit", "history_idle_ttl", "janitor_interval",
	"jwt_secret", "log_level", "log_format",
}

func setDefaults(v *viper.Viper) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "relay-1"
	}

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("worker_pool_size", 256)
	v.SetDefault("max_connections", 100000)
	v.SetDefault("read_timeout", "10s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("heartbeat_timeout", "10s")
	v.SetDefault("server_name", hostname)
	v.SetDefault("redis_addr", "")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("database_url", "")
	v.SetDefault("database_driver", "mysql")
	v.SetDefault("trip_lookup", LookupNATS)
	v.SetDefault("role_timeout", "3s")
	v.SetDefault("history_limit", 200)
	v.SetDefault("history_idle_ttl", "24h")
	v.SetDefault("janitor_interval", "5m")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads the configuration. The YAML file is taken from CONFIG_FILE, or
// ./config.yaml when present; environment variables named after the upper
// case keys override both.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	file := os.Getenv("CONFIG_FILE")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.TripLookup {
	case LookupNATS, LookupSQL, LookupNone:
	default:
		return fmt.Errorf("config: trip_lookup must be nats, sql or none, got %q", c.TripLookup)
	}
	if c.TripLookup == LookupSQL && c.DatabaseURL == "" {
		return errors.New("config: trip_lookup=sql requires database_url")
	}
	switch c.DatabaseDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: database_driver must be mysql or postgres, got %q", c.DatabaseDriver)
	}
	if c.WorkerPoolSize <= 0 || c.MaxConnections <= 0 || c.SendBuffer <= 0 {
		return errors.New("config: worker_pool_size, max_connections and send_buffer must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("config: history_limit must be positive, got %d", c.HistoryLimit)
	}
	return nil
}

// SetupLogging configures the global zerolog logger from LogLevel and
// LogFormat.
func (c *Config) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
