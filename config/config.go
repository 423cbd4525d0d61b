// Package config loads the echo server's configuration from a YAML file,
// environment variables, and built-in defaults. Environment variables
// override file values, and file values override defaults (viper's usual
// merge).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig is the listening and session-population surface.
type ServerConfig struct {
	// Endpoint is the bind address and port, e.g. "0.0.0.0:7777".
	Endpoint string `mapstructure:"endpoint"`
	// ListenBacklog is the OS-level accept backlog.
	ListenBacklog int `mapstructure:"listen_backlog"`
	// MaxSessionCount caps concurrently active sessions.
	MaxSessionCount int `mapstructure:"max_session_count"`
	// RecycledSessionCount caps the pool of session handles kept for reuse.
	RecycledSessionCount int `mapstructure:"recycled_session_count"`
	// MaxStoppingSessions caps concurrently outstanding session stops.
	MaxStoppingSessions int `mapstructure:"max_stopping_sessions"`
	// WorkerCount sizes the work pool driving the server.
	WorkerCount int `mapstructure:"worker_count"`
	// StopTimeout bounds the graceful drain on shutdown.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// SessionConfig is the per-session echo surface.
type SessionConfig struct {
	// BufferSize is the per-session read buffer in bytes.
	BufferSize int `mapstructure:"buffer_size"`
	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool `mapstructure:"no_delay"`
	// InactivityTimeout tears idle sessions down. Zero disables it.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

// LoggingConfig is the logging surface.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string `mapstructure:"level"`
	// Dir enables daily-rotated file logging into the directory when set.
	Dir string `mapstructure:"dir"`
}

// StatsConfig is the stats-publisher surface.
type StatsConfig struct {
	// Enabled turns periodic stats publication on.
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the snapshot cache: "memory" or "redis".
	Backend string `mapstructure:"backend"`
	// Key is the cache key snapshots are written under.
	Key string `mapstructure:"key"`
	// Interval is the time between publications.
	Interval time.Duration `mapstructure:"interval"`
	// TTL is how long each snapshot stays cached; zero keeps it until
	// replaced.
	TTL time.Duration `mapstructure:"ttl"`
	// RedisAddr is the redis "host:port" for the redis backend.
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisPassword is the redis password; empty for none.
	RedisPassword string `mapstructure:"redis_password"`
	// RedisDB is the redis database number.
	RedisDB int `mapstructure:"redis_db"`
}

// AlertingConfig is the operator-alert surface.
type AlertingConfig struct {
	// DiscordWebhook receives a notification when the server stops with a
	// terminal error. Empty disables alerting.
	DiscordWebhook string `mapstructure:"discord_webhook"`
}

// Config is the full echo server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
//
// Returns:
//   - A Config with the built-in defaults
func Default() Config {
	return Config{
		Server: ServerConfig{
			Endpoint:             "0.0.0.0:7777",
			ListenBacklog:        128,
			MaxSessionCount:      1000,
			RecycledSessionCount: 100,
			MaxStoppingSessions:  50,
			WorkerCount:          8,
			StopTimeout:          30 * time.Second,
		},
		Session: SessionConfig{
			BufferSize: 4096,
			NoDelay:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Stats: StatsConfig{
			Enabled:  true,
			Backend:  "memory",
			Key:      "echoserver:stats",
			Interval: 5 * time.Second,
		},
	}
}

// Load reads the configuration. When path is non-empty that file is used;
// otherwise "echoserver.yaml" is looked up in the working directory and a
// missing file just means defaults. Environment variables prefixed with
// ECHOSERVER_ override file values, e.g. ECHOSERVER_SERVER_ENDPOINT.
//
// Parameters:
//   - path: Explicit config file path, or "" for the default lookup
//
// Returns:
//   - The merged, validated Config, or an error
func Load(path string) (Config, error) {
	v := viper.New()

	setDefaults(v, Default())

	v.SetEnvPrefix("echoserver")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("echoserver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read %q: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.endpoint", d.Server.Endpoint)
	v.SetDefault("server.listen_backlog", d.Server.ListenBacklog)
	v.SetDefault("server.max_session_count", d.Server.MaxSessionCount)
	v.SetDefault("server.recycled_session_count", d.Server.RecycledSessionCount)
	v.SetDefault("server.max_stopping_sessions", d.Server.MaxStoppingSessions)
	v.SetDefault("server.worker_count", d.Server.WorkerCount)
	v.SetDefault("server.stop_timeout", d.Server.StopTimeout)

	v.SetDefault("session.buffer_size", d.Session.BufferSize)
	v.SetDefault("session.no_delay", d.Session.NoDelay)
	v.SetDefault("session.inactivity_timeout", d.Session.InactivityTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("stats.enabled", d.Stats.Enabled)
	v.SetDefault("stats.backend", d.Stats.Backend)
	v.SetDefault("stats.key", d.Stats.Key)
	v.SetDefault("stats.interval", d.Stats.Interval)
	v.SetDefault("stats.ttl", d.Stats.TTL)
	v.SetDefault("stats.redis_addr", d.Stats.RedisAddr)
	v.SetDefault("stats.redis_password", d.Stats.RedisPassword)
	v.SetDefault("stats.redis_db", d.Stats.RedisDB)

	v.SetDefault("alerting.discord_webhook", d.Alerting.DiscordWebhook)
}

// Validate checks the configuration for values the server cannot run with.
//
// Returns:
//   - An error naming the first invalid setting, or nil
func (c Config) Validate() error {
	if c.Server.Endpoint == "" {
		return fmt.Errorf("config: server.endpoint must not be empty")
	}
	if c.Server.MaxSessionCount < 0 {
		return fmt.Errorf("config: server.max_session_count must not be negative")
	}
	if c.Server.RecycledSessionCount < 0 {
		return fmt.Errorf("config: server.recycled_session_count must not be negative")
	}
	if c.Server.MaxStoppingSessions < 1 {
		return fmt.Errorf("config: server.max_stopping_sessions must be at least 1")
	}
	if c.Server.WorkerCount < 1 {
		return fmt.Errorf("config: server.worker_count must be at least 1")
	}
	if c.Session.BufferSize < 1 {
		return fmt.Errorf("config: session.buffer_size must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Stats.Enabled {
		switch c.Stats.Backend {
		case "memory":
		case "redis":
			if c.Stats.RedisAddr == "" {
				return fmt.Errorf("config: stats.redis_addr must be set for the redis backend")
			}
		default:
			return fmt.Errorf("config: stats.backend %q is not one of memory, redis", c.Stats.Backend)
		}
		if c.Stats.Interval <= 0 {
			return fmt.Errorf("config: stats.interval must be positive")
		}
	}

	return nil
}
