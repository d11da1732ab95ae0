// Package config loads settings from an optional config.yaml and
// EVENTSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Notification transports a client can follow.
const (
	NotifyWebSocket = "websocket"
	NotifyRedis     = "redis"
)

// Config holds every setting of the server and the CLI.
type Config struct {
	Server struct {
		// Addr is the listen address of the authority.
		Addr string
		// URL is where clients reach the authority.
		URL string
	}

	// DBPath is the authority's record store.
	DBPath string

	// JournalPath is the client's local sync journal.
	JournalPath string

	// RedisAddr enables Redis presence and pub/sub when set.
	RedisAddr string

	// NotifyMode is NotifyWebSocket or NotifyRedis.
	NotifyMode string

	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}

	// User and Token identify the CLI's acting user.
	User  string
	Token string

	LogLevel string

	PresenceTTL   time.Duration
	SubmitTimeout time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("db.path", "./data/eventsync.db")
	v.SetDefault("journal.path", "./data/journal.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("notify.mode", NotifyWebSocket)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("user.id", "")
	v.SetDefault("user.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("presence.ttl", 10*time.Minute)
	v.SetDefault("submit.timeout", 30*time.Second)
}

// Load reads config.yaml from dir when present. Environment variables
// override the file, e.g. EVENTSYNC_REDIS_ADDR for redis.addr.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("EVENTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("No config.yaml found, using defaults and env vars", "dir", dir)
	} else {
		slog.Debug("Loaded config", "file", v.ConfigFileUsed())
	}

	cfg := &Config{
		DBPath:        v.GetString("db.path"),
		JournalPath:   v.GetString("journal.path"),
		RedisAddr:     v.GetString("redis.addr"),
		NotifyMode:    strings.ToLower(v.GetString("notify.mode")),
		User:          v.GetString("user.id"),
		Token:         v.GetString("user.token"),
		LogLevel:      v.GetString("log.level"),
		PresenceTTL:   v.GetDuration("presence.ttl"),
		SubmitTimeout: v.GetDuration("submit.timeout"),
	}
	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.URL = v.GetString("server.url")
	cfg.Auth.Secret = v.GetString("auth.secret")
	cfg.Auth.TokenTTL = v.GetDuration("auth.token_ttl")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.NotifyMode {
	case NotifyWebSocket:
	case NotifyRedis:
		if c.RedisAddr == "" {
			return errors.New("notify.mode redis requires redis.addr")
		}
	default:
		return fmt.Errorf("invalid notify.mode %q: must be %s or %s", c.NotifyMode, NotifyWebSocket, NotifyRedis)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("invalid auth.token_ttl %s", c.Auth.TokenTTL)
	}
	return nil
}

// FeedURL is the websocket endpoint of the authority at Server.URL.
func (c *Config) FeedURL() string {
	u := strings.TrimRight(c.Server.URL, "/") + "/ws"
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}
	return u
}
