package config

import (
	"time"

	"github.com/gunko23/film-collective-sub003/internal/realtime/redis"
)

// AuthConfig holds token validation settings.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DBPath            string        `mapstructure:"db_path" yaml:"db_path"`
	// PlatformURL is the internal base URL of the main backend; empty means
	// dev mode with membership checks disabled.
	PlatformURL string `mapstructure:"platform_url" yaml:"platform_url"`
	// HubBuffer is the per-subscriber fan-out queue depth.
	HubBuffer int            `mapstructure:"hub_buffer" yaml:"hub_buffer"`
	Redis     redis.Settings `mapstructure:"redis" yaml:"redis"`
	Auth      AuthConfig     `mapstructure:"auth" yaml:"auth"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DBPath:            "chat.db",
		HubBuffer:         64,
		Redis: redis.Settings{
			// Empty addr means the in-memory buffer backend.
			Addr:    "",
			Timeout: 3 * time.Second,
		},
		Auth: AuthConfig{
			Issuer: "film-collective",
			TTL:    24 * time.Hour,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DBPath != "" {
		c.DBPath = other.DBPath
	}
	if other.PlatformURL != "" {
		c.PlatformURL = other.PlatformURL
	}
	if other.HubBuffer != 0 {
		c.HubBuffer = other.HubBuffer
	}
	if other.Redis.Addr != "" {
		c.Redis = other.Redis
	}
	if other.Auth.Secret != "" {
		c.Auth = other.Auth
	}
}
