// Package server provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the relay service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/bridge"
	"github.com/Tyrowin/roomrelay/internal/broker"
	"github.com/Tyrowin/roomrelay/internal/registry"
)

// RateLimitConfig defines the parameters for per-connection command rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// BrokerConfig selects the external broadcast medium.
type BrokerConfig struct {
	Kind     broker.Kind
	RedisURL string
	NATSURL  string
}

// URL returns the connection URL for the configured broker kind.
func (b BrokerConfig) URL() string {
	switch b.Kind {
	case broker.KindRedis:
		return b.RedisURL
	case broker.KindNATS:
		return b.NATSURL
	default:
		return ""
	}
}

// AuthConfig configures token verification and the optional user directory.
type AuthConfig struct {
	Secret string
	Issuer string
	// Users, when non-empty, restricts connections to known subjects.
	Users []auth.User
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	MailboxSize     int
	RelayBuffer     int
	ShutdownTimeout time.Duration
	Broker          BrokerConfig
	Auth            AuthConfig
	Log             LogConfig
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 10
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultRedisURL        = "redis://localhost:6379/0"
	defaultNATSURL         = "nats://127.0.0.1:4222"
	defaultIssuer          = "roomrelay"
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		MailboxSize:     registry.DefaultMailboxSize,
		RelayBuffer:     bridge.DefaultBuffer,
		ShutdownTimeout: defaultShutdownTimeout,
		Broker: BrokerConfig{
			Kind:     broker.KindMemory,
			RedisURL: defaultRedisURL,
			NATSURL:  defaultNATSURL,
		},
		Auth: AuthConfig{
			Issuer: defaultIssuer,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if size := os.Getenv("MAILBOX_SIZE"); size != "" {
		cfg.MailboxSize = parseIntValue(size, cfg.MailboxSize)
	}

	if size := os.Getenv("RELAY_BUFFER"); size != "" {
		cfg.RelayBuffer = parseIntValue(size, cfg.RelayBuffer)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if kind := os.Getenv("BROKER"); kind != "" {
		if parsed, err := broker.ParseKind(kind); err == nil {
			cfg.Broker.Kind = parsed
		}
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Broker.RedisURL = url
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.Broker.NATSURL = url
	}

	cfg.Auth.Secret = os.Getenv("JWT_SECRET")

	if issuer := os.Getenv("TOKEN_ISSUER"); issuer != "" {
		cfg.Auth.Issuer = issuer
	}

	if users := os.Getenv("AUTH_USERS"); users != "" {
		cfg.Auth.Users = auth.ParseUsers(users)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	return &cfg
}

// sanitize replaces invalid values with defaults.
func (c Config) sanitize() Config {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.RelayBuffer <= 0 {
		c.RelayBuffer = def.RelayBuffer
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Broker.Kind == "" {
		c.Broker.Kind = def.Broker.Kind
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	c.Auth.Users = append([]auth.User(nil), c.Auth.Users...)
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
