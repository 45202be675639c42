// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/events"
	"github.com/toolink/admit/limiter"
)

// Storage types
const (
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Store timeout bounds
const (
	MinStoreTimeout = time.Millisecond
	MaxStoreTimeout = 30 * time.Second
)

// Config holds everything admitd needs at startup.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Events      EventsConfig
	Log         LogConfig
	PresetsFile string // optional YAML overrides
}

// ServerConfig holds the listener addresses and how callers are identified.
type ServerConfig struct {
	HTTPAddr    string
	MetricsAddr string

	// TrustProxyHeaders keys callers on AddressHeader and AccountHeader, as
	// set by the reverse proxy that sends forward-auth checks.
	TrustProxyHeaders bool
	AddressHeader     string
	AccountHeader     string
}

// StorageConfig selects the counter store and how it is called.
type StorageConfig struct {
	Type      string
	KeyPrefix string
	Timeout   time.Duration
	Retries   int
	Redis     RedisConfig
}

// RedisConfig is the Redis connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// EventsConfig sizes the Redis event list.
type EventsConfig struct {
	ListKey string
	MaxLen  int64
}

// LogConfig sets the global logger.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// Load reads an optional .env file and the environment, then validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	var (
		cfg Config
		err error
	)
	cfg.Server = ServerConfig{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		AddressHeader: getEnv("ADDRESS_HEADER", "X-Forwarded-For"),
		AccountHeader: getEnv("ACCOUNT_HEADER", "X-Forwarded-User"),
	}
	if cfg.Server.TrustProxyHeaders, err = getBool("TRUST_PROXY_HEADERS", true); err != nil {
		return Config{}, err
	}

	cfg.Storage = StorageConfig{
		Type:      strings.ToLower(getEnv("STORAGE_TYPE", StorageRedis)),
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", limiter.DefaultKeyPrefix),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}
	if cfg.Storage.Timeout, err = getDuration("STORE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Storage.Retries, err = getInt("STORE_RETRIES", 0); err != nil {
		return Config{}, err
	}
	if cfg.Storage.Redis.Port, err = getInt("REDIS_PORT", 6379); err != nil {
		return Config{}, err
	}
	if cfg.Storage.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	cfg.Events.ListKey = getEnv("EVENTS_LIST_KEY", events.DefaultListKey)
	maxLen, err := getInt("EVENTS_MAX_LEN", events.DefaultMaxLen)
	if err != nil {
		return Config{}, err
	}
	cfg.Events.MaxLen = int64(maxLen)

	cfg.Log = LogConfig{
		Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}
	cfg.PresetsFile = getEnv("PRESETS_FILE", "")

	if err := cfg.ValidateAndPrepare(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateAndPrepare checks values that parsed but make no sense.
func (c *Config) ValidateAndPrepare() error {
	if c.Storage.Type != StorageRedis && c.Storage.Type != StorageMemory {
		return fmt.Errorf("invalid STORAGE_TYPE: %s, must be '%s' or '%s'", c.Storage.Type, StorageRedis, StorageMemory)
	}
	if c.Storage.Type == StorageMemory {
		log.Warn().Msg("memory storage keeps counters per process, do not run more than one instance")
	}
	if c.Storage.Timeout < MinStoreTimeout || c.Storage.Timeout > MaxStoreTimeout {
		return fmt.Errorf("invalid STORE_TIMEOUT: %s, must be between %s and %s", c.Storage.Timeout, MinStoreTimeout, MaxStoreTimeout)
	}
	if c.Storage.Retries < 0 {
		return fmt.Errorf("invalid STORE_RETRIES: %d, must not be negative", c.Storage.Retries)
	}
	if strings.ContainsAny(c.Storage.KeyPrefix, "*?[]{} ") || c.Storage.KeyPrefix == "" {
		return fmt.Errorf("invalid REDIS_KEY_PREFIX: %q, must be non-empty without glob characters or braces", c.Storage.KeyPrefix)
	}
	if c.Storage.Redis.Port <= 0 || c.Storage.Redis.Port > 65535 {
		return fmt.Errorf("invalid REDIS_PORT: %d", c.Storage.Redis.Port)
	}
	if c.Storage.Redis.DB < 0 {
		return fmt.Errorf("invalid REDIS_DB: %d", c.Storage.Redis.DB)
	}
	if c.Events.MaxLen <= 0 {
		return fmt.Errorf("invalid EVENTS_MAX_LEN: %d, must be positive", c.Events.MaxLen)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid LOG_FORMAT: %s, must be 'json' or 'console'", c.Log.Format)
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
