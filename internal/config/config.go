package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Service ServiceConfig
	NATS    NATSConfig
	Redis   RedisConfig
	Cache   CacheConfig
	Tracker TrackerConfig
	Auth    AuthConfig
	Logging LoggingConfig
}

// ServiceConfig holds service-level configuration
type ServiceConfig struct {
	Name    string
	Version string
	Port    int
}

// NATSConfig holds NATS configuration for the push channel and the KV
// durable tier
type NATSConfig struct {
	Embedded      bool
	ServerURL     string
	DataDir       string
	KVBucket      string
	SubjectPrefix string
}

// RedisConfig holds configuration for the Redis durable tier
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	DurableBackend string // "natskv" or "redis"
	MaxCost        int64  // Ristretto: Maximum memory cost in bytes
	NumCounters    int64  // Ristretto: Number of counters for TinyLFU
	BufferItems    int64  // Ristretto: Buffer size for async operations
	Metrics        bool   // Ristretto: Enable cache metrics
	KeyPrefix      string // Durable-tier namespace prefix
}

// TrackerConfig holds the presence tracker's timing policy
type TrackerConfig struct {
	RosterTTL         string
	InactivityTimeout string
	ThrottleInterval  string
	EmitDelay         string
	BatchInterval     string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	Token     string // Session token of the local user, opaque
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Service: ServiceConfig{
			Name:    getEnvOrDefault("SERVICE_NAME", "presence-sync"),
			Version: getEnvOrDefault("SERVICE_VERSION", "v1"),
			Port:    getEnvIntOrDefault("SERVICE_PORT", 8080),
		},
		NATS: NATSConfig{
			Embedded:      getEnvBoolOrDefault("NATS_EMBEDDED", true),
			ServerURL:     getEnvOrDefault("NATS_SERVER_URL", ""),
			DataDir:       getEnvOrDefault("NATS_DATA_DIR", "./nats-data"),
			KVBucket:      getEnvOrDefault("NATS_KV_BUCKET", "presence-cache"),
			SubjectPrefix: getEnvOrDefault("NATS_SUBJECT_PREFIX", "presence"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			DurableBackend: getEnvOrDefault("CACHE_DURABLE_BACKEND", "natskv"),
			MaxCost:        getEnvInt64OrDefault("CACHE_MAX_COST", 1000000), // 1MB default
			NumCounters:    getEnvInt64OrDefault("CACHE_NUM_COUNTERS", 100000),
			BufferItems:    getEnvInt64OrDefault("CACHE_BUFFER_ITEMS", 64),
			Metrics:        getEnvBoolOrDefault("CACHE_METRICS", true),
			KeyPrefix:      getEnvOrDefault("CACHE_KEY_PREFIX", "presence."),
		},
		Tracker: TrackerConfig{
			RosterTTL:         getEnvOrDefault("TRACKER_ROSTER_TTL", "30s"),
			InactivityTimeout: getEnvOrDefault("TRACKER_INACTIVITY_TIMEOUT", "5m"),
			ThrottleInterval:  getEnvOrDefault("TRACKER_THROTTLE_INTERVAL", "3s"),
			EmitDelay:         getEnvOrDefault("TRACKER_EMIT_DELAY", "3s"),
			BatchInterval:     getEnvOrDefault("TRACKER_BATCH_INTERVAL", "3s"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvOrDefault("JWT_SECRET", ""),
			JWTIssuer: getEnvOrDefault("JWT_ISSUER", "presence-sync"),
			Token:     getEnvOrDefault("SESSION_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	// Validate required fields
	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if config.Cache.DurableBackend != "natskv" && config.Cache.DurableBackend != "redis" {
		return nil, fmt.Errorf("CACHE_DURABLE_BACKEND must be \"natskv\" or \"redis\"")
	}

	return config, nil
}

// GetRosterTTL returns the roster cache TTL as duration
func (c *TrackerConfig) GetRosterTTL() (time.Duration, error) {
	return time.ParseDuration(c.RosterTTL)
}

// GetInactivityTimeout returns the inactivity timeout as duration
func (c *TrackerConfig) GetInactivityTimeout() (time.Duration, error) {
	return time.ParseDuration(c.InactivityTimeout)
}

// GetThrottleInterval returns the input throttle window as duration
func (c *TrackerConfig) GetThrottleInterval() (time.Duration, error) {
	return time.ParseDuration(c.ThrottleInterval)
}

// GetEmitDelay returns the outbound emit defer as duration
func (c *TrackerConfig) GetEmitDelay() (time.Duration, error) {
	return time.ParseDuration(c.EmitDelay)
}

// GetBatchInterval returns the batch flush window as duration
func (c *TrackerConfig) GetBatchInterval() (time.Duration, error) {
	return time.ParseDuration(c.BatchInterval)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
