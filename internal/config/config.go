package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Redis
	Redis RedisConfig

	// Services
	Gateway GatewayConfig
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// GatewayConfig holds realtime gateway configuration
type GatewayConfig struct {
	Port            int
	HealthCheckPort int

	// Transport keepalive. A connection that misses pongs for PingTimeout
	// is forced down the disconnect path.
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration

	// Empty rooms are swept at this interval. Liveness only; join
	// recreates rooms lazily.
	RoomSweepInterval time.Duration

	// MaxConnections is a hard process-wide cap. MaxConnectionsPerUser is
	// soft: exceeding it is logged, not rejected.
	MaxConnections        int
	MaxConnectionsPerUser int

	JWTSecret string

	// Redis stream carrying REST-originated domain events.
	EventStream   string
	ConsumerGroup string
	ConsumerName  string
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory or parent directories
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Gateway: GatewayConfig{
			Port:                  getEnvAsInt("GATEWAY_PORT", 8080),
			HealthCheckPort:       getEnvAsInt("GATEWAY_HEALTH_PORT", 8081),
			PingInterval:          getEnvAsDuration("GATEWAY_PING_INTERVAL", 25*time.Second),
			PingTimeout:           getEnvAsDuration("GATEWAY_PING_TIMEOUT", 60*time.Second),
			WriteTimeout:          getEnvAsDuration("GATEWAY_WRITE_TIMEOUT", 10*time.Second),
			RoomSweepInterval:     getEnvAsDuration("GATEWAY_ROOM_SWEEP_INTERVAL", 60*time.Second),
			MaxConnections:        getEnvAsInt("GATEWAY_MAX_CONNECTIONS", 10000),
			MaxConnectionsPerUser: getEnvAsInt("GATEWAY_MAX_CONNECTIONS_PER_USER", 0),
			JWTSecret:             getEnv("GATEWAY_JWT_SECRET", ""),
			EventStream:           getEnv("GATEWAY_EVENT_STREAM", "realtime.events"),
			ConsumerGroup:         getEnv("GATEWAY_CONSUMER_GROUP", "realtime-gateway"),
			ConsumerName:          getEnv("GATEWAY_CONSUMER_NAME", "gateway-1"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Gateway.PingInterval <= 0 {
		return fmt.Errorf("GATEWAY_PING_INTERVAL must be positive")
	}
	if c.Gateway.PingTimeout <= c.Gateway.PingInterval {
		return fmt.Errorf("GATEWAY_PING_TIMEOUT must be greater than GATEWAY_PING_INTERVAL")
	}
	if c.Gateway.RoomSweepInterval <= 0 {
		return fmt.Errorf("GATEWAY_ROOM_SWEEP_INTERVAL must be positive")
	}
	if c.Gateway.EventStream == "" {
		return fmt.Errorf("GATEWAY_EVENT_STREAM is required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
