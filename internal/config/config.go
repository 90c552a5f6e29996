package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Redis configuration (optional submit guard)
	Redis RedisConfig

	// Kafka configuration (optional lifecycle events)
	Kafka KafkaConfig

	// Expiry sweeper configuration
	Sweeper SweeperConfig

	// Booking request limits
	Booking BookingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// RedisConfig holds Redis connection settings. An empty Addr disables the guard.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	GuardTTL time.Duration
}

// KafkaConfig holds Kafka producer settings. No brokers means events are dropped.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// SweeperConfig holds expiry sweeper settings
type SweeperConfig struct {
	Enabled          bool
	Schedule         string // cron spec with seconds
	RequestRetention time.Duration
	BatchSize        int
}

// BookingConfig holds payload bounds for booking requests
type BookingConfig struct {
	MessageMaxLength  int
	MaxTicketQuantity int
	MaxSeatQuantity   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
			Issuer:            getEnv("JWT_ISSUER", "campusmart"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			GuardTTL: time.Duration(getEnvAsInt("REDIS_GUARD_TTL_SECONDS", 10)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_BOOKING_TOPIC", "booking-lifecycle"),
			BatchTimeout: time.Duration(getEnvAsInt("KAFKA_BATCH_TIMEOUT_MS", 50)) * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Enabled:          getEnvAsBool("SWEEPER_ENABLED", true),
			Schedule:         getEnv("SWEEPER_SCHEDULE", "0 0 * * * *"), // top of every hour
			RequestRetention: time.Duration(getEnvAsInt("SWEEPER_REQUEST_RETENTION_HOURS", 24)) * time.Hour,
			BatchSize:        getEnvAsInt("SWEEPER_BATCH_SIZE", 100),
		},
		Booking: BookingConfig{
			MessageMaxLength:  getEnvAsInt("BOOKING_MESSAGE_MAX_LENGTH", 1000),
			MaxTicketQuantity: getEnvAsInt("BOOKING_MAX_TICKET_QUANTITY", 20),
			MaxSeatQuantity:   getEnvAsInt("BOOKING_MAX_SEAT_QUANTITY", 8),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	if c.Sweeper.RequestRetention <= 0 {
		return fmt.Errorf("SWEEPER_REQUEST_RETENTION_HOURS must be positive")
	}

	if c.Sweeper.BatchSize <= 0 {
		return fmt.Errorf("SWEEPER_BATCH_SIZE must be positive")
	}

	if c.Booking.MessageMaxLength <= 0 || c.Booking.MaxTicketQuantity <= 0 || c.Booking.MaxSeatQuantity <= 0 {
		return fmt.Errorf("booking limits must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
