package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Backend endpoints
	APIURL string `env:"API_URL" default:"http://localhost:8080"`
	WSURL  string `env:"WS_URL" default:"ws://localhost:8080/ws"`

	// Timeouts
	RESTTimeout    time.Duration `env:"REST_TIMEOUT" default:"5s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" default:"10s"`

	// Chat behaviour
	PageSize             int           `env:"PAGE_SIZE" default:"50"`
	TypingTimeout        time.Duration `env:"TYPING_TIMEOUT" default:"3s"`
	PresenceTTL          time.Duration `env:"PRESENCE_TTL" default:"5s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" default:"5"`

	// REST rate limiting
	RESTRateLimit float64 `env:"REST_RATE_LIMIT" default:"10"`
	RESTRateBurst int     `env:"REST_RATE_BURST" default:"20"`

	// Development
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Development backend
	DevServerPort int           `env:"DEV_SERVER_PORT" default:"8080"`
	JWTSecret     string        `env:"JWT_SECRET"`
	JWTExpiry     time.Duration `env:"JWT_EXPIRY" default:"24h"`
	DatabaseURL   string        `env:"DATABASE_URL"`
}

// LoadConfig loads configuration from environment variables, reading a
// .env file first when one exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		// a malformed .env is worth knowing about; a missing one is not
		slog.Warn("config_dotenv_unreadable", "error", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Endpoints
	if err := loadEnvString(&config.APIURL, "API_URL", "http://localhost:8080"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.WSURL, "WS_URL", "ws://localhost:8080/ws"); err != nil {
		return nil, err
	}

	// Timeouts
	if err := loadEnvDuration(&config.RESTTimeout, "REST_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ConnectTimeout, "CONNECT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Chat
	if err := loadEnvInt(&config.PageSize, "PAGE_SIZE", 50); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TypingTimeout, "TYPING_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PresenceTTL, "PRESENCE_TTL", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxReconnectAttempts, "MAX_RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}

	// Rate limiting
	if err := loadEnvFloat(&config.RESTRateLimit, "REST_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RESTRateBurst, "REST_RATE_BURST", 20); err != nil {
		return nil, err
	}

	// Development
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}

	// Development backend
	if err := loadEnvInt(&config.DevServerPort, "DEV_SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.JWTSecret, "JWT_SECRET", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.JWTExpiry, "JWT_EXPIRY", 24*time.Hour); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		errors = append(errors, "API_URL must start with http:// or https://")
	}
	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		errors = append(errors, "WS_URL must start with ws:// or wss://")
	}

	if c.RESTTimeout <= 0 {
		errors = append(errors, "REST_TIMEOUT must be positive")
	}
	if c.ConnectTimeout <= 0 {
		errors = append(errors, "CONNECT_TIMEOUT must be positive")
	}
	if c.PageSize < 1 || c.PageSize > 200 {
		errors = append(errors, "PAGE_SIZE must be between 1 and 200")
	}
	if c.TypingTimeout <= 0 {
		errors = append(errors, "TYPING_TIMEOUT must be positive")
	}
	if c.MaxReconnectAttempts < 1 {
		errors = append(errors, "MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.RESTRateLimit <= 0 || c.RESTRateBurst < 1 {
		errors = append(errors, "REST_RATE_LIMIT and REST_RATE_BURST must be positive")
	}
	if c.DevServerPort < 1 || c.DevServerPort > 65535 {
		errors = append(errors, "DEV_SERVER_PORT must be between 1 and 65535")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// ValidateServer adds the checks only the development backend needs
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	// Validate JWT secret length (should be at least 32 characters for security)
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("configuration validation failed: JWT_SECRET should be at least 32 characters long")
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
