package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crm-finance/internal/logger"

	"github.com/shopspring/decimal"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DatabaseURL    string
	ServerPort     string
	AllowedOrigins string
	JWTSecret      string

	// Seller identity printed on invoices. SellerState decides intra-state GST.
	SellerName    string
	SellerGSTIN   string
	SellerAddress string
	SellerState   string

	SettlementTolerance decimal.Decimal

	// Reference FX rates. An empty RedisAddr disables the cache.
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RateRefreshInterval time.Duration

	// RateLimit uses the ulule/limiter format, e.g. "100-M".
	RateLimit string

	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads the configuration. Callers load .env first.
func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		SellerName:     getEnv("SELLER_NAME", ""),
		SellerGSTIN:    getEnv("SELLER_GSTIN", ""),
		SellerAddress:  getEnv("SELLER_ADDRESS", ""),
		SellerState:    getEnv("SELLER_STATE", "Haryana"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RateLimit:      getEnv("RATE_LIMIT", "100-M"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:  getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:      getEnv("LOG_OUTPUT", "stdout"),
	}

	var err error
	if c.SettlementTolerance, err = decimal.NewFromString(getEnv("SETTLEMENT_TOLERANCE", "1.00")); err != nil {
		return nil, fmt.Errorf("SETTLEMENT_TOLERANCE: %w", err)
	}
	if c.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	if c.RateRefreshInterval, err = time.ParseDuration(getEnv("RATE_REFRESH_INTERVAL", "15m")); err != nil {
		return nil, fmt.Errorf("RATE_REFRESH_INTERVAL: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.SellerState) == "" {
		return fmt.Errorf("SELLER_STATE is required")
	}
	if c.SettlementTolerance.IsNegative() {
		return fmt.Errorf("SETTLEMENT_TOLERANCE must not be negative")
	}
	if c.RateRefreshInterval <= 0 {
		return fmt.Errorf("RATE_REFRESH_INTERVAL must be positive")
	}
	return nil
}

// GetLoggerConfig returns the logger configuration.
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
