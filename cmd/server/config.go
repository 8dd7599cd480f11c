package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/kargolabs/auction-telemetry/internal/analytics"
	"github.com/kargolabs/auction-telemetry/internal/config"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port string

	// Analytics
	OwnBidder     string
	AnalyticsURL  string
	Sampling      int
	SendWinEvents bool
	SendDelay     time.Duration
	GracePeriod   time.Duration

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	// Parse flags with environment variable fallbacks
	port := flag.String("port", getEnvOrDefault("TELEMETRY_PORT", "8080"), "Server port")
	ownBidder := flag.String("own-bidder", getEnvOrDefault("OWN_BIDDER", "kargo"), "Bidder code tracked in the dedicated payload block")
	analyticsURL := flag.String("analytics-url", os.Getenv("ANALYTICS_URL"), "Downstream analytics endpoint base URL")
	sampling := flag.Int("sampling", getEnvIntOrDefault("SAMPLING_PERCENTAGE", config.DefaultSampling), "Percentage of sessions delivered, 0 to 100")
	winEvents := flag.Bool("win-events", getEnvBoolOrDefault("SEND_WIN_EVENTS", true), "Send immediate per-slot win payloads")
	sendDelay := flag.Duration("send-delay", config.DefaultSendDelay, "Debounce between auction end and the auction report")
	flag.Parse()

	cfg := &ServerConfig{
		Port:          *port,
		OwnBidder:     *ownBidder,
		AnalyticsURL:  *analyticsURL,
		Sampling:      *sampling,
		SendWinEvents: *winEvents,
		SendDelay:     *sendDelay,
		GracePeriod:   config.DefaultGracePeriod,
		RedisURL:      os.Getenv("REDIS_URL"),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "telemetry"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "telemetry"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg
}

// ToAnalyticsConfig converts ServerConfig to analytics.Config
func (c *ServerConfig) ToAnalyticsConfig() analytics.Config {
	return analytics.Config{
		OwnBidder:     c.OwnBidder,
		BaseURL:       c.AnalyticsURL,
		Sampling:      c.Sampling,
		SendWinEvents: c.SendWinEvents,
		SendDelay:     c.SendDelay,
		GracePeriod:   c.GracePeriod,
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvIntOrDefault returns the environment variable as int or a default
func getEnvIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
