// Package config loads runtime configuration from the environment, with an
// optional .env file layered in front via godotenv for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the finder needs at startup.
type Config struct {
	// DNS-SD discovery.
	DiscoveryServiceType string

	// Status ingestion.
	QueueCapacity int
	StartPassive  bool

	// Archive registry.
	ArchiveWatchDir string

	// Azure Blob mirror (disabled when AzureAccountURL is empty).
	AzureAccountURL string
	AzureContainer  string

	// HTTP API (disabled when HTTPAddr is empty).
	HTTPAddr string

	// Admin auth for the HTTP API's mutation endpoints.
	AdminUsername      string
	AdminPassword      string
	TokenSecret        string
	TokenTTL           time.Duration
	MaxLoginAttempts   int
	LoginWindowSeconds int

	// Client pool.
	DialTimeout time.Duration
	RetryEvery  time.Duration
}

// Load reads configuration from the environment, loading a .env file first
// if one is present in the working directory. Missing .env is not an
// error — it's the normal case in production.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// Not fatal: fall through to the process environment as-is.
	}

	return &Config{
		DiscoveryServiceType: getEnv("DISCOVERY_SERVICE_TYPE", "_djlink-db._tcp"),

		QueueCapacity: getEnvAsInt("QUEUE_CAPACITY", 100),
		StartPassive:  getEnvAsBool("START_PASSIVE", false),

		ArchiveWatchDir: getEnv("ARCHIVE_WATCH_DIR", "./archives"),

		AzureAccountURL: getEnv("AZURE_ACCOUNT_URL", ""),
		AzureContainer:  getEnv("AZURE_CONTAINER", "djlink-archives"),

		HTTPAddr: getEnv("HTTP_ADDR", ""),

		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
		TokenSecret:        getEnv("TOKEN_SECRET", "change-me-in-production-please"),
		TokenTTL:           getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		MaxLoginAttempts:   getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
		LoginWindowSeconds: getEnvAsInt("LOGIN_WINDOW_SECONDS", 900),

		DialTimeout: getEnvAsDuration("DIAL_TIMEOUT", 5*time.Second),
		RetryEvery:  getEnvAsDuration("RETRY_EVERY", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}
