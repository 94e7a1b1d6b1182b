// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"area-engine/internal/credentials"
	"area-engine/internal/ratelimit"
)

// Config holds everything the engine needs at startup.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseType selects the store backend: "memory" or "sqlite".
	DatabaseType string
	DatabasePath string

	// RedisAddress enables the credential cache when non-empty.
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// SchedulerCadence is the polling interval between cycles.
	SchedulerCadence time.Duration
	SchedulerWorkers int
	// DrainGrace bounds how long Stop waits for in-flight evaluations.
	DrainGrace time.Duration
	// RefreshFailureLimit disables a rule after this many consecutive
	// refresh_failed evaluations.
	RefreshFailureLimit int

	ProviderTimeout time.Duration

	// ProviderAuth holds per-provider OAuth client configuration,
	// loaded from <PROVIDER>_CLIENT_ID / _CLIENT_SECRET / _TOKEN_URL.
	ProviderAuth map[string]credentials.ProviderAuth

	// RateBudgets holds per-provider call budgets, loaded from
	// <PROVIDER>_RATE_LIMIT (requests per second) and _RATE_BURST.
	RateBudgets map[string]ratelimit.Budget
}

// oauthProviders are the providers with a refreshable OAuth credential.
var oauthProviders = []string{"github", "discord"}

// rateProviders are the providers with a configurable call budget.
var rateProviders = []string{"github", "discord", "weather"}

// Load reads the configuration from the environment, applying defaults
// for everything optional.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseType:        getEnv("DATABASE_TYPE", "memory"),
		DatabasePath:        getEnv("DATABASE_PATH", "area.db"),
		RedisAddress:        os.Getenv("REDIS_ADDRESS"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		SchedulerCadence:    getDuration("SCHEDULER_CADENCE", 30*time.Second),
		SchedulerWorkers:    getInt("SCHEDULER_WORKERS", 8),
		DrainGrace:          getDuration("DRAIN_GRACE", 10*time.Second),
		RefreshFailureLimit: getInt("REFRESH_FAILURE_LIMIT", 3),
		ProviderTimeout:     getDuration("PROVIDER_TIMEOUT", 15*time.Second),
		ProviderAuth:        map[string]credentials.ProviderAuth{},
		RateBudgets:         map[string]ratelimit.Budget{},
	}
	cfg.RedisDB = getInt("REDIS_DB", 0)

	for _, provider := range oauthProviders {
		prefix := strings.ToUpper(provider)
		auth := credentials.ProviderAuth{
			ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
			TokenURL:     os.Getenv(prefix + "_TOKEN_URL"),
		}
		if auth.TokenURL != "" {
			cfg.ProviderAuth[provider] = auth
		}
	}

	for _, provider := range rateProviders {
		prefix := strings.ToUpper(provider)
		if rps := getFloat(prefix+"_RATE_LIMIT", 0); rps > 0 {
			cfg.RateBudgets[provider] = ratelimit.Budget{
				RequestsPerSecond: rps,
				Burst:             getInt(prefix+"_RATE_BURST", int(rps)+1),
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.DatabaseType != "memory" && c.DatabaseType != "sqlite" {
		return fmt.Errorf("invalid DATABASE_TYPE %q, expected memory or sqlite", c.DatabaseType)
	}
	if c.DatabaseType == "sqlite" && c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required for the sqlite store")
	}
	if c.SchedulerCadence < time.Second {
		return fmt.Errorf("SCHEDULER_CADENCE %s is below the 1s minimum", c.SchedulerCadence)
	}
	if c.SchedulerWorkers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	if c.RefreshFailureLimit < 1 {
		return fmt.Errorf("REFRESH_FAILURE_LIMIT must be at least 1")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.DrainGrace < 0 {
		return fmt.Errorf("DRAIN_GRACE must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
