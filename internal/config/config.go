// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the ledger database (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	// MaintenanceSpec is the cron spec for WAL checkpointing.
	MaintenanceSpec string

	// AllowOvercommit controls the allocation ceiling for new pools.
	// When true (historical behavior) allocations are checked against
	// totalCapital; when false, against availableCapital.
	AllowOvercommit bool

	// DefaultAllocation, when set, is the amount the partial-sale workflow
	// allocates for a position that has no distribution yet. Disabled when
	// nil; every use is logged as a policy decision.
	DefaultAllocation *decimal.Decimal
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LEDGER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("GO_PORT", 8002),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MaintenanceSpec: getEnv("DB_MAINTENANCE_SPEC", "@every 6h"),
		AllowOvercommit: getEnvAsBool("ALLOW_OVERCOMMIT", true),
	}

	// Optional default allocation for the partial-sale fallback.
	// Deliberately opt-in: inventing exposure silently is a known smell.
	if raw := os.Getenv("DEFAULT_ALLOCATION"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_ALLOCATION %q: %w", raw, err)
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("DEFAULT_ALLOCATION must be positive, got %s", amount)
		}
		cfg.DefaultAllocation = &amount
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
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
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
