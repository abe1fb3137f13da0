// Package config provides configuration loading and management for the application.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Base URLs for the data providers
	DefiLlamaURL string
	VaultsFyiURL string

	// Per-chain RPC endpoints, keyed by canonical chain name
	RPCEndpoints map[string]string

	// Redis address for the result cache; empty selects the in-memory cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Postgres DSN for record persistence; empty disables the store
	DatabaseURL    string
	MigrationsPath string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// API keys for providers that require them
	APIKeys map[string]string

	// Pipeline settings
	RequestTimeout time.Duration
	RPCTimeout     time.Duration

	// Validation candidate selection
	ValidationTVLFloor int64
	ValidationMaxCands int
	ValidationBatch    int
	BatchDelay         time.Duration

	// Circuit breaker thresholds
	MaxAPY            float64
	MaxTVLChange      float64
	MinSourceCount    int
	CircuitResetDelay time.Duration
}

// Load creates a new Config from environment variables. A .env file in
// the working directory is honored when present.
func Load() Config {
	_ = godotenv.Load()

	apiKeys := map[string]string{}
	if raw := os.Getenv("API_KEYS"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &apiKeys)
	}

	rpcEndpoints := map[string]string{}
	if raw := os.Getenv("RPC_ENDPOINTS"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rpcEndpoints)
	}
	if eth := os.Getenv("ETH_RPC_ENDPOINT"); eth != "" {
		rpcEndpoints["ethereum"] = eth
	}

	return Config{
		Port:               GetEnvOrDefault("PORT", "8080"),
		DefiLlamaURL:       GetEnvOrDefault("DEFILLAMA_URL", "https://yields.llama.fi"),
		VaultsFyiURL:       GetEnvOrDefault("VAULTSFYI_URL", "https://api.vaults.fyi/v1"),
		RPCEndpoints:       rpcEndpoints,
		RedisAddr:          GetEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword:      GetEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:            GetEnvAsInt("REDIS_DB", 0),
		DatabaseURL:        GetEnvOrDefault("DATABASE_URL", ""),
		MigrationsPath:     GetEnvOrDefault("MIGRATIONS_PATH", "migrations"),
		OtelEndpoint:       GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		APIKeys:            apiKeys,
		RequestTimeout:     GetEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
		RPCTimeout:         GetEnvAsDuration("RPC_TIMEOUT", 15*time.Second),
		ValidationTVLFloor: GetEnvAsInt64("VALIDATION_TVL_FLOOR", 10_000_000),
		ValidationMaxCands: GetEnvAsInt("VALIDATION_MAX_CANDIDATES", 20),
		ValidationBatch:    GetEnvAsInt("VALIDATION_BATCH_SIZE", 4),
		BatchDelay:         GetEnvAsDuration("VALIDATION_BATCH_DELAY", 1500*time.Millisecond),
		MaxAPY:             GetEnvAsFloat("MAX_APY", 50.0),
		MaxTVLChange:       GetEnvAsFloat("MAX_TVL_CHANGE", 0.5),
		MinSourceCount:     GetEnvAsInt("MIN_SOURCE_COUNT", 1),
		CircuitResetDelay:  GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsInt64 retrieves an environment variable as an int64 with a default value
func GetEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
