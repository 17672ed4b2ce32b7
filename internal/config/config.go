// Package config provides configuration management for the pool payout
// verifier. It handles loading configuration from environment variables with
// sensible defaults, and the YAML miner inventory the watcher polls.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the global configuration for poolverify services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Verifier policy
	MinShare       float64
	ProbeTimeout   time.Duration
	StrictTLS      bool
	ClientName     string
	BitcoinNetwork string
	DNSServer      string

	// Watcher
	InventoryFile       string
	PollInterval        time.Duration
	MaxConcurrentProbes int
	ProbesPerSecond     float64
	AlertCooldown       time.Duration
	ResultTTL           time.Duration

	// Bitcoin Core connection, optional
	BitcoinRPCHost     string
	BitcoinRPCPort     int
	BitcoinRPCUser     string
	BitcoinRPCPassword string
	BitcoinZMQAddr     string

	// Sinks; each is enabled only when its address is set
	KafkaBrokers []string
	PostgresURL  string
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "poolverify"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Verifier defaults
		MinShare:       getEnvFloat("MIN_SHARE", 0.98),
		ProbeTimeout:   getEnvDuration("PROBE_TIMEOUT", 6*time.Second),
		StrictTLS:      getEnvBool("STRICT_TLS", false),
		ClientName:     getEnv("CLIENT_NAME", "poolverify"),
		BitcoinNetwork: getEnv("BITCOIN_NETWORK", "mainnet"),
		DNSServer:      getEnv("DNS_SERVER", ""),

		// Watcher defaults
		InventoryFile:       getEnv("INVENTORY_FILE", "miners.yaml"),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 5*time.Minute),
		MaxConcurrentProbes: getEnvInt("MAX_CONCURRENT_PROBES", 8),
		ProbesPerSecond:     getEnvFloat("PROBES_PER_SECOND", 4),
		AlertCooldown:       getEnvDuration("ALERT_COOLDOWN", time.Hour),
		ResultTTL:           getEnvDuration("RESULT_TTL", 24*time.Hour),

		// Bitcoin Core defaults
		BitcoinRPCHost:     getEnv("BITCOIN_RPC_HOST", ""),
		BitcoinRPCPort:     getEnvInt("BITCOIN_RPC_PORT", 8332),
		BitcoinRPCUser:     getEnv("BITCOIN_RPC_USER", ""),
		BitcoinRPCPassword: getEnv("BITCOIN_RPC_PASSWORD", ""),
		BitcoinZMQAddr:     getEnv("BITCOIN_ZMQ_ADDR", ""),

		// Sink defaults
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "poolverify"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "payouts"),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.MinShare <= 0 || c.MinShare > 1 {
		return fmt.Errorf("MIN_SHARE must be in (0, 1]")
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}

	switch strings.ToLower(c.BitcoinNetwork) {
	case "mainnet", "main", "bitcoin", "testnet", "testnet3", "test":
	default:
		return fmt.Errorf("BITCOIN_NETWORK must be mainnet or testnet")
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s")
	}

	if c.MaxConcurrentProbes <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_PROBES must be positive")
	}

	if c.ProbesPerSecond <= 0 {
		return fmt.Errorf("PROBES_PER_SECOND must be positive")
	}

	if c.AlertCooldown < 0 || c.ResultTTL < 0 {
		return fmt.Errorf("ALERT_COOLDOWN and RESULT_TTL cannot be negative")
	}

	if c.BitcoinRPCPort <= 0 || c.BitcoinRPCPort > 65535 {
		return fmt.Errorf("BITCOIN_RPC_PORT must be between 1 and 65535")
	}

	return nil
}

// InfluxEnabled reports whether metrics should be written
func (c *Config) InfluxEnabled() bool {
	return c.InfluxURL != "" && c.InfluxToken != ""
}

// ChainRPCEnabled reports whether a node RPC endpoint is configured
func (c *Config) ChainRPCEnabled() bool {
	return c.BitcoinRPCHost != ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
