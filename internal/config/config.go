// Package config provides environment-aware configuration loading for the
// indexnode binary, following the teacher's internal/config conventions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment names a deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all node configuration.
type Config struct {
	Env Environment

	NodeID string

	Database   DatabaseConfig
	Chain      ChainConfig
	Server     ServerConfig
	Store      StoreConfig
	Assignment AssignmentConfig

	LogLevel  string
	LogFormat string
}

// DatabaseConfig configures the Postgres connection backing the entity and
// chain stores.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ChainConfig configures the chain adapter poll cadence; the adapter itself
// is an out-of-scope external collaborator (spec §1).
type ChainConfig struct {
	Networks     []string
	PollInterval time.Duration
	AncestorScan int
}

// ServerConfig configures the thin subscription HTTP/WS surface (spec §6).
type ServerConfig struct {
	Host string
	Port int
}

// StoreConfig configures entity-store tunables named explicitly by spec §4.1.
type StoreConfig struct {
	SchemaCacheCapacity   int
	SubscriptionChanCap   int
	SubscriptionSweep     time.Duration
	AbortUnlessMaxRetries int
}

// AssignmentConfig configures the Assignment Provider's periodic
// reconciliation safety net (spec §4.5).
type AssignmentConfig struct {
	ReconcileCron string
}

// Load reads configuration from INDEXNODE_ENV-selected .env files plus
// environment variables, mirroring the teacher's Load().
func Load() (*Config, error) {
	envStr := os.Getenv("INDEXNODE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid INDEXNODE_ENV: %s", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.NodeID = getEnv("NODE_ID", "node-1")

	c.Database.DSN = getEnv("DATABASE_URL", "")
	c.Database.MaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", 20)
	c.Database.MaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", 10)
	c.Database.ConnMaxLifetime = getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute)

	c.Chain.Networks = splitCSV(getEnv("CHAIN_NETWORKS", "mainnet"))
	c.Chain.PollInterval = getDurationEnv("CHAIN_POLL_INTERVAL", 2*time.Second)
	c.Chain.AncestorScan = getIntEnv("CHAIN_ANCESTOR_SCAN", 50)

	c.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	c.Server.Port = getIntEnv("SERVER_PORT", 8030)

	c.Store.SchemaCacheCapacity = getIntEnv("SCHEMA_CACHE_CAPACITY", 100)
	c.Store.SubscriptionChanCap = getIntEnv("SUBSCRIPTION_CHANNEL_CAPACITY", 100)
	c.Store.SubscriptionSweep = getDurationEnv("SUBSCRIPTION_SWEEP_INTERVAL", 5*time.Second)
	c.Store.AbortUnlessMaxRetries = getIntEnv("ABORT_UNLESS_MAX_RETRIES", 3)

	c.Assignment.ReconcileCron = getEnv("ASSIGNMENT_RECONCILE_CRON", "@every 5m")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")

	return nil
}

// Validate applies production-specific guards.
func (c *Config) Validate() error {
	if c.Env == Production && c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Store.SchemaCacheCapacity <= 0 {
		return fmt.Errorf("schema cache capacity must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == Production }

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
