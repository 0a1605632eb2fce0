// Package config provides centralized configuration management for the
// user-notes server. It loads configuration from CLI flags, environment
// variables and an optional .env file, validates it, and provides sensible
// defaults.
//
// Precedence: CLI flags > process environment > .env file > defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kuitang/user-notes/internal/ratelimit"
)

const (
	defaultListenAddr = ":3000"
	defaultKafkaTopic = "user-notes.events"
	defaultEnvFile    = ".env"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr      string
	ShutdownTimeout time.Duration

	// Rate limiting
	RateLimitEnabled bool
	RateLimitConfig  ratelimit.Config
	TrustXFF         bool // Key clients by the first X-Forwarded-For entry

	// Optional surfaces
	MetricsEnabled bool
	MCPEnabled     bool

	// Lifecycle events (empty brokers disables publishing)
	KafkaBrokers []string
	KafkaTopic   string
}

// Flags holds parsed CLI flag values.
type Flags struct {
	Addr    string
	EnvFile string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses the process CLI flags. Call before LoadConfig.
func ParseFlags() Flags {
	flags, _ := parseFlags(flag.CommandLine, os.Args[1:])
	return flags
}

func parseFlags(fset *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	fset.StringVar(&f.Addr, "addr", "", "Listen address (default :3000, overrides LISTEN_ADDR env var)")
	fset.StringVar(&f.EnvFile, "env-file", defaultEnvFile, "Path to a .env file (missing file is ignored)")
	err := fset.Parse(args)
	return f, err
}

// LoadConfig loads configuration from the .env file, environment variables
// and CLI flag values, then validates it.
func LoadConfig(flags Flags) (*Config, error) {
	if err := loadEnvFile(flags.EnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", defaultListenAddr)
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	cfg.ShutdownTimeout = parseDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second)

	// Rate limiting
	cfg.RateLimitEnabled = parseBoolOrDefault("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}
	cfg.TrustXFF = parseBoolOrDefault("TRUST_XFF", false)

	// Optional surfaces
	cfg.MetricsEnabled = parseBoolOrDefault("METRICS_ENABLED", true)
	cfg.MCPEnabled = parseBoolOrDefault("MCP_ENABLED", true)

	// Events
	cfg.KafkaBrokers = parseListOrDefault("KAFKA_BROKERS", nil)
	cfg.KafkaTopic = strings.TrimSpace(getEnvOrDefault("KAFKA_TOPIC", defaultKafkaTopic))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks that all configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, "LISTEN_ADDR must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be positive")
	}

	if c.RateLimitEnabled {
		if c.RateLimitConfig.RPS <= 0 {
			errs = append(errs, "RATE_LIMIT_RPS must be positive")
		}
		if c.RateLimitConfig.Burst <= 0 {
			errs = append(errs, "RATE_LIMIT_BURST must be positive")
		}
		if c.RateLimitConfig.CleanupInterval <= 0 {
			errs = append(errs, "RATE_LIMIT_CLEANUP_INTERVAL must be positive")
		}
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, "KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// EventsEnabled reports whether lifecycle events are published to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "user-notes server starting...")

	if c.RateLimitEnabled {
		fmt.Fprintf(os.Stderr, "  Limits:  %.0f rps, burst %d per client\n", c.RateLimitConfig.RPS, c.RateLimitConfig.Burst)
	} else {
		fmt.Fprintln(os.Stderr, "  Limits:  disabled")
	}

	if c.EventsEnabled() {
		fmt.Fprintf(os.Stderr, "  Events:  Kafka (brokers: %s, topic: %s)\n", strings.Join(c.KafkaBrokers, ","), c.KafkaTopic)
	} else {
		fmt.Fprintln(os.Stderr, "  Events:  disabled (no KAFKA_BROKERS)")
	}

	fmt.Fprintf(os.Stderr, "  Metrics: %s\n", onOff(c.MetricsEnabled))
	fmt.Fprintf(os.Stderr, "  MCP:     %s\n", onOff(c.MCPEnabled))
	fmt.Fprintf(os.Stderr, "  Listen:  %s\n", c.ListenAddr)
	fmt.Fprintln(os.Stderr, "")
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
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
