// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skarab42/pantin/internal/types"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxBrowserPoolSize     = 20
	maxBrowserMaxAge       = 24 * time.Hour
	maxBrowserRecycleCount = 10000
	maxRequestTimeout      = 10 * time.Minute
)

// Config holds all application configuration, loaded from PANTIN_*
// environment variables at startup. There are no command-line flags for
// these settings.
type Config struct {
	// Server settings
	ServerHost string
	ServerPort int

	// Request handling
	RequestTimeout time.Duration

	// Browser fleet settings
	Pool types.PoolConfig

	// Profile overrides (supplements spec.md §6's user.js bootstrap)
	ProfileOverridesPath string
	ProfileHotReload     bool

	// CORS (empty = reject all cross-origin requests, the secure default)
	CORSAllowedOrigins []string

	// Rate limiting (disabled by default; a single deployed instance with
	// a bounded browser pool is already self-limiting)
	RateLimitEnabled bool
	RateLimitRPM     int
	TrustProxy       bool

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables, falling back to
// §6's documented defaults.
func Load() *Config {
	defaults := types.DefaultPoolConfig()

	return &Config{
		ServerHost: getEnvString("PANTIN_SERVER_HOST", "localhost"),
		ServerPort: getEnvInt("PANTIN_SERVER_PORT", 4242),

		RequestTimeout: getEnvDuration("PANTIN_REQUEST_TIMEOUT", 30*time.Second),

		Pool: types.PoolConfig{
			MaxSize:           uint32(getEnvInt("PANTIN_BROWSER_POOL_MAX_SIZE", int(defaults.MaxSize))),
			MaxAgeSecs:        uint32(getEnvInt("PANTIN_BROWSER_MAX_AGE", int(defaults.MaxAgeSecs))),
			MaxRecycleCount:   uint32(getEnvInt("PANTIN_BROWSER_MAX_RECYCLE_COUNT", int(defaults.MaxRecycleCount))),
			BrowserProgram:    getEnvString("PANTIN_BROWSER_PROGRAM", defaults.BrowserProgram),
			HandshakeTimeout:  defaults.HandshakeTimeout,
			NewSessionTimeout: defaults.NewSessionTimeout,
			PortReadyTimeout:  defaults.PortReadyTimeout,
		},

		ProfileOverridesPath: getEnvString("PANTIN_PROFILE_OVERRIDES", ""),
		ProfileHotReload:     getEnvBool("PANTIN_PROFILE_HOT_RELOAD", true),

		CORSAllowedOrigins: getEnvStringSlice("PANTIN_CORS_ALLOWED_ORIGINS", nil),

		RateLimitEnabled: getEnvBool("PANTIN_RATE_LIMIT_ENABLED", false),
		RateLimitRPM:     getEnvInt("PANTIN_RATE_LIMIT_RPM", 60),
		TrustProxy:       getEnvBool("PANTIN_TRUST_PROXY", false),

		LogLevel: getEnvString("PANTIN_LOG_LEVEL", "info"),
	}
}

// Validate checks configuration values and corrects invalid ones to
// sensible defaults, logging a warning for each correction.
func (c *Config) Validate() {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		log.Warn().Int("port", c.ServerPort).Msg("invalid PANTIN_SERVER_PORT, using default 4242")
		c.ServerPort = 4242
	}

	if c.ServerHost == "" {
		log.Warn().Msg("empty PANTIN_SERVER_HOST, using default localhost")
		c.ServerHost = "localhost"
	}

	if c.RequestTimeout < time.Second {
		log.Warn().Dur("timeout", c.RequestTimeout).Msg("PANTIN_REQUEST_TIMEOUT too short, using 30s")
		c.RequestTimeout = 30 * time.Second
	} else if c.RequestTimeout > maxRequestTimeout {
		log.Warn().
			Dur("timeout", c.RequestTimeout).
			Dur("max", maxRequestTimeout).
			Msg("PANTIN_REQUEST_TIMEOUT too long, capping to maximum")
		c.RequestTimeout = maxRequestTimeout
	}

	if c.Pool.MaxSize < 1 {
		log.Warn().Uint32("max_size", c.Pool.MaxSize).Msg("invalid PANTIN_BROWSER_POOL_MAX_SIZE, using default 5")
		c.Pool.MaxSize = 5
	} else if c.Pool.MaxSize > maxBrowserPoolSize {
		log.Warn().
			Uint32("max_size", c.Pool.MaxSize).
			Int("max", maxBrowserPoolSize).
			Msg("PANTIN_BROWSER_POOL_MAX_SIZE too large, capping to maximum")
		c.Pool.MaxSize = maxBrowserPoolSize
	}

	maxAge := time.Duration(c.Pool.MaxAgeSecs) * time.Second
	if maxAge < time.Second {
		log.Warn().Uint32("max_age_secs", c.Pool.MaxAgeSecs).Msg("invalid PANTIN_BROWSER_MAX_AGE, using default 60s")
		c.Pool.MaxAgeSecs = 60
	} else if maxAge > maxBrowserMaxAge {
		log.Warn().
			Dur("max_age", maxAge).
			Dur("max", maxBrowserMaxAge).
			Msg("PANTIN_BROWSER_MAX_AGE too long, capping to maximum")
		c.Pool.MaxAgeSecs = uint32(maxBrowserMaxAge.Seconds())
	}

	if c.Pool.MaxRecycleCount < 1 {
		log.Warn().Uint32("max_recycle_count", c.Pool.MaxRecycleCount).Msg("invalid PANTIN_BROWSER_MAX_RECYCLE_COUNT, using default 10")
		c.Pool.MaxRecycleCount = 10
	} else if c.Pool.MaxRecycleCount > maxBrowserRecycleCount {
		log.Warn().
			Uint32("max_recycle_count", c.Pool.MaxRecycleCount).
			Int("max", maxBrowserRecycleCount).
			Msg("PANTIN_BROWSER_MAX_RECYCLE_COUNT too high, capping to maximum")
		c.Pool.MaxRecycleCount = maxBrowserRecycleCount
	}

	if c.Pool.BrowserProgram == "" {
		log.Warn().Msg("empty PANTIN_BROWSER_PROGRAM, using default firefox")
		c.Pool.BrowserProgram = "firefox"
	} else if strings.Contains(c.Pool.BrowserProgram, "..") {
		log.Error().
			Str("program", c.Pool.BrowserProgram).
			Msg("PANTIN_BROWSER_PROGRAM contains path traversal sequence (..), using default firefox")
		c.Pool.BrowserProgram = "firefox"
	}

	if c.RateLimitEnabled && c.RateLimitRPM < 1 {
		log.Warn().Int("rate_limit_rpm", c.RateLimitRPM).Msg("invalid PANTIN_RATE_LIMIT_RPM, using default 60")
		c.RateLimitRPM = 60
	}

	validLogLevels := map[string]bool{"trace": true, "debug": true, "info": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("invalid PANTIN_LOG_LEVEL, using 'info'")
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// Helper functions for environment variable parsing.

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// Accept a bare integer as seconds (§6's docs give timeouts in
		// plain seconds), falling back to Go duration syntax.
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}
