package config

import (
	"os"
	"strconv"
	"time"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/mnemosyne"
)

type Config struct {
	MemoryLimit      uint64
	EnableProtection bool
	EnableIsolation  bool

	DefaultMemoryBytes uint64
	DefaultCPUPercent  float64
	DefaultWorkingDir  string

	WatchInterval time.Duration
	LogLevel      string
}

func Load() *Config {
	defaults := domain.DefaultResourceLimits()
	return &Config{
		MemoryLimit:      GetEnvUint("KATABASIS_MEMORY_LIMIT", 0),
		EnableProtection: GetEnvBool("KATABASIS_ENABLE_PROTECTION", true),
		EnableIsolation:  GetEnvBool("KATABASIS_ENABLE_ISOLATION", true),

		DefaultMemoryBytes: GetEnvUint("KATABASIS_DEFAULT_MEMORY_BYTES", defaults.MemoryBytes),
		DefaultCPUPercent:  GetEnvFloat("KATABASIS_DEFAULT_CPU_PERCENT", defaults.CPUPercent),
		DefaultWorkingDir:  getEnv("KATABASIS_WORKING_DIR", "/tmp/katabasis"),

		WatchInterval: GetEnvDuration("KATABASIS_WATCH_INTERVAL", time.Second),
		LogLevel:      getEnv("KATABASIS_LOG_LEVEL", "INFO"),
	}
}

// MemoryConfig maps the loaded settings onto the region registry's knobs.
func (c *Config) MemoryConfig() mnemosyne.MemoryConfig {
	return mnemosyne.MemoryConfig{
		MemoryLimit:      c.MemoryLimit,
		EnableProtection: c.EnableProtection,
		EnableIsolation:  c.EnableIsolation,
	}
}

// DefaultLimits returns the sandbox resource bounds applied when a spec
// leaves them unset.
func (c *Config) DefaultLimits() domain.ResourceLimits {
	limits := domain.DefaultResourceLimits()
	limits.MemoryBytes = c.DefaultMemoryBytes
	limits.CPUPercent = c.DefaultCPUPercent
	return limits
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvUint(key string, fallback uint64) uint64 {
	if value, ok := os.LookupEnv(key); ok {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return fallback
}

func GetEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
