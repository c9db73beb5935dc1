package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Provider   ProviderConfig   `yaml:"provider"`
	Cache      CacheConfig      `yaml:"cache"`
	Network    NetworkConfig    `yaml:"network"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents ambient logging and diagnostic port settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	Debug       bool   `yaml:"debug"`

	// LogMaxSizeMB rotates LogFile once it crosses this size. Zero (the
	// default) leaves LogFile growing unbounded, which is fine for
	// stderr but not for a host left running for days against a file.
	LogMaxSizeMB int `yaml:"log_max_size_mb"`

	// LogMaxBackups caps how many rotated log files are kept alongside
	// the active one.
	LogMaxBackups int `yaml:"log_max_backups"`
}

// ProviderConfig holds the provider's recognized options.
type ProviderConfig struct {
	// InstancePath is the root directory of the object store; required,
	// feeds the Object-Store Reader.
	InstancePath string `yaml:"instance_path"`
	// VirtualRoot is the absolute directory path to become the
	// projection root.
	VirtualRoot string `yaml:"virtual_root"`
	// EnumFuseCeiling bounds the number of GetDirectoryEnumeration calls
	// a single session may take before the engine forces EXHAUSTED, to
	// break a kernel retry storm against a wedged logical filesystem.
	EnumFuseCeiling int `yaml:"enum_fuse_ceiling"`
	// EnumPollInterval and EnumPollDeadline bound how long the
	// Enumeration Engine waits for a cache miss to resolve before
	// giving up and returning empty.
	EnumPollInterval time.Duration `yaml:"enum_poll_interval"`
	EnumPollDeadline time.Duration `yaml:"enum_poll_deadline"`
	// RegenerableNamespaces lists virtual path prefixes the dynamic-
	// regeneration policy covers (e.g. "/invites"): on close-deleted
	// under one of these,
	// the Notification Policy invalidates the cache and platform
	// tombstone so the next access regenerates the file.
	RegenerableNamespaces []string `yaml:"regenerable_namespaces"`
}

// CacheConfig represents Content Cache settings. TTL
// applies uniformly to the file-info, directory-listing, and content
// maps.
type CacheConfig struct {
	TTL                  time.Duration `yaml:"ttl"`
	MaxEntries           int           `yaml:"max_entries"`
	ContentSizeThreshold int64         `yaml:"content_size_threshold"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// NetworkConfig represents resilience settings wrapping the Async
// Bridge's calls into the logical filesystem.
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents observability settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	Prometheus bool `yaml:"prometheus"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFile:       "",
			MetricsPort:   8080,
			HealthPort:    8081,
			Debug:         false,
			LogMaxSizeMB:  0,
			LogMaxBackups: 5,
		},
		Provider: ProviderConfig{
			EnumFuseCeiling:  100,
			EnumPollInterval: 100 * time.Millisecond,
			EnumPollDeadline: 5 * time.Second,
		},
		Cache: CacheConfig{
			TTL:                  1 * time.Hour,
			MaxEntries:           100000,
			ContentSizeThreshold: 1 << 20,
			SweepInterval:        1 * time.Minute,
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("OBJFSPROJFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("OBJFSPROJFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("OBJFSPROJFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("OBJFSPROJFS_DEBUG"); val != "" {
		c.Global.Debug = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("OBJFSPROJFS_INSTANCE_PATH"); val != "" {
		c.Provider.InstancePath = val
	}
	if val := os.Getenv("OBJFSPROJFS_VIRTUAL_ROOT"); val != "" {
		c.Provider.VirtualRoot = val
	}

	if val := os.Getenv("OBJFSPROJFS_CACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Cache.TTL = duration
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Provider.InstancePath == "" {
		return fmt.Errorf("instance_path is required")
	}

	if c.Provider.VirtualRoot == "" {
		return fmt.Errorf("virtual_root is required")
	}

	if c.Provider.EnumFuseCeiling <= 0 {
		return fmt.Errorf("enum_fuse_ceiling must be greater than 0")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
