package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/assetcache/assetcache/pkg/types"
)

// Configuration represents the complete engine configuration. It is built
// once at process start and passed explicitly into each component; nothing
// reads it as mutable global state.
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Cache   CacheConfig   `yaml:"cache"`
	Origin  OriginConfig  `yaml:"origin"`
	Preload PreloadConfig `yaml:"preload"`
}

// GlobalConfig represents process-wide settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// CacheConfig represents cache partitioning and storage settings.
type CacheConfig struct {
	// Version is the current cache generation. Partition storage names
	// combine a partition kind with this version.
	Version string `yaml:"version"`

	// Backend selects the partition store implementation: memory, disk
	// or s3.
	Backend string `yaml:"backend"`

	// Directory is the root for disk-backed partitions.
	Directory string `yaml:"directory"`

	// Compression enables gzip compression of stored bodies on disk.
	Compression bool `yaml:"compression"`

	// S3 configures the s3 backend.
	S3 S3Config `yaml:"s3"`

	// Manifest holds the two static ordered asset lists.
	Manifest types.Manifest `yaml:"manifest"`
}

// S3Config represents the shared-partition object storage backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// OriginConfig represents the upstream the engine fronts.
type OriginConfig struct {
	URL          string        `yaml:"url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// PreloadConfig tunes the client-side preloader.
type PreloadConfig struct {
	// IdleDelay is how long after the initial burst the second pass runs.
	IdleDelay time.Duration `yaml:"idle_delay"`

	// RetryAttempts bounds per-asset retries during the second pass.
	RetryAttempts int `yaml:"retry_attempts"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
			MetricsPath: "/metrics",
		},
		Cache: CacheConfig{
			Version:     "v1",
			Backend:     "disk",
			Directory:   "/var/cache/assetcache",
			Compression: true,
		},
		Origin: OriginConfig{
			FetchTimeout: 30 * time.Second,
		},
		Preload: PreloadConfig{
			IdleDelay:     5 * time.Second,
			RetryAttempts: 3,
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

// LoadFromEnv overlays configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("ASSETCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ASSETCACHE_LISTEN_ADDR"); val != "" {
		c.Global.ListenAddr = val
	}
	if val := os.Getenv("ASSETCACHE_METRICS_ADDR"); val != "" {
		c.Global.MetricsAddr = val
	}
	if val := os.Getenv("ASSETCACHE_CACHE_VERSION"); val != "" {
		c.Cache.Version = val
	}
	if val := os.Getenv("ASSETCACHE_CACHE_BACKEND"); val != "" {
		c.Cache.Backend = val
	}
	if val := os.Getenv("ASSETCACHE_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("ASSETCACHE_COMPRESSION"); val != "" {
		c.Cache.Compression = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ASSETCACHE_S3_BUCKET"); val != "" {
		c.Cache.S3.Bucket = val
	}
	if val := os.Getenv("ASSETCACHE_S3_REGION"); val != "" {
		c.Cache.S3.Region = val
	}
	if val := os.Getenv("ASSETCACHE_ORIGIN_URL"); val != "" {
		c.Origin.URL = val
	}
	if val := os.Getenv("ASSETCACHE_FETCH_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Origin.FetchTimeout = duration
		}
	}
	if val := os.Getenv("ASSETCACHE_PRELOAD_IDLE_DELAY"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Preload.IdleDelay = duration
		}
	}
	if val := os.Getenv("ASSETCACHE_PRELOAD_RETRIES"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			c.Preload.RetryAttempts = attempts
		}
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Cache.Version == "" {
		return fmt.Errorf("cache version must not be empty")
	}
	if strings.Contains(c.Cache.Version, "/") {
		return fmt.Errorf("cache version must not contain '/': %s", c.Cache.Version)
	}

	switch c.Cache.Backend {
	case "memory":
	case "disk":
		if c.Cache.Directory == "" {
			return fmt.Errorf("disk backend requires a cache directory")
		}
	case "s3":
		if c.Cache.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires a bucket")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be one of: memory, disk, s3)", c.Cache.Backend)
	}

	if c.Origin.URL != "" {
		if _, err := url.Parse(c.Origin.URL); err != nil {
			return fmt.Errorf("invalid origin url: %w", err)
		}
	}

	if c.Origin.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
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
