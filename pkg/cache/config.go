package cache

import (
	"time"
)

// Config holds the configuration for the cache
type Config struct {
	// MaxSize is the maximum size of the cache in bytes
	MaxSize int64 `mapstructure:"max_size"`
	// TTL is the time-to-live for cache entries; zero keeps them until evicted
	TTL time.Duration `mapstructure:"ttl"`
	// EnableStats enables cache statistics collection
	EnableStats bool `mapstructure:"enable_stats"`
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSize:     512 * 1024 * 1024, // 512MB
		TTL:         10 * time.Minute,
		EnableStats: true,
	}
}

// WithMaxSize sets the maximum size of the cache
func (c *Config) WithMaxSize(size int64) *Config {
	c.MaxSize = size
	return c
}

// WithTTL sets the time-to-live for cache entries
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// WithStats enables or disables cache statistics
func (c *Config) WithStats(enable bool) *Config {
	c.EnableStats = enable
	return c
}
