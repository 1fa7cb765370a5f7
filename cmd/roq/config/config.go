// Package config provides configuration structures for the roq command.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/M2oDA-Lab/roq/pkg/dataset"
)

// Config represents the command configuration.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`

	// Dataset settings
	Dataset DatasetConfig `yaml:"dataset" json:"dataset" mapstructure:"dataset"`

	// Manifest database
	Manifest ManifestConfig `yaml:"manifest" json:"manifest" mapstructure:"manifest"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`

	// Flight server configuration
	Serve ServeConfig `yaml:"serve" json:"serve" mapstructure:"serve"`
}

// DatasetConfig mirrors dataset.Options.
type DatasetConfig struct {
	Root           string `yaml:"root" json:"root" mapstructure:"root"`
	FilesID        string `yaml:"files_id" json:"files_id" mapstructure:"files_id"`
	LabeledDataDir string `yaml:"labeled_data_dir" json:"labeled_data_dir" mapstructure:"labeled_data_dir"`
	Seed           int64  `yaml:"seed" json:"seed" mapstructure:"seed"`
	// NumSamples keeps every query when nil.
	NumSamples  *int    `yaml:"num_samples" json:"num_samples" mapstructure:"num_samples"`
	ValSamples  float64 `yaml:"val_samples" json:"val_samples" mapstructure:"val_samples"`
	TestSamples float64 `yaml:"test_samples" json:"test_samples" mapstructure:"test_samples"`
	// TestLongrunShare is derived from TestSamples when nil.
	TestLongrunShare *float64 `yaml:"test_longrun_share" json:"test_longrun_share" mapstructure:"test_longrun_share"`
	ForceReload      bool     `yaml:"force_reload" json:"force_reload" mapstructure:"force_reload"`
	NoSplit          bool     `yaml:"no_split" json:"no_split" mapstructure:"no_split"`
}

// ManifestConfig represents the split manifest settings.
type ManifestConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	// DSN defaults to <root>/processed/manifest.duckdb.
	DSN string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address     string `yaml:"address" json:"address" mapstructure:"address"`
	PushGateway string `yaml:"push_gateway" json:"push_gateway" mapstructure:"push_gateway"`
	PushJob     string `yaml:"push_job" json:"push_job" mapstructure:"push_job"`
}

// ServeConfig represents the Flight server configuration.
type ServeConfig struct {
	Address         string        `yaml:"address" json:"address" mapstructure:"address"`
	MaxMessageSize  int64         `yaml:"max_message_size" json:"max_message_size" mapstructure:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Health          bool          `yaml:"health" json:"health" mapstructure:"health"`
	Reflection      bool          `yaml:"reflection" json:"reflection" mapstructure:"reflection"`

	TLS   TLSConfig   `yaml:"tls" json:"tls" mapstructure:"tls"`
	Auth  AuthConfig  `yaml:"auth" json:"auth" mapstructure:"auth"`
	Cache CacheConfig `yaml:"cache" json:"cache" mapstructure:"cache"`
}

// TLSConfig represents TLS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file" mapstructure:"key_file"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Type    string `yaml:"type" json:"type" mapstructure:"type"` // basic, bearer, jwt

	BasicAuth  BasicAuthConfig  `yaml:"basic_auth" json:"basic_auth" mapstructure:"basic_auth"`
	BearerAuth BearerAuthConfig `yaml:"bearer_auth" json:"bearer_auth" mapstructure:"bearer_auth"`
	JWTAuth    JWTAuthConfig    `yaml:"jwt_auth" json:"jwt_auth" mapstructure:"jwt_auth"`
}

// BasicAuthConfig represents basic authentication configuration.
type BasicAuthConfig struct {
	Users map[string]UserInfo `yaml:"users" json:"users" mapstructure:"users"`
}

// UserInfo represents user information.
type UserInfo struct {
	Password string   `yaml:"password" json:"password" mapstructure:"password"`
	Roles    []string `yaml:"roles" json:"roles" mapstructure:"roles"`
}

// BearerAuthConfig maps static tokens to user names.
type BearerAuthConfig struct {
	Tokens map[string]string `yaml:"tokens" json:"tokens" mapstructure:"tokens"`
}

// JWTAuthConfig represents JWT authentication configuration.
type JWTAuthConfig struct {
	Secret   string `yaml:"secret" json:"secret" mapstructure:"secret"`
	Issuer   string `yaml:"issuer" json:"issuer" mapstructure:"issuer"`
	Audience string `yaml:"audience" json:"audience" mapstructure:"audience"`
}

// CacheConfig sizes the split record cache.
type CacheConfig struct {
	MaxSize     int64         `yaml:"max_size" json:"max_size" mapstructure:"max_size"`
	TTL         time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl"`
	EnableStats bool          `yaml:"enable_stats" json:"enable_stats" mapstructure:"enable_stats"`
}

// ProcessedDir is the directory holding the split artifacts.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.Dataset.Root, "processed")
}

// ManifestDSN returns the manifest database path.
func (c *Config) ManifestDSN() string {
	if c.Manifest.DSN != "" {
		return c.Manifest.DSN
	}
	return filepath.Join(c.ProcessedDir(), "manifest.duckdb")
}

// DatasetOptions converts the dataset section to pipeline options.
func (c *Config) DatasetOptions() dataset.Options {
	d := c.Dataset
	opts := dataset.Options{
		Root:           d.Root,
		FilesID:        d.FilesID,
		LabeledDataDir: d.LabeledDataDir,
		Seed:           d.Seed,
		ValSamples:     d.ValSamples,
		TestSamples:    d.TestSamples,
		ForceReload:    d.ForceReload,
	}
	if d.NumSamples != nil {
		n := *d.NumSamples
		opts.NumSamples = &n
	}
	if d.TestLongrunShare != nil {
		share := *d.TestLongrunShare
		opts.TestLongrunShare = &share
	}
	return opts
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Dataset.FilesID == "" {
		return fmt.Errorf("files id is required")
	}
	if n := c.Dataset.NumSamples; n != nil && *n < 0 {
		return fmt.Errorf("num samples must not be negative")
	}
	if c.Dataset.ValSamples < 0 || c.Dataset.TestSamples < 0 {
		return fmt.Errorf("val and test samples must not be negative")
	}
	if s := c.Dataset.TestLongrunShare; s != nil && !(*s > 0 && *s < 1) {
		return fmt.Errorf("test longrun share must be a fraction in (0, 1), got %v", *s)
	}
	if c.Dataset.Root == "" {
		c.Dataset.Root = "./"
	}
	if c.Dataset.LabeledDataDir == "" {
		c.Dataset.LabeledDataDir = "./labeled_data/"
	}

	if c.Metrics.PushGateway != "" && c.Metrics.PushJob == "" {
		c.Metrics.PushJob = "roq"
	}

	if c.Serve.MaxMessageSize <= 0 {
		c.Serve.MaxMessageSize = 64 * 1024 * 1024
	}
	if c.Serve.ShutdownTimeout <= 0 {
		c.Serve.ShutdownTimeout = 30 * time.Second
	}

	// Validate TLS
	if c.Serve.TLS.Enabled {
		if c.Serve.TLS.CertFile == "" || c.Serve.TLS.KeyFile == "" {
			return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
		}
	}

	// Validate auth
	if c.Serve.Auth.Enabled {
		switch c.Serve.Auth.Type {
		case "basic":
			if len(c.Serve.Auth.BasicAuth.Users) == 0 {
				return fmt.Errorf("basic auth requires users")
			}
		case "bearer":
			if len(c.Serve.Auth.BearerAuth.Tokens) == 0 {
				return fmt.Errorf("bearer auth requires tokens")
			}
		case "jwt":
			if c.Serve.Auth.JWTAuth.Secret == "" {
				return fmt.Errorf("JWT auth requires secret")
			}
		default:
			return fmt.Errorf("unsupported auth type: %s", c.Serve.Auth.Type)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	share := dataset.DefaultTestLongrunShare
	return &Config{
		LogLevel: "info",
		Dataset: DatasetConfig{
			Root:             "./",
			LabeledDataDir:   "./labeled_data/",
			ValSamples:       dataset.DefaultValSamples,
			TestSamples:      dataset.DefaultTestSamples,
			TestLongrunShare: &share,
		},
		Manifest: ManifestConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			PushJob: "roq",
		},
		Serve: ServeConfig{
			Address:         "0.0.0.0:8815",
			MaxMessageSize:  64 * 1024 * 1024,
			ShutdownTimeout: 30 * time.Second,
			Health:          true,
			Reflection:      true,
			Auth: AuthConfig{
				Enabled: false,
				Type:    "bearer",
			},
			Cache: CacheConfig{
				MaxSize:     512 * 1024 * 1024,
				TTL:         10 * time.Minute,
				EnableStats: true,
			},
		},
	}
}
