// Package config implements the three-layer configuration pipeline of
// SPEC_FULL.md §6: built-in defaults, then environment variables, then a
// YAML file, mirroring core/config.go's DefaultConfig/LoadFromEnv/
// LoadFromFile/Validate pipeline (that file notes YAML support would need
// gopkg.in/yaml.v3; this package is where that dependency lands).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soldrproxy/soldr/internal/errs"
)

// minSecretLength is spec.md §6's floor on the management shared secret.
const minSecretLength = 32

// Config holds every recognized setting of SPEC_FULL.md §6.
type Config struct {
	Database struct {
		URL string `yaml:"url" env:"SOLDR_DATABASE_URL"`
	} `yaml:"database"`

	Proxy struct {
		Listen string `yaml:"listen" env:"SOLDR_PROXY_LISTEN"`
	} `yaml:"proxy"`

	Management struct {
		Listen string `yaml:"listen" env:"SOLDR_MANAGEMENT_LISTEN"`
		Secret string `yaml:"secret" env:"SOLDR_MANAGEMENT_SECRET"`
	} `yaml:"management"`

	TLS struct {
		Enable   bool   `yaml:"enable" env:"SOLDR_TLS_ENABLE"`
		CertPath string `yaml:"cert_path" env:"SOLDR_TLS_CERT_PATH"`
		KeyPath  string `yaml:"key_path" env:"SOLDR_TLS_KEY_PATH"`
	} `yaml:"tls"`
}

// Option mutates a Config; the highest-priority layer (spec.md §6,
// core/config.go's three-tier precedence).
type Option func(*Config)

// Default returns a Config with built-in defaults, the lowest-priority
// layer.
func Default() *Config {
	c := &Config{}
	c.Database.URL = "soldr.db"
	c.Proxy.Listen = ":8080"
	c.Management.Listen = ":8081"
	return c
}

// LoadEnv overlays environment variables onto c, the middle-priority
// layer, following core/config.go's "only set if present" rule.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("SOLDR_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("SOLDR_PROXY_LISTEN"); v != "" {
		c.Proxy.Listen = v
	}
	if v := os.Getenv("SOLDR_MANAGEMENT_LISTEN"); v != "" {
		c.Management.Listen = v
	}
	if v := os.Getenv("SOLDR_MANAGEMENT_SECRET"); v != "" {
		c.Management.Secret = v
	}
	if v := os.Getenv("SOLDR_TLS_ENABLE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SOLDR_TLS_ENABLE: %w: %v", errs.ErrConfig, err)
		}
		c.TLS.Enable = enabled
	}
	if v := os.Getenv("SOLDR_TLS_CERT_PATH"); v != "" {
		c.TLS.CertPath = v
	}
	if v := os.Getenv("SOLDR_TLS_KEY_PATH"); v != "" {
		c.TLS.KeyPath = v
	}
	return nil
}

// LoadFile overlays a YAML file onto c. An empty path is not an error;
// callers pass the --config-path flag value, which may be empty. A
// non-empty path naming a file that does not exist returns ErrConfig.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file %s not found: %w", path, errs.ErrConfig)
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w: %v", path, errs.ErrConfig, err)
	}
	return nil
}

// New builds a Config through every layer: defaults, environment, then
// the YAML file at configPath (if non-empty), then functional options,
// and validates the result. This mirrors core/config.go's
// NewConfig pipeline.
func New(configPath string, opts ...Option) (*Config, error) {
	c := Default()

	if err := c.LoadEnv(); err != nil {
		return nil, err
	}
	if err := c.LoadFile(configPath); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the settings spec.md §6 constrains. Preserves the
// teacher's "wrap the invalid-config sentinel in a message" convention.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Proxy.Listen) == "" {
		return fmt.Errorf("proxy.listen is required: %w", errs.ErrConfig)
	}
	if strings.TrimSpace(c.Management.Listen) == "" {
		return fmt.Errorf("management.listen is required: %w", errs.ErrConfig)
	}
	if len(c.Management.Secret) < minSecretLength {
		return fmt.Errorf("management.secret must be at least %d characters: %w", minSecretLength, errs.ErrConfig)
	}
	if c.TLS.Enable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return fmt.Errorf("tls.cert_path and tls.key_path are required when tls.enable is true: %w", errs.ErrConfig)
	}
	return nil
}

// WithManagementSecret overrides the management secret, the
// highest-priority layer (used by tests and by flags that outrank files).
func WithManagementSecret(secret string) Option {
	return func(c *Config) { c.Management.Secret = secret }
}

// WithDatabaseURL overrides the database DSN.
func WithDatabaseURL(url string) Option {
	return func(c *Config) { c.Database.URL = url }
}
