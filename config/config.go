// Package config holds the daemon configuration, loaded from a YAML file
// with flag overrides applied by the caller.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// Interval between acquisition ticks.
	Interval time.Duration `yaml:"interval"`

	// AttemptDeadline bounds one full acquisition attempt.
	AttemptDeadline time.Duration `yaml:"attempt_deadline"`

	// HandshakeTimeout bounds the plugin protocol handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// CallTimeout is the default per-invocation timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxAttempts parks a capability after this many failed acquisitions.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase and BackoffCap shape the exponential retry delay.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`

	// InstallRoot is where packages are installed, one directory each.
	InstallRoot string `yaml:"install_root"`

	// RegistryURL is the package registry base URL. Empty disables the
	// registry discovery source.
	RegistryURL string `yaml:"registry_url"`

	// CatalogPath points at the curated capability catalog. Empty
	// disables the curated source.
	CatalogPath string `yaml:"catalog_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Interval:         5 * time.Second,
		AttemptDeadline:  10 * time.Minute,
		HandshakeTimeout: 30 * time.Second,
		CallTimeout:      60 * time.Second,
		MaxAttempts:      5,
		BackoffBase:      2 * time.Second,
		BackoffCap:       5 * time.Minute,
		InstallRoot:      "/var/lib/varietyd/packages",
		RegistryURL:      "https://registry.npmjs.org",
		LogLevel:         "info",
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are an
// error — a typo in a field name must not silently fall back to a default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("config: interval must be positive, got %s", c.Interval)
	}
	if c.AttemptDeadline <= 0 {
		return fmt.Errorf("config: attempt_deadline must be positive, got %s", c.AttemptDeadline)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: handshake_timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("config: call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("config: backoff_base %s and backoff_cap %s must satisfy 0 < base <= cap",
			c.BackoffBase, c.BackoffCap)
	}
	if c.InstallRoot == "" {
		return fmt.Errorf("config: install_root is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
