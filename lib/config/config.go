// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Selkie.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Policy configures the policy source applied at startup.
	Policy PolicyConfig `yaml:"policy"`

	// Server configures the security server's initial state.
	Server ServerConfig `yaml:"server"`

	// Status configures enforcement status publishing.
	Status StatusConfig `yaml:"status"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Policy *PolicyConfig `yaml:"policy,omitempty"`
	Server *ServerConfig `yaml:"server,omitempty"`
	Status *StatusConfig `yaml:"status,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Selkie data.
	Root string `yaml:"root"`

	// State is where runtime state is stored.
	State string `yaml:"state"`
}

// PolicyConfig configures the policy loaded at startup.
type PolicyConfig struct {
	// Path is the binary policy file to load. The blob may be raw,
	// zstd-compressed, or lz4-compressed.
	Path string `yaml:"path"`

	// Booleans overrides conditional boolean values after the policy
	// loads. Each entry is staged and committed in one batch. Names
	// the policy does not declare fail startup.
	Booleans map[string]bool `yaml:"booleans,omitempty"`
}

// ServerConfig configures the security server's initial state.
type ServerConfig struct {
	// Enforcing selects enforcing mode at startup. Default: false
	// (permissive) in development, true in production.
	Enforcing bool `yaml:"enforcing"`
}

// StatusConfig configures enforcement status publishing.
type StatusConfig struct {
	// StreamPath is an append-only file receiving CBOR-encoded status
	// snapshots. Empty disables publishing.
	StreamPath string `yaml:"stream_path"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "selkie")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
		},
		Policy: PolicyConfig{},
		Server: ServerConfig{
			Enforcing: false,
		},
		Status: StatusConfig{},
	}
}

// Load loads configuration from the SELKIE_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if SELKIE_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SELKIE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SELKIE_CONFIG environment variable not set; " +
			"set it to the path of your selkie.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: enforce unless the file says otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Server: &ServerConfig{Enforcing: true},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
	}

	if overrides.Policy != nil {
		if overrides.Policy.Path != "" {
			c.Policy.Path = overrides.Policy.Path
		}
		if overrides.Policy.Booleans != nil {
			if c.Policy.Booleans == nil {
				c.Policy.Booleans = make(map[string]bool)
			}
			for name, value := range overrides.Policy.Booleans {
				c.Policy.Booleans[name] = value
			}
		}
	}

	if overrides.Server != nil {
		// Enforcing is a bool, so we always apply it from overrides.
		c.Server.Enforcing = overrides.Server.Enforcing
	}

	if overrides.Status != nil {
		if overrides.Status.StreamPath != "" {
			c.Status.StreamPath = overrides.Status.StreamPath
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SELKIE_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SELKIE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Policy.Path = expandVars(c.Policy.Path, vars)
	c.Status.StreamPath = expandVars(c.Status.StreamPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if c.Policy.Path == "" {
		errs = append(errs, fmt.Errorf("policy.path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
