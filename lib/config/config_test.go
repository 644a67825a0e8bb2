// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.Server.Enforcing {
		t.Error("expected enforcing=false for development")
	}

	if cfg.Paths.Root == "" {
		t.Error("expected a default root path")
	}
}

func TestLoad_RequiresSelkieConfig(t *testing.T) {
	origConfig := os.Getenv("SELKIE_CONFIG")
	defer os.Setenv("SELKIE_CONFIG", origConfig)

	os.Unsetenv("SELKIE_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SELKIE_CONFIG not set, got nil")
	}

	if !strings.HasPrefix(err.Error(), "SELKIE_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithSelkieConfig(t *testing.T) {
	origConfig := os.Getenv("SELKIE_CONFIG")
	defer os.Setenv("SELKIE_CONFIG", origConfig)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "selkie.yaml")

	configContent := `
environment: staging
paths:
  root: /test/root
policy:
  path: /test/policy.bin
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	os.Setenv("SELKIE_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Paths.Root != "/test/root" {
		t.Errorf("expected root=/test/root, got %s", cfg.Paths.Root)
	}
	if cfg.Policy.Path != "/test/policy.bin" {
		t.Errorf("expected policy path=/test/policy.bin, got %s", cfg.Policy.Path)
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile("/nonexistent/selkie.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "selkie.yaml")

	configContent := `
environment: production
paths:
  root: /srv/selkie
policy:
  path: /srv/selkie/policy.bin
  booleans:
    allow_execmem: true
production:
  policy:
    booleans:
      allow_execmem: false
      secure_mode: true
  status:
    stream_path: /srv/selkie/status.cbor
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Policy.Booleans["allow_execmem"] {
		t.Error("production override should flip allow_execmem to false")
	}
	if !cfg.Policy.Booleans["secure_mode"] {
		t.Error("production override should add secure_mode=true")
	}
	if cfg.Status.StreamPath != "/srv/selkie/status.cbor" {
		t.Errorf("stream_path = %s", cfg.Status.StreamPath)
	}
}

func TestProductionDefaultsEnforcing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "selkie.yaml")

	configContent := `
environment: production
paths:
  root: /srv/selkie
policy:
  path: /srv/selkie/policy.bin
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if !cfg.Server.Enforcing {
		t.Error("production without an explicit override should default to enforcing")
	}
}

func TestVariableExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "selkie.yaml")

	configContent := `
environment: development
paths:
  root: /opt/selkie
  state: ${SELKIE_ROOT}/state
policy:
  path: ${SELKIE_ROOT}/policy.bin
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Paths.State != "/opt/selkie/state" {
		t.Errorf("state = %s, want /opt/selkie/state", cfg.Paths.State)
	}
	if cfg.Policy.Path != "/opt/selkie/policy.bin" {
		t.Errorf("policy path = %s, want /opt/selkie/policy.bin", cfg.Policy.Path)
	}
}

func TestVariableExpansionDefault(t *testing.T) {
	got := expandVars("${SELKIE_UNSET_VAR:-/fallback}/policy.bin", map[string]string{})
	if got != "/fallback/policy.bin" {
		t.Errorf("expandVars = %s, want /fallback/policy.bin", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Policy.Path = "/etc/selkie/policy.bin"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Environment = "nonsense"
	cfg.Policy.Path = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	if !strings.Contains(err.Error(), "invalid environment") {
		t.Errorf("error should name the bad environment: %v", err)
	}
	if !strings.Contains(err.Error(), "policy.path is required") {
		t.Errorf("error should name the missing policy path: %v", err)
	}
}
