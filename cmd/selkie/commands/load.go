// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/selkie-project/selkie/lib/config"
	"github.com/selkie-project/selkie/lib/policy"
	"github.com/selkie-project/selkie/lib/server"
)

// loadPolicyFile reads and parses a binary policy blob from disk.
// The blob may be raw, zstd-compressed, or lz4-compressed; the
// returned bytes are the blob as read, suitable for digesting.
func loadPolicyFile(path string) (*policy.Policy, []byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading policy: %w", err)
	}
	raw, err := policy.Decode(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding policy blob: %w", err)
	}
	parsed, err := policy.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return parsed, blob, nil
}

// newServer builds a security server from either an explicit policy
// path or a Selkie config file. When a config is given it supplies the
// policy path (unless overridden by the positional argument), the
// enforcing mode, boolean overrides, and an optional status stream
// path. Boolean overrides are staged and committed in one batch after
// the policy loads. The returned close function releases the status
// stream file, if any.
func newServer(policyPath, configPath string, logger *slog.Logger) (*server.SecurityServer, func() error, error) {
	noop := func() error { return nil }

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, noop, fmt.Errorf("loading config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return nil, noop, fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		if policyPath == "" {
			policyPath = cfg.Policy.Path
		}
	}
	if policyPath == "" {
		return nil, noop, fmt.Errorf("no policy file given (pass a path or --config)")
	}

	blob, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, noop, fmt.Errorf("reading policy: %w", err)
	}

	s := server.New()
	closeStream := noop

	// Register the status stream before loading so the load's own
	// snapshot is the stream's first policy-bearing entry.
	if cfg != nil && cfg.Status.StreamPath != "" {
		f, err := os.OpenFile(cfg.Status.StreamPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, noop, fmt.Errorf("opening status stream: %w", err)
		}
		s.SetStatusPublisher(server.NewStreamPublisher(f))
		closeStream = f.Close
		logger.Info("status stream open", "path", cfg.Status.StreamPath)
	}

	if err := s.LoadPolicy(blob); err != nil {
		closeStream()
		return nil, noop, err
	}
	digest, _ := s.PolicyDigest()
	logger.Info("policy loaded", "path", policyPath, "digest", digest.String())

	if cfg != nil {
		for name, value := range cfg.Policy.Booleans {
			if err := s.SetPendingBoolean(name, value); err != nil {
				closeStream()
				return nil, noop, fmt.Errorf("applying boolean override: %w", err)
			}
		}
		s.CommitPendingBooleans()
		s.SetEnforcing(cfg.Server.Enforcing)
		logger.Info("config applied",
			"booleans", len(cfg.Policy.Booleans),
			"enforcing", cfg.Server.Enforcing)
	}
	return s, closeStream, nil
}
