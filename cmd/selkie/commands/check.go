// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/selkie-project/selkie/cmd/selkie/cli"
	"github.com/selkie-project/selkie/lib/policy"
)

func checkCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "check",
		Summary: "Compute an access decision",
		Description: `Compute the access decision between two security contexts for a
target class, the way the security server would answer an access
vector cache miss: the allowed, auditallow, and auditdeny permission
sets, plus whether the source domain is permissive.

When permission names follow the class, each is checked against the
allowed set and the command exits 1 if any is denied.`,
		Usage: "selkie check <policy> <source-context> <target-context> <class> [permission...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "Selkie config file (policy path, enforcing mode, boolean overrides)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 4 {
				return fmt.Errorf("expected <policy> <source-context> <target-context> <class>, got %d args", len(args))
			}
			policyPath, sourceLabel, targetLabel, className := args[0], args[1], args[2], args[3]
			permissions := args[4:]

			logger := cli.NewCommandLogger().With("command", "check")
			s, closeStream, err := newServer(policyPath, configPath, logger)
			if err != nil {
				return err
			}
			defer closeStream()

			source, err := s.SecurityContextToSID(sourceLabel)
			if err != nil {
				return fmt.Errorf("source context: %w", err)
			}
			target, err := s.SecurityContextToSID(targetLabel)
			if err != nil {
				return fmt.Errorf("target context: %w", err)
			}

			decision := s.ComputeAccessVectorByName(source, target, className)

			// Unknown classes have no permission list; the decision
			// then falls back to the policy's handle-unknown setting
			// and the vectors print as raw bit sets.
			declared, err := s.ClassPermissionsByName(className)
			if err != nil {
				declared = nil
			}

			fmt.Printf("allow:      %s\n", formatVector(decision.Allow, declared))
			fmt.Printf("auditallow: %s\n", formatVector(decision.AuditAllow, declared))
			fmt.Printf("auditdeny:  %s\n", formatVector(decision.AuditDeny, declared))
			if decision.Flags&policy.FlagPermissive != 0 {
				fmt.Printf("flags:      permissive\n")
			}

			denied := false
			for _, name := range permissions {
				allowed, err := permissionAllowed(decision.Allow, declared, name)
				if err != nil {
					return err
				}
				verdict := "allowed"
				if !allowed {
					verdict = "denied"
					denied = true
				}
				fmt.Printf("%s: %s\n", name, verdict)
			}
			if denied {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// formatVector renders an access vector as permission names. Bits
// beyond the declared permissions (an all-ones vector from the
// allow-unknown disposition, or an unknown class) render in hex.
func formatVector(vector policy.AccessVector, declared []policy.Permission) string {
	if vector == policy.AccessVectorNone {
		return "-"
	}

	var names []string
	covered := policy.AccessVectorNone
	for _, permission := range declared {
		bit := policy.AccessVector(1) << (permission.Value - 1)
		covered |= bit
		if vector&bit != 0 {
			names = append(names, permission.Name)
		}
	}

	if remainder := vector &^ covered; remainder != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(remainder)))
	}
	return strings.Join(names, " ")
}

func permissionAllowed(allow policy.AccessVector, declared []policy.Permission, name string) (bool, error) {
	for _, permission := range declared {
		if permission.Name == name {
			return allow&(policy.AccessVector(1)<<(permission.Value-1)) != 0, nil
		}
	}
	return false, fmt.Errorf("permission %q not defined for class", name)
}
