// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete selkie CLI command tree.
package commands

import (
	"fmt"

	"github.com/selkie-project/selkie/cmd/selkie/cli"
	"github.com/selkie-project/selkie/lib/version"
)

// Root builds and returns the complete selkie CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "selkie",
		Description: `Selkie: SELinux policy tooling.

Parse, validate, and query compiled SELinux binary policies, and
compute access decisions the way the in-kernel security server would.`,
		Subcommands: []*cli.Command{
			validateCommand(),
			inspectCommand(),
			checkCommand(),
			labelCommand(),
			booleansCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("selkie %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Validate a compiled policy",
				Command:     "selkie validate /etc/selinux/targeted/policy/policy.33",
			},
			{
				Description: "List classes, types, and booleans",
				Command:     "selkie inspect policy.bin",
			},
			{
				Description: "Check whether a domain may read a file",
				Command:     "selkie check policy.bin 'system_u:system_r:app_t:s0' 'system_u:object_r:file_t:s0' file read",
			},
			{
				Description: "Canonicalize a security context",
				Command:     "selkie label policy.bin 'system_u:object_r:file_t:s0:c1,c0'",
			},
			{
				Description: "List conditional booleans and their defaults",
				Command:     "selkie booleans policy.bin",
			},
		},
	}
}
