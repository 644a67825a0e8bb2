// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/selkie-project/selkie/cmd/selkie/cli"
)

func labelCommand() *cli.Command {
	return &cli.Command{
		Name:    "label",
		Summary: "Canonicalize a security context",
		Description: `Parse a security context string against a policy, validate it (user
roles, role types, user MLS range bounds), and print the canonical
serialized form. Category sets are normalized: "c1,c0" becomes
"c0.c1", and contiguous runs collapse into ranges.`,
		Usage: "selkie label <policy> <context>",
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected <policy> <context>, got %d args", len(args))
			}
			parsed, _, err := loadPolicyFile(args[0])
			if err != nil {
				return err
			}
			context, err := parsed.ParseSecurityContext(args[1])
			if err != nil {
				return err
			}
			if err := parsed.ValidateSecurityContext(&context); err != nil {
				return err
			}
			fmt.Println(parsed.SerializeSecurityContext(&context))
			return nil
		},
	}
}
