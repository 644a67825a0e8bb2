// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/selkie-project/selkie/cmd/selkie/cli"
	"github.com/selkie-project/selkie/lib/policy"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Parse and validate a binary policy",
		Description: `Parse a compiled SELinux binary policy and run the full set of
structural validations: symbol table cross-references, bitmap bounds,
MLS range well-formedness, and initial SID contexts.

Exits 0 if the policy is valid, 1 with a diagnostic otherwise.`,
		Usage: "selkie validate <policy>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one policy file, got %d args", len(args))
			}
			parsed, blob, err := loadPolicyFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
				return &cli.ExitError{Code: 1}
			}
			fmt.Printf("%s: OK (version %d, %d classes, %d types, %d booleans, digest %s)\n",
				args[0], parsed.Version(), len(parsed.Classes()), len(parsed.Types()),
				len(parsed.Booleans()), policy.DigestBlob(blob))
			return nil
		},
	}
}
