// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/selkie-project/selkie/cmd/selkie/cli"
)

func booleansCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "booleans",
		Summary: "List conditional booleans and their values",
		Description: `List the conditional booleans a policy declares, with their active
values. With --config, boolean overrides from the config file are
applied first, so the output reflects the effective runtime values.`,
		Usage: "selkie booleans <policy> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("booleans", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "Selkie config file with boolean overrides")
			return flagSet
		},
		Run: func(args []string) error {
			policyPath := ""
			if len(args) > 1 {
				return fmt.Errorf("expected at most one policy file, got %d args", len(args))
			}
			if len(args) == 1 {
				policyPath = args[0]
			}

			logger := cli.NewCommandLogger().With("command", "booleans")
			s, closeStream, err := newServer(policyPath, configPath, logger)
			if err != nil {
				return err
			}
			defer closeStream()

			for _, name := range s.ConditionalBooleans() {
				active, _, err := s.GetBoolean(name)
				if err != nil {
					return err
				}
				fmt.Printf("%s = %t\n", name, active)
			}
			return nil
		},
	}
}
