// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/selkie-project/selkie/cmd/selkie/cli"
	"github.com/selkie-project/selkie/lib/codec"
	"github.com/selkie-project/selkie/lib/policy"
)

// inspectReport is the machine-readable summary of a parsed policy.
// json tags drive both the JSON and CBOR output formats.
type inspectReport struct {
	Version       uint32          `json:"version"`
	HandleUnknown string          `json:"handle_unknown"`
	Digest        string          `json:"digest"`
	Classes       []classReport   `json:"classes"`
	Types         []string        `json:"types"`
	Attributes    []string        `json:"attributes"`
	Roles         []string        `json:"roles"`
	Users         []string        `json:"users"`
	Booleans      []booleanReport `json:"booleans"`
}

type classReport struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type booleanReport struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

func inspectCommand() *cli.Command {
	var format string

	return &cli.Command{
		Name:    "inspect",
		Summary: "Summarize the contents of a binary policy",
		Description: `Parse a compiled SELinux binary policy and print its classes (with
permissions), types, attributes, roles, users, and conditional
booleans.`,
		Usage: "selkie inspect <policy> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.StringVar(&format, "format", "text", "output format (text, json, cbor)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one policy file, got %d args", len(args))
			}
			parsed, blob, err := loadPolicyFile(args[0])
			if err != nil {
				return err
			}

			report := buildInspectReport(parsed, policy.DigestBlob(blob))

			switch format {
			case "text":
				printInspectReport(report)
				return nil
			case "json":
				return cli.WriteJSON(report)
			case "cbor":
				encoded, err := codec.Marshal(report)
				if err != nil {
					return fmt.Errorf("encoding report: %w", err)
				}
				_, err = os.Stdout.Write(encoded)
				return err
			default:
				return fmt.Errorf("unknown format %q (want text, json, or cbor)", format)
			}
		},
	}
}

func buildInspectReport(parsed *policy.Policy, digest policy.Digest) inspectReport {
	report := inspectReport{
		Version:       parsed.Version(),
		HandleUnknown: parsed.HandleUnknown().String(),
		Digest:        digest.String(),
	}

	for _, class := range parsed.Classes() {
		permissions, _ := parsed.ClassPermissions(class.Name)
		names := make([]string, len(permissions))
		for i, permission := range permissions {
			names[i] = permission.Name
		}
		report.Classes = append(report.Classes, classReport{
			Name:        class.Name,
			Permissions: names,
		})
	}

	for _, t := range parsed.Types() {
		if t.Attribute {
			report.Attributes = append(report.Attributes, t.Name)
		} else {
			report.Types = append(report.Types, t.Name)
		}
	}
	for _, role := range parsed.Roles() {
		report.Roles = append(report.Roles, role.Name)
	}
	for _, user := range parsed.Users() {
		report.Users = append(report.Users, user.Name)
	}
	for _, boolean := range parsed.Booleans() {
		report.Booleans = append(report.Booleans, booleanReport{
			Name:    boolean.Name,
			Default: boolean.State,
		})
	}
	return report
}

func printInspectReport(report inspectReport) {
	fmt.Printf("version:        %d\n", report.Version)
	fmt.Printf("handle_unknown: %s\n", report.HandleUnknown)
	fmt.Printf("digest:         %s\n", report.Digest)

	fmt.Printf("\nclasses (%d):\n", len(report.Classes))
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	for _, class := range report.Classes {
		fmt.Fprintf(tw, "  %s\t%d permissions\n", class.Name, len(class.Permissions))
	}
	tw.Flush()

	printNameList("types", report.Types)
	printNameList("attributes", report.Attributes)
	printNameList("roles", report.Roles)
	printNameList("users", report.Users)

	fmt.Printf("\nbooleans (%d):\n", len(report.Booleans))
	for _, boolean := range report.Booleans {
		fmt.Printf("  %s = %t\n", boolean.Name, boolean.Default)
	}
}

func printNameList(heading string, names []string) {
	fmt.Printf("\n%s (%d):\n", heading, len(names))
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}
