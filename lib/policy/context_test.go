// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy_test

import (
	"errors"
	"testing"

	"github.com/selkie-project/selkie/lib/policy"
	"github.com/selkie-project/selkie/lib/policy/policytest"
)

func TestParseSecurityContextRoundTrip(t *testing.T) {
	p := parseTestPolicy(t, testBuilder())

	tests := []struct {
		label string
		want  string // canonical form; empty means same as label
	}{
		{"system_u:user_r:app_t:s0", ""},
		{"system_u:system_r:kernel_t:s0-s1", ""},
		{"system_u:user_r:app_t:s0:c0", ""},
		{"system_u:user_r:app_t:s0:c0.c2", ""},
		{"system_u:user_r:app_t:s0-s1:c0.c2", ""},
		// Adjacent and unordered categories normalize into spans.
		{"system_u:user_r:app_t:s0:c1,c0", "system_u:user_r:app_t:s0:c0.c1"},
		{"system_u:user_r:app_t:s0:c2,c0,c1", "system_u:user_r:app_t:s0:c0.c2"},
		// The object role is valid for any user.
		{"system_u:object_r:file_t:s0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			context, err := p.ParseSecurityContext(tt.label)
			if err != nil {
				t.Fatalf("ParseSecurityContext(%q): %v", tt.label, err)
			}
			if err := p.ValidateSecurityContext(&context); err != nil {
				t.Fatalf("ValidateSecurityContext(%q): %v", tt.label, err)
			}
			want := tt.want
			if want == "" {
				want = tt.label
			}
			if got := p.SerializeSecurityContext(&context); got != want {
				t.Errorf("serialized %q, want %q", got, want)
			}
		})
	}
}

func TestParseSecurityContextErrors(t *testing.T) {
	p := parseTestPolicy(t, testBuilder())

	syntax := []string{
		"",
		"system_u",
		"system_u:user_r",
		"system_u:user_r:app_t",
		"system_u:user_r:app_t:",
		"system_u:user_r:app_t:s0-",
		"system_u:user_r:app_t:s0-s1-s1",
		"system_u:user_r:app_t:s0:c0:c1",
		// A category range must run low to high.
		"system_u:user_r:app_t:s0:c2.c0",
		"system_u:user_r:app_t:s0:c0.c0",
	}
	for _, label := range syntax {
		if _, err := p.ParseSecurityContext(label); !errors.Is(err, policy.ErrInvalidSyntax) {
			t.Errorf("ParseSecurityContext(%q) = %v, want ErrInvalidSyntax", label, err)
		}
	}

	unknown := []struct {
		label string
		kind  string
	}{
		{"ghost_u:user_r:app_t:s0", "user"},
		{"system_u:ghost_r:app_t:s0", "role"},
		{"system_u:user_r:ghost_t:s0", "type"},
		{"system_u:user_r:app_t:s9", "sensitivity"},
		{"system_u:user_r:app_t:s0:c9", "category"},
	}
	for _, tt := range unknown {
		_, err := p.ParseSecurityContext(tt.label)
		var unknownErr *policy.UnknownSymbolError
		if !errors.As(err, &unknownErr) {
			t.Errorf("ParseSecurityContext(%q) = %v, want UnknownSymbolError", tt.label, err)
			continue
		}
		if unknownErr.Kind != tt.kind {
			t.Errorf("ParseSecurityContext(%q) kind = %q, want %q", tt.label, unknownErr.Kind, tt.kind)
		}
	}
}

func TestValidateSecurityContextErrors(t *testing.T) {
	b := testBuilder().
		AddRole("admin_r").
		AddSensitivity("s2")
	p := parseTestPolicy(t, b)

	t.Run("role not declared for user", func(t *testing.T) {
		context, err := p.ParseSecurityContext("system_u:admin_r:app_t:s0")
		if err != nil {
			t.Fatalf("ParseSecurityContext: %v", err)
		}
		var roleErr *policy.RoleNotAllowedError
		if err := p.ValidateSecurityContext(&context); !errors.As(err, &roleErr) {
			t.Fatalf("ValidateSecurityContext = %v, want RoleNotAllowedError", err)
		}
	})

	t.Run("sensitivity outside user range", func(t *testing.T) {
		context, err := p.ParseSecurityContext("system_u:user_r:app_t:s2")
		if err != nil {
			t.Fatalf("ParseSecurityContext: %v", err)
		}
		var sensErr *policy.SensitivityNotAllowedError
		if err := p.ValidateSecurityContext(&context); !errors.As(err, &sensErr) {
			t.Fatalf("ValidateSecurityContext = %v, want SensitivityNotAllowedError", err)
		}
	})

	t.Run("high does not dominate low", func(t *testing.T) {
		// Disjoint category sets make the levels incomparable.
		context, err := p.ParseSecurityContext("system_u:user_r:app_t:s0:c0-s1:c1")
		if err != nil {
			t.Fatalf("ParseSecurityContext: %v", err)
		}
		var rangeErr *policy.InvalidRangeError
		if err := p.ValidateSecurityContext(&context); !errors.As(err, &rangeErr) {
			t.Fatalf("ValidateSecurityContext = %v, want InvalidRangeError", err)
		}
	})
}

func TestNewSecurityContextDefaults(t *testing.T) {
	p := parseTestPolicy(t, testBuilder())

	source, err := p.ParseSecurityContext("system_u:system_r:init_t:s0-s1:c0.c2")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}
	target, err := p.ParseSecurityContext("system_u:object_r:file_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}

	t.Run("process inherits source", func(t *testing.T) {
		context, err := p.NewSecurityContext(&source, &target, p.ClassByName("process").ID)
		if err != nil {
			t.Fatalf("NewSecurityContext: %v", err)
		}
		if got := p.SerializeSecurityContext(&context); got != "system_u:system_r:init_t:s0-s1:c0.c2" {
			t.Errorf("process context = %q", got)
		}
	})

	t.Run("file takes object role target type source low", func(t *testing.T) {
		context, err := p.NewFileSecurityContext(&source, &target, p.ClassByName("file").ID)
		if err != nil {
			t.Fatalf("NewFileSecurityContext: %v", err)
		}
		if got := p.SerializeSecurityContext(&context); got != "system_u:object_r:file_t:s0" {
			t.Errorf("file context = %q", got)
		}
	})

	t.Run("unknown class", func(t *testing.T) {
		if _, err := p.NewSecurityContext(&source, &target, policy.ClassID(99)); err == nil {
			t.Error("NewSecurityContext should fail for an undefined class")
		}
	})
}

func TestNewSecurityContextClassDefaults(t *testing.T) {
	// default_user target, default_role target, default_range
	// target-low-high, default_type source.
	b := testBuilder().
		AddUser("staff_u", []string{"user_r"},
			policytest.Level{Sens: "s0"},
			&policytest.Level{Sens: "s1", Cats: []string{"c0", "c1", "c2"}}).
		SetClassDefaults("file", 2, 2, 6, 1)
	p := parseTestPolicy(t, b)

	source, err := p.ParseSecurityContext("system_u:system_r:init_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}
	target, err := p.ParseSecurityContext("staff_u:user_r:file_t:s0-s1:c0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}

	context, err := p.NewFileSecurityContext(&source, &target, p.ClassByName("file").ID)
	if err != nil {
		t.Fatalf("NewFileSecurityContext: %v", err)
	}
	if got := p.SerializeSecurityContext(&context); got != "staff_u:user_r:init_t:s0-s1:c0" {
		t.Errorf("context = %q, want target user/role/range with source type", got)
	}
}

func TestNewSecurityContextTypeTransition(t *testing.T) {
	b := testBuilder().
		TypeTransition("init_t", "etc_t", "file", "file_t")
	p := parseTestPolicy(t, b)

	source, err := p.ParseSecurityContext("system_u:system_r:init_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}
	target, err := p.ParseSecurityContext("system_u:object_r:etc_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}

	context, err := p.NewFileSecurityContext(&source, &target, p.ClassByName("file").ID)
	if err != nil {
		t.Fatalf("NewFileSecurityContext: %v", err)
	}
	if context.Type != p.TypeByName("file_t").ID {
		t.Errorf("type = %d, want the transition target file_t", context.Type)
	}
}

func TestNewSecurityContextRangeTransition(t *testing.T) {
	b := testBuilder().
		RangeTransition("init_t", "etc_t", "file",
			policytest.Level{Sens: "s1", Cats: []string{"c0"}}, nil)
	p := parseTestPolicy(t, b)

	source, err := p.ParseSecurityContext("system_u:system_r:init_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}
	target, err := p.ParseSecurityContext("system_u:object_r:etc_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}

	context, err := p.NewFileSecurityContext(&source, &target, p.ClassByName("file").ID)
	if err != nil {
		t.Fatalf("NewFileSecurityContext: %v", err)
	}
	if got := p.SerializeSecurityContext(&context); got != "system_u:object_r:etc_t:s1:c0" {
		t.Errorf("context = %q, want the transition range", got)
	}
}

func TestNewFileSecurityContextByName(t *testing.T) {
	b := testBuilder().
		FilenameTransition("resolv.conf", "init_t", "etc_t", "file", "file_t")
	p := parseTestPolicy(t, b)

	source, err := p.ParseSecurityContext("system_u:system_r:init_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}
	target, err := p.ParseSecurityContext("system_u:object_r:etc_t:s0")
	if err != nil {
		t.Fatalf("ParseSecurityContext: %v", err)
	}
	fileClass := p.ClassByName("file").ID

	named, err := p.NewFileSecurityContextByName(&source, &target, fileClass, "resolv.conf")
	if err != nil {
		t.Fatalf("NewFileSecurityContextByName: %v", err)
	}
	if named.Type != p.TypeByName("file_t").ID {
		t.Errorf("matching name: type = %d, want file_t", named.Type)
	}

	other, err := p.NewFileSecurityContextByName(&source, &target, fileClass, "hosts")
	if err != nil {
		t.Fatalf("NewFileSecurityContextByName: %v", err)
	}
	if other.Type != p.TypeByName("etc_t").ID {
		t.Errorf("non-matching name: type = %d, want the target's etc_t", other.Type)
	}
}

func TestFilenameTransitionsLegacyEncoding(t *testing.T) {
	// Version 32 uses the flat one-row-per-source encoding; parsing
	// must fold it into the same in-memory form.
	b := testBuilder().
		SetVersion(32).
		FilenameTransition("resolv.conf", "init_t", "etc_t", "file", "file_t")
	p := parseTestPolicy(t, b)

	transitions := p.FilenameTransitions()
	if len(transitions) != 1 {
		t.Fatalf("len(FilenameTransitions) = %d, want 1", len(transitions))
	}
	ft := transitions[0]
	if ft.Name != "resolv.conf" {
		t.Errorf("Name = %q", ft.Name)
	}
	initT := p.TypeByName("init_t").ID
	if !ft.SourceTypes.IsSet(uint32(initT) - 1) {
		t.Error("source type bitmap should contain init_t")
	}
}

func TestMLSConstraintValidation(t *testing.T) {
	// A constraint with an unknown attribute must be rejected at load,
	// caught by evaluating it against the kernel initial context.
	b := testBuilder().
		AddMLSConstraint("file", []string{"read"}, 0x4000, 1)
	if _, err := policy.Parse(b.Build()); err == nil {
		t.Error("Parse accepted a constraint with an unknown attribute")
	}

	// A well-formed dominance constraint parses cleanly.
	// Attribute 0x20 compares l1 and l2; operator 3 is "dominates".
	good := testBuilder().
		AddMLSConstraint("file", []string{"read"}, 0x20, 3)
	if _, err := policy.Parse(good.Build()); err != nil {
		t.Errorf("Parse rejected a valid MLS constraint: %v", err)
	}
}
