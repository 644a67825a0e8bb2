// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/selkie-project/selkie/lib/policy"
	"github.com/selkie-project/selkie/lib/policy/policytest"
)

// testBuilder declares the policy most tests share: two classes, a
// domain attribute over three types, one user with two roles, two
// sensitivities, and three categories.
func testBuilder() *policytest.Builder {
	low := policytest.Level{Sens: "s0"}
	high := policytest.Level{Sens: "s1", Cats: []string{"c0", "c1", "c2"}}

	return policytest.NewBuilder().
		AddClass("process", "fork", "signal", "transition").
		AddClass("file", "read", "write", "execute", "open").
		AddRole("object_r").
		AddRole("system_r").
		AddRole("user_r").
		AddType("kernel_t").
		AddType("init_t").
		AddType("app_t").
		AddType("file_t").
		AddType("etc_t").
		AddType("unlabeled_t").
		AddAttribute("domain").
		AddTypeToAttribute("kernel_t", "domain").
		AddTypeToAttribute("init_t", "domain").
		AddTypeToAttribute("app_t", "domain").
		AddSensitivity("s0").
		AddSensitivity("s1").
		AddCategory("c0").
		AddCategory("c1").
		AddCategory("c2").
		AddUser("system_u", []string{"system_r", "user_r"}, low, &high).
		AddBoolean("allow_execmem", true).
		AddInitialSID(1, policytest.Context{
			User: "system_u", Role: "system_r", Type: "kernel_t", Low: low,
		}).
		AddInitialSID(3, policytest.Context{
			User: "system_u", Role: "object_r", Type: "unlabeled_t", Low: low,
		})
}

func parseTestPolicy(t *testing.T, b *policytest.Builder) *policy.Policy {
	t.Helper()
	p, err := policy.Parse(b.Build())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return p
}

func TestParseSymbols(t *testing.T) {
	p := parseTestPolicy(t, testBuilder())

	if p.Version() != 33 {
		t.Errorf("Version = %d, want 33", p.Version())
	}
	if p.HandleUnknown() != policy.DenyUnknown {
		t.Errorf("HandleUnknown = %v, want DenyUnknown", p.HandleUnknown())
	}
	if got := len(p.Classes()); got != 2 {
		t.Errorf("len(Classes) = %d, want 2", got)
	}
	if got := len(p.Types()); got != 7 {
		t.Errorf("len(Types) = %d, want 7 (six types plus one attribute)", got)
	}

	domain := p.TypeByName("domain")
	if domain == nil || !domain.Attribute {
		t.Errorf("TypeByName(domain) = %+v, want an attribute", domain)
	}
	if p.TypeByName("no_such_t") != nil {
		t.Error("TypeByName should return nil for undefined types")
	}
	if user := p.UserByName("system_u"); user == nil {
		t.Error("UserByName(system_u) = nil")
	}
	if boolean := p.BooleanByName("allow_execmem"); boolean == nil || !boolean.State {
		t.Errorf("BooleanByName(allow_execmem) = %+v, want initial state true", boolean)
	}
}

func TestParseHandleUnknownModes(t *testing.T) {
	reject := parseTestPolicy(t, testBuilder().RejectUnknown())
	if reject.HandleUnknown() != policy.RejectUnknown {
		t.Errorf("HandleUnknown = %v, want RejectUnknown", reject.HandleUnknown())
	}

	allow := parseTestPolicy(t, testBuilder().AllowUnknown())
	if allow.HandleUnknown() != policy.AllowUnknown {
		t.Errorf("HandleUnknown = %v, want AllowUnknown", allow.HandleUnknown())
	}
}

func TestParseRejectsDamage(t *testing.T) {
	valid := testBuilder().Build()

	t.Run("bad magic", func(t *testing.T) {
		blob := append([]byte(nil), valid...)
		blob[0] = 0
		if _, err := policy.Parse(blob); err == nil {
			t.Error("Parse accepted a blob with a corrupt magic")
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		blob := append(append([]byte(nil), valid...), 0xde, 0xad)
		_, err := policy.Parse(blob)
		if err == nil {
			t.Fatal("Parse accepted trailing bytes")
		}
		if !strings.Contains(err.Error(), "trailing") {
			t.Errorf("error %q should mention trailing bytes", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		for _, cut := range []int{1, 16, len(valid) / 2, len(valid) - 1} {
			if _, err := policy.Parse(valid[:cut]); err == nil {
				t.Errorf("Parse accepted a blob truncated to %d bytes", cut)
			}
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		if _, err := policy.Parse(testBuilder().SetVersion(29).Build()); err == nil {
			t.Error("Parse accepted version 29")
		}
	})
}

func TestParseErrorCarriesOffset(t *testing.T) {
	_, err := policy.Parse([]byte{0x01, 0x02})
	if err == nil {
		t.Fatal("Parse accepted a two-byte blob")
	}
	var parseErr *policy.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error %T should wrap a ParseError", err)
	}
}

func TestParseRejectsInvalidUserRange(t *testing.T) {
	// The user's high level does not dominate its low level.
	b := policytest.NewBuilder().
		AddClass("process", "fork").
		AddRole("object_r").
		AddType("kernel_t").
		AddSensitivity("s0").
		AddSensitivity("s1").
		AddUser("bad_u", []string{"object_r"},
			policytest.Level{Sens: "s1"},
			&policytest.Level{Sens: "s0"})

	_, err := policy.Parse(b.Build())
	if err == nil {
		t.Fatal("Parse accepted a user with an inverted MLS range")
	}
	var rangeErr *policy.InvalidMLSRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("error %v should wrap InvalidMLSRangeError", err)
	}
	if rangeErr.Low != "s1" || rangeErr.High != "s0" {
		t.Errorf("InvalidMLSRangeError = %+v, want low s1 high s0", rangeErr)
	}
}

func TestComputeExplicitlyAllowed(t *testing.T) {
	b := testBuilder().
		Allow("app_t", "file_t", "file", "read", "open").
		Allow("domain", "etc_t", "file", "read").
		AuditAllow("app_t", "file_t", "file", "write").
		DontAudit("app_t", "file_t", "file", "execute")
	p := parseTestPolicy(t, b)

	appT := p.TypeByName("app_t").ID
	fileT := p.TypeByName("file_t").ID
	etcT := p.TypeByName("etc_t").ID
	fileClass := p.ClassByName("file").ID

	t.Run("direct allow", func(t *testing.T) {
		for _, perm := range []string{"read", "open"} {
			allowed, err := p.IsExplicitlyAllowed(appT, fileT, fileClass, perm)
			if err != nil {
				t.Fatalf("IsExplicitlyAllowed(%s): %v", perm, err)
			}
			if !allowed {
				t.Errorf("%s should be allowed", perm)
			}
		}
		allowed, err := p.IsExplicitlyAllowed(appT, fileT, fileClass, "write")
		if err != nil {
			t.Fatalf("IsExplicitlyAllowed(write): %v", err)
		}
		if allowed {
			t.Error("write should not be allowed")
		}
	})

	t.Run("via attribute", func(t *testing.T) {
		// The rule names the domain attribute; app_t carries it.
		allowed, err := p.IsExplicitlyAllowed(appT, etcT, fileClass, "read")
		if err != nil {
			t.Fatalf("IsExplicitlyAllowed: %v", err)
		}
		if !allowed {
			t.Error("attribute-granted read should be allowed")
		}

		// file_t does not carry the attribute, so as a source it gains
		// nothing.
		allowed, err = p.IsExplicitlyAllowed(fileT, etcT, fileClass, "read")
		if err != nil {
			t.Fatalf("IsExplicitlyAllowed: %v", err)
		}
		if allowed {
			t.Error("file_t should not gain the attribute's permissions")
		}
	})

	t.Run("audit accumulation", func(t *testing.T) {
		decision := p.ComputeExplicitlyAllowed(appT, fileT, fileClass)
		if decision.AuditAllow == policy.AccessVectorNone {
			t.Error("auditallow bits should be set")
		}
		if decision.AuditDeny == policy.AccessVectorAll {
			t.Error("dontaudit should clear audit-deny bits")
		}
	})

	t.Run("unknown permission", func(t *testing.T) {
		if _, err := p.IsExplicitlyAllowed(appT, fileT, fileClass, "teleport"); err == nil {
			t.Error("unknown permission name should be an error")
		}
	})

	t.Run("unrelated pair denied", func(t *testing.T) {
		decision := p.ComputeExplicitlyAllowed(etcT, fileT, fileClass)
		if decision.Allow != policy.AccessVectorNone {
			t.Errorf("Allow = %#x, want none", decision.Allow)
		}
		if decision.AuditDeny != policy.AccessVectorAll {
			t.Errorf("AuditDeny = %#x, want all (denials audited by default)", decision.AuditDeny)
		}
	})
}

func TestComputeExplicitlyAllowedCustomUnknownClass(t *testing.T) {
	deny := parseTestPolicy(t, testBuilder())
	appT := deny.TypeByName("app_t").ID
	fileT := deny.TypeByName("file_t").ID

	decision := deny.ComputeExplicitlyAllowedCustom(appT, fileT, "blockchain")
	if decision.Allow != policy.AccessVectorNone {
		t.Errorf("deny-unknown policy: Allow = %#x, want none", decision.Allow)
	}

	allow := parseTestPolicy(t, testBuilder().AllowUnknown())
	appT = allow.TypeByName("app_t").ID
	fileT = allow.TypeByName("file_t").ID

	decision = allow.ComputeExplicitlyAllowedCustom(appT, fileT, "blockchain")
	if decision.Allow != policy.AccessVectorAll {
		t.Errorf("allow-unknown policy: Allow = %#x, want all", decision.Allow)
	}
}

func TestIsPermissive(t *testing.T) {
	p := parseTestPolicy(t, testBuilder().SetPermissive("app_t"))

	if !p.IsPermissive(p.TypeByName("app_t").ID) {
		t.Error("app_t should be permissive")
	}
	if p.IsPermissive(p.TypeByName("file_t").ID) {
		t.Error("file_t should not be permissive")
	}

	decision := p.ComputeExplicitlyAllowed(
		p.TypeByName("app_t").ID, p.TypeByName("file_t").ID, p.ClassByName("file").ID)
	if decision.Flags&policy.FlagPermissive == 0 {
		t.Error("decision for a permissive source should carry FlagPermissive")
	}
}

func TestIsBoundedBy(t *testing.T) {
	b := testBuilder().
		SetTypeBounds("app_t", "init_t").
		SetTypeBounds("init_t", "kernel_t")
	p := parseTestPolicy(t, b)

	appT := p.TypeByName("app_t").ID
	initT := p.TypeByName("init_t").ID
	kernelT := p.TypeByName("kernel_t").ID
	fileT := p.TypeByName("file_t").ID

	if !p.IsBoundedBy(appT, initT) {
		t.Error("app_t should be bounded by init_t")
	}
	if !p.IsBoundedBy(appT, kernelT) {
		t.Error("bounds should chain transitively to kernel_t")
	}
	if p.IsBoundedBy(initT, appT) {
		t.Error("bounds are not symmetric")
	}
	if p.IsBoundedBy(fileT, kernelT) {
		t.Error("unbounded type should not report a bound")
	}
}

func TestConditionalRulesParsed(t *testing.T) {
	b := testBuilder().
		ConditionalAllow("allow_execmem", "app_t", "file_t", "file", "execute")
	p := parseTestPolicy(t, b)

	nodes := p.Conditionals()
	if len(nodes) != 1 {
		t.Fatalf("len(Conditionals) = %d, want 1", len(nodes))
	}
	if !nodes[0].CurrentState {
		t.Error("node state should reflect the boolean's initial value")
	}
	if len(nodes[0].TrueRules) != 1 || len(nodes[0].FalseRules) != 0 {
		t.Errorf("rule lists = %d/%d, want 1/0", len(nodes[0].TrueRules), len(nodes[0].FalseRules))
	}

	// Conditional rules are not folded into the unconditional
	// computation.
	allowed, err := p.IsExplicitlyAllowed(
		p.TypeByName("app_t").ID, p.TypeByName("file_t").ID, p.ClassByName("file").ID, "execute")
	if err != nil {
		t.Fatalf("IsExplicitlyAllowed: %v", err)
	}
	if allowed {
		t.Error("conditional rule should not appear in unconditional results")
	}
}

func TestInitialContext(t *testing.T) {
	p := parseTestPolicy(t, testBuilder())

	kernel, ok := p.InitialContext(1)
	if !ok {
		t.Fatal("InitialContext(1) not found")
	}
	if got := p.SerializeSecurityContext(&kernel); got != "system_u:system_r:kernel_t:s0" {
		t.Errorf("kernel context = %q", got)
	}

	if _, ok := p.InitialContext(9999); ok {
		t.Error("InitialContext should report absence for undefined SIDs")
	}
}

func TestFsUseLabelAndType(t *testing.T) {
	low := policytest.Level{Sens: "s0"}
	b := testBuilder().
		AddFsUse(policytest.FsUseXattr, "ext4", policytest.Context{
			User: "system_u", Role: "object_r", Type: "file_t", Low: low,
		}).
		AddFsUse(policytest.FsUseTask, "pipefs", policytest.Context{
			User: "system_u", Role: "object_r", Type: "file_t", Low: low,
		})
	p := parseTestPolicy(t, b)

	scheme, context, ok := p.FsUseLabelAndType("ext4")
	if !ok {
		t.Fatal("FsUseLabelAndType(ext4) not found")
	}
	if scheme != policy.FsUseXattr {
		t.Errorf("scheme = %v, want FsUseXattr", scheme)
	}
	if got := p.SerializeSecurityContext(&context); got != "system_u:object_r:file_t:s0" {
		t.Errorf("context = %q", got)
	}

	if _, _, ok := p.FsUseLabelAndType("nfs"); ok {
		t.Error("FsUseLabelAndType should report absence for undeclared filesystems")
	}
}

func TestGenfsconLongestPrefix(t *testing.T) {
	low := policytest.Level{Sens: "s0"}
	object := func(typ string) policytest.Context {
		return policytest.Context{User: "system_u", Role: "object_r", Type: typ, Low: low}
	}
	b := testBuilder().
		AddGenfscon("proc", "/", "", object("file_t")).
		AddGenfscon("proc", "/sys", "", object("etc_t")).
		AddGenfscon("proc", "/sys/net", "file", object("unlabeled_t"))
	p := parseTestPolicy(t, b)

	fileClass := p.ClassByName("file").ID
	processClass := p.ClassByName("process").ID

	tests := []struct {
		path  string
		class policy.ClassID
		want  string
	}{
		{"/", 0, "file_t"},
		{"/version", 0, "file_t"},
		{"/sys", 0, "etc_t"},
		{"/sys/kernel", 0, "etc_t"},
		{"/sys/net/core", fileClass, "unlabeled_t"},
		// The class-qualified entry does not match other classes; the
		// unqualified /sys entry still does.
		{"/sys/net/core", processClass, "etc_t"},
	}
	for _, tt := range tests {
		context, ok := p.GenfsconLabelForFsAndPath("proc", tt.path, tt.class)
		if !ok {
			t.Errorf("GenfsconLabelForFsAndPath(proc, %q) not found", tt.path)
			continue
		}
		if typeName := p.TypeByName(tt.want); context.Type != typeName.ID {
			t.Errorf("GenfsconLabelForFsAndPath(proc, %q, class %d) type = %d, want %s",
				tt.path, tt.class, context.Type, tt.want)
		}
	}

	if _, ok := p.GenfsconLabelForFsAndPath("sysfs", "/", 0); ok {
		t.Error("GenfsconLabelForFsAndPath should report absence for undeclared filesystems")
	}
}
