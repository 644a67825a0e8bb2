// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// AccessVector is a bit-mask with one bit per permission of some
// object class.
type AccessVector uint32

const (
	// AccessVectorNone grants no permissions.
	AccessVectorNone AccessVector = 0

	// AccessVectorAll grants every permission.
	AccessVectorAll AccessVector = 0xffffffff
)

// FlagPermissive is set on an AccessDecision when the source type is
// in the policy's permissive set, so denials are logged but not
// enforced.
const FlagPermissive uint32 = 0x0001

// AccessDecision is the result of an access computation: which
// permissions are allowed, which should be audit-logged when allowed,
// and which should be audit-logged when denied.
type AccessDecision struct {
	Allow      AccessVector
	AuditAllow AccessVector
	AuditDeny  AccessVector
	Flags      uint32
}

// AllowAll is the decision used before any policy is loaded and for
// unknown classes under the allow-unknown disposition.
func AllowAll() AccessDecision {
	return AccessDecision{Allow: AccessVectorAll, AuditDeny: AccessVectorAll}
}

// AllowNone denies all permissions while still auditing denials.
func AllowNone() AccessDecision {
	return AccessDecision{Allow: AccessVectorNone, AuditDeny: AccessVectorAll}
}

// Access vector rule kinds. A rule's kind field is a bit-set, though
// compilers emit exactly one kind per entry.
const (
	avKindAllow           uint16 = 0x0001
	avKindAuditAllow      uint16 = 0x0002
	avKindAuditDeny       uint16 = 0x0004
	avKindTransition      uint16 = 0x0010
	avKindMember          uint16 = 0x0020
	avKindChange          uint16 = 0x0040
	avKindXPermsAllow     uint16 = 0x0100
	avKindXPermsAudit     uint16 = 0x0200
	avKindXPermsDontAudit uint16 = 0x0400
)

const avKindXPermsMask = avKindXPermsAllow | avKindXPermsAudit | avKindXPermsDontAudit

// ExtendedPermissions is the 256-bit operand mask carried by extended
// permission (ioctl allowlisting) rules.
type ExtendedPermissions struct {
	Specified uint8
	Driver    uint8
	Perms     [8]uint32
}

// AccessVectorRule relates a source type, a target type, and a target
// class. The data word is a permission mask for allow/audit kinds and
// a new type identifier for transition/member/change kinds. The source
// and target may name attributes; membership is resolved through the
// policy's attribute bitmaps at query time.
type AccessVectorRule struct {
	SourceType TypeID
	TargetType TypeID
	Class      ClassID
	Kind       uint16
	Data       uint32
	XPerms     *ExtendedPermissions
}

// IsAllow reports whether the rule grants permissions.
func (r *AccessVectorRule) IsAllow() bool { return r.Kind&avKindAllow != 0 }

// IsAuditAllow reports whether the rule marks permissions for audit
// logging when granted.
func (r *AccessVectorRule) IsAuditAllow() bool { return r.Kind&avKindAuditAllow != 0 }

// IsDontAudit reports whether the rule suppresses audit logging of
// denials. The data word carries the permissions that should still be
// audited, i.e. the suppressed bits are cleared.
func (r *AccessVectorRule) IsDontAudit() bool { return r.Kind&avKindAuditDeny != 0 }

// IsTypeTransition reports whether the rule names a new type for
// objects created in the (source, target, class) triple.
func (r *AccessVectorRule) IsTypeTransition() bool { return r.Kind&avKindTransition != 0 }

// PermissionMask returns the rule's permission mask for allow and
// audit rules.
func (r *AccessVectorRule) PermissionMask() (AccessVector, bool) {
	if r.Kind&(avKindAllow|avKindAuditAllow|avKindAuditDeny) == 0 {
		return 0, false
	}
	return AccessVector(r.Data), true
}

// NewType returns the type the rule assigns to new objects, for
// transition, member, and change rules.
func (r *AccessVectorRule) NewType() (TypeID, bool) {
	if r.Kind&(avKindTransition|avKindMember|avKindChange) == 0 {
		return 0, false
	}
	return TypeID(r.Data), true
}

func parseAccessVectorRules(r *reader) ([]AccessVectorRule, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	rules := make([]AccessVectorRule, 0, count)
	for i := uint32(0); i < count; i++ {
		rule, err := parseAccessVectorRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseAccessVectorRule(r *reader) (AccessVectorRule, error) {
	source, err := r.u16()
	if err != nil {
		return AccessVectorRule{}, err
	}
	target, err := r.u16()
	if err != nil {
		return AccessVectorRule{}, err
	}
	class, err := r.u16()
	if err != nil {
		return AccessVectorRule{}, err
	}
	kind, err := r.u16()
	if err != nil {
		return AccessVectorRule{}, err
	}
	rule := AccessVectorRule{
		SourceType: TypeID(source),
		TargetType: TypeID(target),
		Class:      ClassID(class),
		Kind:       kind,
	}
	if kind&avKindXPermsMask != 0 {
		xperms := &ExtendedPermissions{}
		specified, err := r.bytes(1)
		if err != nil {
			return AccessVectorRule{}, err
		}
		xperms.Specified = specified[0]
		driver, err := r.bytes(1)
		if err != nil {
			return AccessVectorRule{}, err
		}
		xperms.Driver = driver[0]
		for i := range xperms.Perms {
			if xperms.Perms[i], err = r.u32(); err != nil {
				return AccessVectorRule{}, err
			}
		}
		rule.XPerms = xperms
		return rule, nil
	}
	if rule.Data, err = r.u32(); err != nil {
		return AccessVectorRule{}, err
	}
	return rule, nil
}

// Conditional expression term kinds.
const (
	condExprBool uint32 = 1
	condExprNot  uint32 = 2
	condExprOr   uint32 = 3
	condExprAnd  uint32 = 4
	condExprXor  uint32 = 5
	condExprEq   uint32 = 6
	condExprNeq  uint32 = 7
)

// CondExprTerm is one postfix term of a conditional-rule expression
// over the policy's booleans.
type CondExprTerm struct {
	Kind    uint32
	Boolean uint32
}

// ConditionalNode gates two access-vector rule lists on a boolean
// expression. The current state is the compiled-in evaluation of the
// expression under the booleans' initial values. Conditional rules are
// parsed and validated but not folded into access computation.
type ConditionalNode struct {
	CurrentState bool
	Expression   []CondExprTerm
	TrueRules    []AccessVectorRule
	FalseRules   []AccessVectorRule
}

func parseConditionalNodes(r *reader) ([]ConditionalNode, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]ConditionalNode, 0, count)
	for i := uint32(0); i < count; i++ {
		state, err := r.u32()
		if err != nil {
			return nil, err
		}
		termCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		terms := make([]CondExprTerm, 0, termCount)
		for j := uint32(0); j < termCount; j++ {
			kind, err := r.u32()
			if err != nil {
				return nil, err
			}
			boolean, err := r.u32()
			if err != nil {
				return nil, err
			}
			terms = append(terms, CondExprTerm{Kind: kind, Boolean: boolean})
		}
		trueRules, err := parseAccessVectorRules(r)
		if err != nil {
			return nil, fmt.Errorf("conditional %d true list: %w", i, err)
		}
		falseRules, err := parseAccessVectorRules(r)
		if err != nil {
			return nil, fmt.Errorf("conditional %d false list: %w", i, err)
		}
		nodes = append(nodes, ConditionalNode{
			CurrentState: state != 0,
			Expression:   terms,
			TrueRules:    trueRules,
			FalseRules:   falseRules,
		})
	}
	return nodes, nil
}
