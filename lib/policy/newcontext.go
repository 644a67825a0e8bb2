// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// contextDefaults carries the per-kind fallback fields used when the
// target class declares no default_* statements. Process-like objects
// inherit from the creating context; file-like objects take the
// object role, the target's type, and the creator's low level.
type contextDefaults struct {
	role   RoleID
	typeID TypeID
	low    SecurityLevel
	high   *SecurityLevel
}

// NewSecurityContext computes the context of a new process-like object
// created by source over target. Absent class defaults and transition
// rules, the new context inherits the source's role, type, and range.
func (p *Policy) NewSecurityContext(source, target *SecurityContext, class ClassID) (SecurityContext, error) {
	return p.newSecurityContext(source, target, class, contextDefaults{
		role:   source.Role,
		typeID: source.Type,
		low:    source.Low,
		high:   source.High,
	})
}

// NewFileSecurityContext computes the context of a new file-like
// object created by source on target (the parent directory or
// filesystem). Absent class defaults and transition rules, the new
// context takes the object role, the target's type, and the source's
// low security level.
func (p *Policy) NewFileSecurityContext(source, target *SecurityContext, class ClassID) (SecurityContext, error) {
	return p.newSecurityContext(source, target, class, contextDefaults{
		role:   p.objectRole,
		typeID: target.Type,
		low:    source.Low,
	})
}

// NewFileSecurityContextByName computes a new file-like object's
// context honoring filename transition rules: when a rule matches the
// object's name exactly, its new type overrides every other type
// source.
func (p *Policy) NewFileSecurityContextByName(source, target *SecurityContext, class ClassID, name string) (SecurityContext, error) {
	context, err := p.NewFileSecurityContext(source, target, class)
	if err != nil {
		return SecurityContext{}, err
	}
	for i := range p.filenameTransitions {
		ft := &p.filenameTransitions[i]
		if ft.Name != name || ft.Class != class || ft.TargetType != target.Type {
			continue
		}
		if !ft.SourceTypes.IsSet(uint32(source.Type) - 1) {
			continue
		}
		context.Type = ft.NewType
		break
	}
	return context, nil
}

func (p *Policy) newSecurityContext(source, target *SecurityContext, class ClassID, defaults contextDefaults) (SecurityContext, error) {
	c := p.class(class)
	if c == nil {
		return SecurityContext{}, fmt.Errorf("class %d not defined by policy", class)
	}

	context := SecurityContext{User: source.User}
	if c.Defaults.User == defaultTarget {
		context.User = target.User
	}

	context.Role = defaults.role
	switch c.Defaults.Role {
	case defaultSource:
		context.Role = source.Role
	case defaultTarget:
		context.Role = target.Role
	}

	context.Type = defaults.typeID
	switch c.Defaults.Type {
	case defaultSource:
		context.Type = source.Type
	case defaultTarget:
		context.Type = target.Type
	}
	// A type transition rule overrides the class default.
	if newType, ok := p.typeTransition(source.Type, target.Type, class); ok {
		context.Type = newType
	}

	context.Low, context.High = p.defaultRange(c.Defaults.Range, source, target, defaults)
	// A range transition rule overrides the class default.
	for i := range p.rangeTransitions {
		rt := &p.rangeTransitions[i]
		if rt.SourceType == source.Type && rt.TargetType == target.Type && rt.Class == class {
			context.Low = rt.Range.Low.level()
			context.High = nil
			if rt.Range.High != nil {
				high := rt.Range.High.level()
				context.High = &high
			}
			break
		}
	}

	if context.High != nil && context.High.Equal(context.Low) {
		context.High = nil
	}
	return context, nil
}

// typeTransition finds the unconditional type_transition rule for the
// triple, resolving attribute membership for the source and target.
func (p *Policy) typeTransition(sourceType, targetType TypeID, class ClassID) (TypeID, bool) {
	for i := range p.rules {
		rule := &p.rules[i]
		if !rule.IsTypeTransition() || rule.Class != class {
			continue
		}
		if !p.typeMatches(sourceType, rule.SourceType) || !p.typeMatches(targetType, rule.TargetType) {
			continue
		}
		newType, _ := rule.NewType()
		return newType, true
	}
	return 0, false
}

// defaultRange applies the class's default_range statement, falling
// back to the per-kind default.
func (p *Policy) defaultRange(selector uint32, source, target *SecurityContext, defaults contextDefaults) (SecurityLevel, *SecurityLevel) {
	switch selector {
	case defaultRangeSourceLow:
		return source.Low, nil
	case defaultRangeSourceHigh:
		return source.EffectiveHigh(), nil
	case defaultRangeSourceLowHigh:
		return source.Low, source.High
	case defaultRangeTargetLow:
		return target.Low, nil
	case defaultRangeTargetHigh:
		return target.EffectiveHigh(), nil
	case defaultRangeTargetLowHigh:
		return target.Low, target.High
	case defaultRangeGlbLub:
		return glbLubRange(source, target)
	}
	return defaults.low, defaults.high
}

// glbLubRange intersects the source and target ranges: the new low is
// the least upper bound of the two lows, the new high the greatest
// lower bound of the two highs.
func glbLubRange(source, target *SecurityContext) (SecurityLevel, *SecurityLevel) {
	low := SecurityLevel{
		Sensitivity: maxSensitivity(source.Low.Sensitivity, target.Low.Sensitivity),
		Categories:  intersectSpans(source.Low.Categories, target.Low.Categories),
	}
	sourceHigh := source.EffectiveHigh()
	targetHigh := target.EffectiveHigh()
	high := SecurityLevel{
		Sensitivity: minSensitivity(sourceHigh.Sensitivity, targetHigh.Sensitivity),
		Categories:  intersectSpans(sourceHigh.Categories, targetHigh.Categories),
	}
	if high.Equal(low) {
		return low, nil
	}
	return low, &high
}

func maxSensitivity(a, b SensitivityID) SensitivityID {
	if a > b {
		return a
	}
	return b
}

func minSensitivity(a, b SensitivityID) SensitivityID {
	if a < b {
		return a
	}
	return b
}

// intersectSpans computes the intersection of two normalized span
// lists with a merge-walk. The result is normalized.
func intersectSpans(a, b []CategorySpan) []CategorySpan {
	var out []CategorySpan
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		low := a[i].Low
		if b[j].Low > low {
			low = b[j].Low
		}
		high := a[i].High
		if b[j].High < high {
			high = b[j].High
		}
		if low <= high {
			out = append(out, CategorySpan{Low: low, High: high})
		}
		if a[i].High <= b[j].High {
			i++
		} else {
			j++
		}
	}
	return out
}
