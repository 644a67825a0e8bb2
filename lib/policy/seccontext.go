// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecurityContext is the parsed form of a
// "user:role:type:level[-level]" label. Field identifiers are only
// meaningful relative to the Policy the context was parsed against;
// contexts must not be compared across policies.
type SecurityContext struct {
	User UserID
	Role RoleID
	Type TypeID

	// Low is the context's (lowest) security level. High is set only
	// when the label carries a range.
	Low  SecurityLevel
	High *SecurityLevel
}

// EffectiveHigh returns the context's high level, or its low level
// when the label has no range.
func (c *SecurityContext) EffectiveHigh() SecurityLevel {
	if c.High != nil {
		return *c.High
	}
	return c.Low
}

// Equal reports whether two contexts have identical field values.
func (c *SecurityContext) Equal(other *SecurityContext) bool {
	if c.User != other.User || c.Role != other.Role || c.Type != other.Type {
		return false
	}
	if !c.Low.Equal(other.Low) {
		return false
	}
	if (c.High == nil) != (other.High == nil) {
		return false
	}
	return c.High == nil || c.High.Equal(*other.High)
}

// SecurityLevel is an MLS level: a sensitivity plus a set of
// categories held in normalized span form. Every reachable instance is
// normalized: spans sorted by (low, high) with overlapping or adjacent
// spans merged, so serialization is stable and comparison is a linear
// merge-walk.
type SecurityLevel struct {
	Sensitivity SensitivityID
	Categories  []CategorySpan
}

// CategorySpan is an inclusive, possibly singleton, range of category
// identifiers.
type CategorySpan struct {
	Low  CategoryID
	High CategoryID
}

// Equal reports whether two levels have the same sensitivity and
// category content. Both sides are normalized, so slice equality
// suffices.
func (l SecurityLevel) Equal(other SecurityLevel) bool {
	if l.Sensitivity != other.Sensitivity || len(l.Categories) != len(other.Categories) {
		return false
	}
	for i, span := range l.Categories {
		if span != other.Categories[i] {
			return false
		}
	}
	return true
}

// Compare implements the MLS dominance partial order. It returns -1,
// 0, or +1 when the levels are comparable, and comparable=false when
// the sensitivity order and the category-set containment order
// strictly disagree.
func (l SecurityLevel) Compare(other SecurityLevel) (order int, comparable bool) {
	sensitivityOrder := 0
	switch {
	case l.Sensitivity < other.Sensitivity:
		sensitivityOrder = -1
	case l.Sensitivity > other.Sensitivity:
		sensitivityOrder = 1
	}
	categoryOrder, comparable := compareCategorySets(l.Categories, other.Categories)
	if !comparable {
		return 0, false
	}
	switch {
	case sensitivityOrder == categoryOrder, categoryOrder == 0:
		return sensitivityOrder, true
	case sensitivityOrder == 0:
		return categoryOrder, true
	}
	// Sensitivity order and category order are strictly opposed.
	return 0, false
}

// Dominates reports whether l is at least as high as other: equal or
// greater in the combined partial order. Note that !a.Dominates(b)
// does not imply b.Dominates(a); incomparable levels dominate in
// neither direction.
func (l SecurityLevel) Dominates(other SecurityLevel) bool {
	order, comparable := l.Compare(other)
	return comparable && order >= 0
}

// compareCategorySets computes the set-containment partial order over
// two normalized span lists with a single merge-walk that tracks
// containment in both directions simultaneously.
func compareCategorySets(a, b []CategorySpan) (order int, comparable bool) {
	aContainsB, bContainsA := true, true

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		spanA, spanB := a[i], b[j]
		if spanA.High < spanB.Low {
			bContainsA = false
		} else if spanB.High < spanA.Low {
			aContainsB = false
		} else {
			spanOrder, spanComparable := compareSpans(spanA, spanB)
			if !spanComparable {
				return 0, false
			}
			switch spanOrder {
			case -1:
				aContainsB = false
			case 1:
				bContainsA = false
			}
			if !aContainsB && !bContainsA {
				return 0, false
			}
		}
		if spanA.High <= spanB.High {
			i++
		}
		if spanB.High <= spanA.High {
			j++
		}
	}
	if i < len(a) {
		bContainsA = false
	} else if j < len(b) {
		aContainsB = false
	}
	switch {
	case aContainsB && bContainsA:
		return 0, true
	case aContainsB:
		return 1, true
	case bContainsA:
		return -1, true
	}
	return 0, false
}

// compareSpans orders two overlapping spans by containment.
func compareSpans(a, b CategorySpan) (order int, comparable bool) {
	switch {
	case a.Low == b.Low && a.High == b.High:
		return 0, true
	case a.Low <= b.Low && a.High >= b.High:
		return 1, true
	case b.Low <= a.Low && b.High >= a.High:
		return -1, true
	}
	return 0, false
}

// normalizeSpans sorts spans by (low, high) and merges overlapping and
// numerically adjacent spans. Normalizing an already-normalized list
// is a no-op.
func normalizeSpans(spans []CategorySpan) []CategorySpan {
	if len(spans) == 0 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Low != spans[j].Low {
			return spans[i].Low < spans[j].Low
		}
		return spans[i].High < spans[j].High
	})
	normalized := spans[:1]
	for _, current := range spans[1:] {
		last := &normalized[len(normalized)-1]
		if current.Low <= last.High || uint32(current.Low)-uint32(last.High) == 1 {
			if current.High > last.High {
				last.High = current.High
			}
		} else {
			normalized = append(normalized, current)
		}
	}
	return normalized
}

// spansFromBitmap converts a binary category bitmap (0-based bits)
// into normalized spans of 1-based category identifiers.
func spansFromBitmap(bitmap Bitmap) []CategorySpan {
	var spans []CategorySpan
	bitmap.forEach(func(bit uint32) {
		id := CategoryID(bit + 1)
		if n := len(spans); n > 0 && spans[n-1].High+1 == id {
			spans[n-1].High = id
			return
		}
		spans = append(spans, CategorySpan{Low: id, High: id})
	})
	return spans
}

// ErrInvalidSyntax is returned when a label does not match the
// security context grammar.
var ErrInvalidSyntax = errors.New("security context syntax is invalid")

// UnknownSymbolError is returned when a label names a user, role,
// type, sensitivity, or category the policy does not define.
type UnknownSymbolError struct {
	Kind string
	Name string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("%s %q not defined by policy", e.Kind, e.Name)
}

// RoleNotAllowedError is returned when a context's role is neither the
// object role nor a role declared for the context's user.
type RoleNotAllowedError struct {
	Role string
	User string
}

func (e *RoleNotAllowedError) Error() string {
	return fmt.Sprintf("role %q not valid for user %q", e.Role, e.User)
}

// SensitivityNotAllowedError is returned when a context's sensitivity
// falls outside its user's declared MLS range.
type SensitivityNotAllowedError struct {
	Sensitivity string
	User        string
}

func (e *SensitivityNotAllowedError) Error() string {
	return fmt.Sprintf("sensitivity %q not valid for user %q", e.Sensitivity, e.User)
}

// InvalidRangeError is returned when a context's high level does not
// dominate its low level. The fields carry the serialized levels for
// diagnosability.
type InvalidRangeError struct {
	Low  string
	High string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("high security level %q does not dominate low level %q", e.High, e.Low)
}

// ParseSecurityContext parses a "user:role:type:levels" label against
// the policy, resolving each named component to its identifier. The
// levels part is "<level>[-<level>]" with each level
// "<sensitivity>[:<category>[,<category>]*]" and each category entry
// either a bare name or an inclusive "low.high" range. The returned
// context is syntactically resolved but not validated; call
// ValidateSecurityContext to check role and MLS-range consistency.
func (p *Policy) ParseSecurityContext(label string) (SecurityContext, error) {
	parts := strings.SplitN(label, ":", 4)
	if len(parts) != 4 {
		return SecurityContext{}, ErrInvalidSyntax
	}
	user := p.UserByName(parts[0])
	if user == nil {
		return SecurityContext{}, &UnknownSymbolError{Kind: "user", Name: parts[0]}
	}
	role := p.RoleByName(parts[1])
	if role == nil {
		return SecurityContext{}, &UnknownSymbolError{Kind: "role", Name: parts[1]}
	}
	typ := p.TypeByName(parts[2])
	if typ == nil {
		return SecurityContext{}, &UnknownSymbolError{Kind: "type", Name: parts[2]}
	}
	levels := strings.Split(parts[3], "-")
	if len(levels) > 2 || levels[0] == "" {
		return SecurityContext{}, ErrInvalidSyntax
	}
	low, err := p.parseSecurityLevel(levels[0])
	if err != nil {
		return SecurityContext{}, err
	}
	var high *SecurityLevel
	if len(levels) == 2 {
		if levels[1] == "" {
			return SecurityContext{}, ErrInvalidSyntax
		}
		parsed, err := p.parseSecurityLevel(levels[1])
		if err != nil {
			return SecurityContext{}, err
		}
		high = &parsed
	}
	return SecurityContext{
		User: user.ID,
		Role: role.ID,
		Type: typ.ID,
		Low:  low,
		High: high,
	}, nil
}

func (p *Policy) parseSecurityLevel(level string) (SecurityLevel, error) {
	parts := strings.Split(level, ":")
	if len(parts) > 2 || parts[0] == "" {
		return SecurityLevel{}, ErrInvalidSyntax
	}
	sensitivity := p.SensitivityByName(parts[0])
	if sensitivity == nil {
		return SecurityLevel{}, &UnknownSymbolError{Kind: "sensitivity", Name: parts[0]}
	}
	var spans []CategorySpan
	if len(parts) == 2 {
		for _, entry := range strings.Split(parts[1], ",") {
			lowName, highName, isRange := strings.Cut(entry, ".")
			low, err := p.categoryIDByName(lowName)
			if err != nil {
				return SecurityLevel{}, err
			}
			high := low
			if isRange {
				if high, err = p.categoryIDByName(highName); err != nil {
					return SecurityLevel{}, err
				}
				if high <= low {
					return SecurityLevel{}, ErrInvalidSyntax
				}
			}
			spans = append(spans, CategorySpan{Low: low, High: high})
		}
	}
	return SecurityLevel{
		Sensitivity: sensitivity.ID(),
		Categories:  normalizeSpans(spans),
	}, nil
}

func (p *Policy) categoryIDByName(name string) (CategoryID, error) {
	category := p.CategoryByName(name)
	if category == nil {
		return 0, &UnknownSymbolError{Kind: "category", Name: name}
	}
	return category.ID, nil
}

// SerializeSecurityContext returns the canonical string form of a
// context. Categories always serialize in normalized form, so the
// output may differ textually from the label the context was parsed
// from while re-parsing to an equal context.
func (p *Policy) SerializeSecurityContext(context *SecurityContext) string {
	var b strings.Builder
	b.WriteString(p.user(context.User).Name)
	b.WriteByte(':')
	b.WriteString(p.role(context.Role).Name)
	b.WriteByte(':')
	b.WriteString(p.typeByID(context.Type).Name)
	b.WriteByte(':')
	p.serializeLevel(&b, context.Low)
	if context.High != nil {
		b.WriteByte('-')
		p.serializeLevel(&b, *context.High)
	}
	return b.String()
}

func (p *Policy) serializeLevel(b *strings.Builder, level SecurityLevel) {
	b.WriteString(p.sensitivity(level.Sensitivity).Name)
	for i, span := range level.Categories {
		if i == 0 {
			b.WriteByte(':')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(p.category(span.Low).Name)
		if span.High != span.Low {
			b.WriteByte('.')
			b.WriteString(p.category(span.High).Name)
		}
	}
}

// ValidateSecurityContext checks a parsed context against the policy's
// per-user constraints: the role must be the object role or one
// declared for the user, both sensitivities must lie in the user's MLS
// range, and the high level (when present) must dominate the low.
func (p *Policy) ValidateSecurityContext(context *SecurityContext) error {
	user := p.user(context.User)

	// Resources carry the well-known object role, which no user
	// declares explicitly; it is always accepted. Role identifiers are
	// 1-based while role bitmaps are 0-based.
	if context.Role != p.objectRole && !user.Roles.IsSet(uint32(context.Role)-1) {
		return &RoleNotAllowedError{
			Role: p.role(context.Role).Name,
			User: user.Name,
		}
	}

	validLow := user.Range.Low.Sensitivity
	validHigh := user.Range.HighOrLow().Sensitivity
	if context.Low.Sensitivity < validLow || context.Low.Sensitivity > validHigh {
		return &SensitivityNotAllowedError{
			Sensitivity: p.sensitivity(context.Low.Sensitivity).Name,
			User:        user.Name,
		}
	}
	if context.High != nil {
		if context.High.Sensitivity < validLow || context.High.Sensitivity > validHigh {
			return &SensitivityNotAllowedError{
				Sensitivity: p.sensitivity(context.High.Sensitivity).Name,
				User:        user.Name,
			}
		}
		if !context.High.Dominates(context.Low) {
			return &InvalidRangeError{
				Low:  p.serializeLevelString(context.Low),
				High: p.serializeLevelString(*context.High),
			}
		}
	}
	return nil
}

func (p *Policy) serializeLevelString(level SecurityLevel) string {
	var b strings.Builder
	p.serializeLevel(&b, level)
	return b.String()
}
