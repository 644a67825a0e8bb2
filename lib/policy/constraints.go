// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// Constraint term kinds, encoded postfix in the binary format.
const (
	constraintNot   uint32 = 1
	constraintAnd   uint32 = 2
	constraintOr    uint32 = 3
	constraintAttr  uint32 = 4
	constraintNames uint32 = 5
)

// Constraint attribute bits: which context fields the term compares.
const (
	constraintAttrUser    uint32 = 0x0001
	constraintAttrRole    uint32 = 0x0002
	constraintAttrType    uint32 = 0x0004
	constraintAttrTarget  uint32 = 0x0008
	constraintAttrXTarget uint32 = 0x0010
	constraintAttrL1L2    uint32 = 0x0020
	constraintAttrL1H2    uint32 = 0x0040
	constraintAttrH1L2    uint32 = 0x0080
	constraintAttrH1H2    uint32 = 0x0100
	constraintAttrL1H1    uint32 = 0x0200
	constraintAttrL2H2    uint32 = 0x0400
)

// Constraint comparison operators.
const (
	constraintOpEq     uint32 = 1
	constraintOpNeq    uint32 = 2
	constraintOpDom    uint32 = 3
	constraintOpDomBy  uint32 = 4
	constraintOpIncomp uint32 = 5
)

// ConstraintTerm is one postfix term of a constraint expression.
type ConstraintTerm struct {
	Kind      uint32
	Attribute uint32
	Op        uint32

	// Names and the type-set fields are populated only for
	// name-comparison terms.
	Names        Bitmap
	TypeSet      Bitmap
	TypeSetNeg   Bitmap
	TypeSetFlags uint32
}

// Constraint restricts the permissions in the mask to contexts for
// which the expression evaluates true.
type Constraint struct {
	Permissions uint32
	Expression  []ConstraintTerm
}

func parseConstraints(r *reader, count uint32) ([]Constraint, error) {
	constraints := make([]Constraint, 0, count)
	for i := uint32(0); i < count; i++ {
		permissions, err := r.u32()
		if err != nil {
			return nil, err
		}
		termCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		terms := make([]ConstraintTerm, 0, termCount)
		for j := uint32(0); j < termCount; j++ {
			term, err := parseConstraintTerm(r)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		}
		constraints = append(constraints, Constraint{Permissions: permissions, Expression: terms})
	}
	return constraints, nil
}

func parseConstraintTerm(r *reader) (ConstraintTerm, error) {
	kind, err := r.u32()
	if err != nil {
		return ConstraintTerm{}, err
	}
	attribute, err := r.u32()
	if err != nil {
		return ConstraintTerm{}, err
	}
	op, err := r.u32()
	if err != nil {
		return ConstraintTerm{}, err
	}
	term := ConstraintTerm{Kind: kind, Attribute: attribute, Op: op}
	if kind == constraintNames {
		if term.Names, err = parseBitmap(r); err != nil {
			return ConstraintTerm{}, err
		}
		if term.TypeSet, err = parseBitmap(r); err != nil {
			return ConstraintTerm{}, err
		}
		if term.TypeSetNeg, err = parseBitmap(r); err != nil {
			return ConstraintTerm{}, err
		}
		if term.TypeSetFlags, err = r.u32(); err != nil {
			return ConstraintTerm{}, err
		}
	}
	return term, nil
}

// evaluate runs the postfix expression against a source and target
// context. It returns an error for malformed expressions (unknown term
// kinds, stack underflow, or a non-singular final stack); load-time
// validation relies on this to reject policies whose constraints could
// never be evaluated.
func (c *Constraint) evaluate(source, target *SecurityContext) (bool, error) {
	var stack []bool
	pop := func() (bool, error) {
		if len(stack) == 0 {
			return false, fmt.Errorf("constraint expression underflows its stack")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	for _, term := range c.Expression {
		switch term.Kind {
		case constraintNot:
			v, err := pop()
			if err != nil {
				return false, err
			}
			stack = append(stack, !v)
		case constraintAnd:
			a, err := pop()
			if err != nil {
				return false, err
			}
			b, err := pop()
			if err != nil {
				return false, err
			}
			stack = append(stack, a && b)
		case constraintOr:
			a, err := pop()
			if err != nil {
				return false, err
			}
			b, err := pop()
			if err != nil {
				return false, err
			}
			stack = append(stack, a || b)
		case constraintAttr:
			v, err := term.evaluateAttr(source, target)
			if err != nil {
				return false, err
			}
			stack = append(stack, v)
		case constraintNames:
			v, err := term.evaluateNames(source, target)
			if err != nil {
				return false, err
			}
			stack = append(stack, v)
		default:
			return false, fmt.Errorf("constraint term has unknown kind %d", term.Kind)
		}
	}
	if len(stack) != 1 {
		return false, fmt.Errorf("constraint expression leaves %d values on its stack", len(stack))
	}
	return stack[0], nil
}

// evaluateAttr compares a field of the source context against the
// same field of the target context.
func (t *ConstraintTerm) evaluateAttr(source, target *SecurityContext) (bool, error) {
	switch {
	case t.Attribute&constraintAttrUser != 0:
		return compareIDs(uint32(source.User), uint32(target.User), t.Op)
	case t.Attribute&constraintAttrRole != 0:
		return compareIDs(uint32(source.Role), uint32(target.Role), t.Op)
	case t.Attribute&constraintAttrType != 0:
		return compareIDs(uint32(source.Type), uint32(target.Type), t.Op)
	}
	left, right, err := levelOperands(t.Attribute, source, target)
	if err != nil {
		return false, err
	}
	return compareLevels(left, right, t.Op)
}

// levelOperands selects the pair of security levels an MLS constraint
// attribute compares.
func levelOperands(attribute uint32, source, target *SecurityContext) (SecurityLevel, SecurityLevel, error) {
	switch attribute {
	case constraintAttrL1L2:
		return source.Low, target.Low, nil
	case constraintAttrL1H2:
		return source.Low, target.EffectiveHigh(), nil
	case constraintAttrH1L2:
		return source.EffectiveHigh(), target.Low, nil
	case constraintAttrH1H2:
		return source.EffectiveHigh(), target.EffectiveHigh(), nil
	case constraintAttrL1H1:
		return source.Low, source.EffectiveHigh(), nil
	case constraintAttrL2H2:
		return target.Low, target.EffectiveHigh(), nil
	}
	return SecurityLevel{}, SecurityLevel{}, fmt.Errorf("constraint term has unknown attribute %#x", attribute)
}

func compareIDs(left, right uint32, op uint32) (bool, error) {
	switch op {
	case constraintOpEq:
		return left == right, nil
	case constraintOpNeq:
		return left != right, nil
	}
	return false, fmt.Errorf("constraint operator %d is not valid for identifier comparison", op)
}

func compareLevels(left, right SecurityLevel, op uint32) (bool, error) {
	switch op {
	case constraintOpEq:
		order, comparable := left.Compare(right)
		return comparable && order == 0, nil
	case constraintOpNeq:
		order, comparable := left.Compare(right)
		return !comparable || order != 0, nil
	case constraintOpDom:
		return left.Dominates(right), nil
	case constraintOpDomBy:
		return right.Dominates(left), nil
	case constraintOpIncomp:
		_, comparable := left.Compare(right)
		return !comparable, nil
	}
	return false, fmt.Errorf("constraint operator %d is not valid for level comparison", op)
}

// evaluateNames checks membership of a context field in the term's
// name set. The field compared is the target's when the target bit is
// set, otherwise the source's.
func (t *ConstraintTerm) evaluateNames(source, target *SecurityContext) (bool, error) {
	context := source
	if t.Attribute&constraintAttrTarget != 0 || t.Attribute&constraintAttrXTarget != 0 {
		context = target
	}
	var id uint32
	switch {
	case t.Attribute&constraintAttrUser != 0:
		id = uint32(context.User)
	case t.Attribute&constraintAttrRole != 0:
		id = uint32(context.Role)
	case t.Attribute&constraintAttrType != 0:
		id = uint32(context.Type)
	default:
		return false, fmt.Errorf("constraint name term has unknown attribute %#x", t.Attribute)
	}
	// Identifiers are 1-based; name bitmaps are 0-based.
	member := t.Names.IsSet(id - 1)
	switch t.Op {
	case constraintOpEq:
		return member, nil
	case constraintOpNeq:
		return !member, nil
	}
	return false, fmt.Errorf("constraint operator %d is not valid for name comparison", t.Op)
}
