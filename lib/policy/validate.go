// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// UnknownIDError is returned when one policy structure references an
// identifier no symbol table defines.
type UnknownIDError struct {
	Kind string
	ID   uint32
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("%s id %d not defined by policy", e.Kind, e.ID)
}

// InvalidMLSRangeError is returned when an MLS range's high level does
// not dominate its low level. The fields carry the serialized levels.
type InvalidMLSRangeError struct {
	Low  string
	High string
}

func (e *InvalidMLSRangeError) Error() string {
	return fmt.Sprintf("MLS range high level %q does not dominate low level %q", e.High, e.Low)
}

// validate runs the whole-policy consistency checks: structural
// invariants on every bitmap, referential integrity for identifiers
// one structure uses to name another, internal consistency of every
// MLS range, and well-formedness of every class constraint. A policy
// that fails any check is rejected outright.
func (p *Policy) validate() error {
	if err := p.validateBitmaps(); err != nil {
		return err
	}

	// Sensitivities carry levels of their own; their category bitmaps
	// must be well-formed before any dominance check walks them.
	for i := range p.sensitivities {
		if err := p.validateMLSLevel(p.sensitivities[i].Level); err != nil {
			return fmt.Errorf("validating sensitivity %q: %w", p.sensitivities[i].Name, err)
		}
	}

	// Users must declare internally consistent MLS ranges and default
	// levels over defined sensitivities and categories.
	for i := range p.users {
		if err := p.validateMLSRange(p.users[i].Range); err != nil {
			return fmt.Errorf("validating user %q: %w", p.users[i].Name, err)
		}
		if err := p.validateMLSLevel(p.users[i].DefaultLevel); err != nil {
			return fmt.Errorf("validating user %q default level: %w", p.users[i].Name, err)
		}
	}

	// Every binary context in the policy must reference defined
	// symbols and carry a consistent range.
	if err := p.validateObjectContexts(); err != nil {
		return err
	}

	// Range transitions must produce internally consistent ranges.
	for i := range p.rangeTransitions {
		if err := p.validateMLSRange(p.rangeTransitions[i].Range); err != nil {
			return fmt.Errorf("validating range transition %d: %w", i, err)
		}
	}

	// Roles produced by role transitions and role allows must exist.
	for i := range p.roleTransitions {
		if p.role(p.roleTransitions[i].NewRole) == nil {
			return &UnknownIDError{Kind: "new_role", ID: uint32(p.roleTransitions[i].NewRole)}
		}
	}
	for i := range p.roleAllows {
		if p.role(p.roleAllows[i].NewRole) == nil {
			return &UnknownIDError{Kind: "new_role", ID: uint32(p.roleAllows[i].NewRole)}
		}
	}

	// Types produced by transition, member, and change rules must
	// exist.
	for i := range p.rules {
		if newType, ok := p.rules[i].NewType(); ok {
			if p.typeByID(newType) == nil {
				return &UnknownIDError{Kind: "new_type", ID: uint32(newType)}
			}
		}
	}

	// Constraint and validatetrans expressions must evaluate cleanly.
	// The kernel initial context serves as an arbitrary well-formed
	// operand pair; every usable policy must bind one.
	kernel, ok := p.InitialContext(initialSIDKernel)
	if !ok {
		return fmt.Errorf("no context bound to the kernel initial sid")
	}
	for i := range p.classes {
		class := &p.classes[i]
		for j := range class.Constraints {
			if _, err := class.Constraints[j].evaluate(&kernel, &kernel); err != nil {
				return fmt.Errorf("validating class %q constraints: %w", class.Name, err)
			}
		}
		for j := range class.ValidateTransforms {
			if _, err := class.ValidateTransforms[j].evaluate(&kernel, &kernel); err != nil {
				return fmt.Errorf("validating class %q validatetrans: %w", class.Name, err)
			}
		}
	}
	return nil
}

// validateObjectContexts runs validateContext over every context the
// ocontext and genfscon sections bind.
func (p *Policy) validateObjectContexts() error {
	for i := range p.contexts.InitialSIDs {
		if err := p.validateContext(&p.contexts.InitialSIDs[i].Context); err != nil {
			return fmt.Errorf("validating initial sid %d: %w", p.contexts.InitialSIDs[i].SID, err)
		}
	}
	for i := range p.contexts.Filesystems {
		if err := p.validateContextPair(&p.contexts.Filesystems[i]); err != nil {
			return fmt.Errorf("validating filesystem %q: %w", p.contexts.Filesystems[i].Name, err)
		}
	}
	for i := range p.contexts.Ports {
		if err := p.validateContext(&p.contexts.Ports[i].Context); err != nil {
			return fmt.Errorf("validating port context %d: %w", i, err)
		}
	}
	for i := range p.contexts.Netifs {
		if err := p.validateContextPair(&p.contexts.Netifs[i]); err != nil {
			return fmt.Errorf("validating network interface %q: %w", p.contexts.Netifs[i].Name, err)
		}
	}
	for i := range p.contexts.Nodes {
		if err := p.validateContext(&p.contexts.Nodes[i].Context); err != nil {
			return fmt.Errorf("validating node context %d: %w", i, err)
		}
	}
	for i := range p.contexts.FsUses {
		if err := p.validateContext(&p.contexts.FsUses[i].Context); err != nil {
			return fmt.Errorf("validating fs_use %q: %w", p.contexts.FsUses[i].Name, err)
		}
	}
	for i := range p.contexts.Nodes6 {
		if err := p.validateContext(&p.contexts.Nodes6[i].Context); err != nil {
			return fmt.Errorf("validating ipv6 node context %d: %w", i, err)
		}
	}
	for i := range p.contexts.IBPkeys {
		if err := p.validateContext(&p.contexts.IBPkeys[i].Context); err != nil {
			return fmt.Errorf("validating infiniband pkey context %d: %w", i, err)
		}
	}
	for i := range p.contexts.IBEndPorts {
		if err := p.validateContext(&p.contexts.IBEndPorts[i].Context); err != nil {
			return fmt.Errorf("validating infiniband end port %q: %w", p.contexts.IBEndPorts[i].DeviceName, err)
		}
	}
	for i := range p.genfs {
		entry := &p.genfs[i]
		for j := range entry.Contexts {
			if err := p.validateContext(&entry.Contexts[j].Context); err != nil {
				return fmt.Errorf("validating genfscon %q %q: %w", entry.FsType, entry.Contexts[j].PathPrefix, err)
			}
		}
	}
	return nil
}

func (p *Policy) validateContextPair(pair *NamedContextPair) error {
	if err := p.validateContext(&pair.Context); err != nil {
		return err
	}
	return p.validateContext(&pair.SecondContext)
}

// initialSIDKernel is the well-known initial SID of the kernel domain,
// present in every usable policy.
const initialSIDKernel uint32 = 1

func (p *Policy) validateBitmaps() error {
	if err := p.capabilities.validate(); err != nil {
		return fmt.Errorf("validating policy capabilities: %w", err)
	}
	if err := p.permissiveTypes.validate(); err != nil {
		return fmt.Errorf("validating permissive map: %w", err)
	}
	for i := range p.roles {
		if err := p.roles[i].Dominates.validate(); err != nil {
			return fmt.Errorf("validating role %q dominates bitmap: %w", p.roles[i].Name, err)
		}
		if err := p.roles[i].Types.validate(); err != nil {
			return fmt.Errorf("validating role %q types bitmap: %w", p.roles[i].Name, err)
		}
	}
	for i := range p.users {
		if err := p.users[i].Roles.validate(); err != nil {
			return fmt.Errorf("validating user %q roles bitmap: %w", p.users[i].Name, err)
		}
	}
	for i := range p.attributeMaps {
		if err := p.attributeMaps[i].validate(); err != nil {
			return fmt.Errorf("validating attribute map %d: %w", i, err)
		}
	}
	for i := range p.filenameTransitions {
		if err := p.filenameTransitions[i].SourceTypes.validate(); err != nil {
			return fmt.Errorf("validating filename transition %q source bitmap: %w",
				p.filenameTransitions[i].Name, err)
		}
	}
	for i := range p.classes {
		class := &p.classes[i]
		if err := validateConstraintBitmaps(class.Constraints); err != nil {
			return fmt.Errorf("validating class %q constraints: %w", class.Name, err)
		}
		if err := validateConstraintBitmaps(class.ValidateTransforms); err != nil {
			return fmt.Errorf("validating class %q validatetrans: %w", class.Name, err)
		}
	}
	return nil
}

// validateConstraintBitmaps checks the name-set and type-set bitmaps
// of every term. Category bitmaps inside MLS levels are covered by
// validateMLSLevel instead.
func validateConstraintBitmaps(constraints []Constraint) error {
	for i := range constraints {
		for j := range constraints[i].Expression {
			term := &constraints[i].Expression[j]
			if err := term.Names.validate(); err != nil {
				return fmt.Errorf("term name set: %w", err)
			}
			if err := term.TypeSet.validate(); err != nil {
				return fmt.Errorf("term type set: %w", err)
			}
			if err := term.TypeSetNeg.validate(); err != nil {
				return fmt.Errorf("term negated type set: %w", err)
			}
		}
	}
	return nil
}

// validateContext checks that a binary context references defined
// user, role, and type identifiers and carries a consistent range.
func (p *Policy) validateContext(c *Context) error {
	if p.user(c.User) == nil {
		return &UnknownIDError{Kind: "user", ID: uint32(c.User)}
	}
	if p.role(c.Role) == nil {
		return &UnknownIDError{Kind: "role", ID: uint32(c.Role)}
	}
	if p.typeByID(c.Type) == nil {
		return &UnknownIDError{Kind: "type", ID: uint32(c.Type)}
	}
	return p.validateMLSRange(c.Range)
}

// validateMLSRange checks that both levels reference defined
// sensitivities and categories and that the high level, when present,
// dominates the low.
func (p *Policy) validateMLSRange(r MLSRange) error {
	if err := p.validateMLSLevel(r.Low); err != nil {
		return err
	}
	if r.High == nil {
		return nil
	}
	if err := p.validateMLSLevel(*r.High); err != nil {
		return err
	}
	high := r.High.level()
	low := r.Low.level()
	if !high.Dominates(low) {
		return &InvalidMLSRangeError{
			Low:  p.serializeLevelString(low),
			High: p.serializeLevelString(high),
		}
	}
	return nil
}

func (p *Policy) validateMLSLevel(l MLSLevel) error {
	// The category bitmap must be structurally sound before IsSet or
	// forEach walks it: both rely on sorted, aligned nodes.
	if err := l.Categories.validate(); err != nil {
		return fmt.Errorf("category bitmap: %w", err)
	}
	if p.sensitivity(l.Sensitivity) == nil {
		return &UnknownIDError{Kind: "sensitivity", ID: uint32(l.Sensitivity)}
	}
	var bad *UnknownIDError
	l.Categories.forEach(func(bit uint32) {
		if bad == nil && p.category(CategoryID(bit+1)) == nil {
			bad = &UnknownIDError{Kind: "category", ID: bit + 1}
		}
	})
	if bad != nil {
		return bad
	}
	return nil
}
