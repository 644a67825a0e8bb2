// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"
)

// Policy is a parsed, validated binary policy. All query methods are
// read-only; a Policy is safe for concurrent use once constructed.
type Policy struct {
	version       uint32
	handleUnknown HandleUnknown

	capabilities    Bitmap
	permissiveTypes Bitmap

	commons       []CommonSymbol
	classes       []Class
	roles         []Role
	types         []Type
	users         []User
	booleans      []Boolean
	sensitivities []Sensitivity
	categories    []Category

	rules        []AccessVectorRule
	conditionals []ConditionalNode

	roleTransitions     []RoleTransition
	roleAllows          []RoleAllow
	filenameTransitions []FilenameTransition
	contexts            objectContexts
	genfs               []GenfsEntry
	rangeTransitions    []RangeTransition

	// attributeMaps holds one bitmap per primary type, giving the set
	// of types and attributes the type belongs to (itself included).
	attributeMaps []Bitmap

	usersByID         map[UserID]*User
	rolesByID         map[RoleID]*Role
	typesByID         map[TypeID]*Type
	classesByID       map[ClassID]*Class
	sensitivitiesByID map[SensitivityID]*Sensitivity
	categoriesByID    map[CategoryID]*Category

	// objectRole is the identifier of the well-known role carried by
	// resource-like objects, resolved once at load.
	objectRole RoleID
}

// objectRoleName is the role every resource-like object carries.
const objectRoleName = "object_r"

// Parse reads, validates, and indexes a binary policy. The returned
// policy rejects any input with structural damage, dangling
// identifier references, inconsistent MLS ranges, or malformed
// constraint expressions.
func Parse(data []byte) (*Policy, error) {
	r := &reader{data: data}
	p := &Policy{}

	magic, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("parsing magic: %w", err)
	}
	if magic != policyMagic {
		return nil, r.errorf("policy magic is %#08x, want %#08x", magic, policyMagic)
	}

	signature, err := r.string()
	if err != nil {
		return nil, fmt.Errorf("parsing signature: %w", err)
	}
	if signature != policySignature {
		return nil, r.errorf("policy signature is %q, want %q", signature, policySignature)
	}

	if p.version, err = r.u32(); err != nil {
		return nil, fmt.Errorf("parsing policy version: %w", err)
	}
	if p.version < minPolicyVersion || p.version > maxPolicyVersion {
		return nil, r.errorf("policy version %d not supported (want %d through %d)",
			p.version, minPolicyVersion, maxPolicyVersion)
	}

	config, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	if config&configMLSEnabled == 0 {
		return nil, r.errorf("policy config %#x does not enable MLS", config)
	}
	switch {
	case config&configRejectUnknown != 0:
		p.handleUnknown = RejectUnknown
	case config&configAllowUnknown != 0:
		p.handleUnknown = AllowUnknown
	default:
		p.handleUnknown = DenyUnknown
	}

	symbolCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("parsing symbol table count: %w", err)
	}
	if symbolCount != symbolTableCount {
		return nil, r.errorf("policy declares %d symbol tables, want %d", symbolCount, symbolTableCount)
	}
	contextCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("parsing object context count: %w", err)
	}
	wantContexts := uint32(objectContextCount)
	if p.version >= minVersionForInfiniBand {
		wantContexts = objectContextCountWithInfiniBand
	}
	if contextCount != wantContexts {
		return nil, r.errorf("policy declares %d object context sections, want %d", contextCount, wantContexts)
	}

	if p.capabilities, err = parseBitmap(r); err != nil {
		return nil, fmt.Errorf("parsing policy capabilities: %w", err)
	}
	if p.permissiveTypes, err = parseBitmap(r); err != nil {
		return nil, fmt.Errorf("parsing permissive map: %w", err)
	}

	if p.commons, err = parseCommonSymbols(r); err != nil {
		return nil, fmt.Errorf("parsing common symbols: %w", err)
	}
	if p.classes, err = parseClasses(r); err != nil {
		return nil, fmt.Errorf("parsing classes: %w", err)
	}
	if p.roles, err = parseRoles(r); err != nil {
		return nil, fmt.Errorf("parsing roles: %w", err)
	}
	primaryTypes, types, err := parseTypes(r)
	if err != nil {
		return nil, fmt.Errorf("parsing types: %w", err)
	}
	p.types = types
	if p.users, err = parseUsers(r); err != nil {
		return nil, fmt.Errorf("parsing users: %w", err)
	}
	if p.booleans, err = parseBooleans(r); err != nil {
		return nil, fmt.Errorf("parsing conditional booleans: %w", err)
	}
	if p.sensitivities, err = parseSensitivities(r); err != nil {
		return nil, fmt.Errorf("parsing sensitivities: %w", err)
	}
	if p.categories, err = parseCategories(r); err != nil {
		return nil, fmt.Errorf("parsing categories: %w", err)
	}

	if p.rules, err = parseAccessVectorRules(r); err != nil {
		return nil, fmt.Errorf("parsing access vectors: %w", err)
	}
	if p.conditionals, err = parseConditionalNodes(r); err != nil {
		return nil, fmt.Errorf("parsing conditional lists: %w", err)
	}
	if p.roleTransitions, err = parseRoleTransitions(r); err != nil {
		return nil, fmt.Errorf("parsing role transitions: %w", err)
	}
	if p.roleAllows, err = parseRoleAllows(r); err != nil {
		return nil, fmt.Errorf("parsing role allow rules: %w", err)
	}
	if p.filenameTransitions, err = parseFilenameTransitions(r, p.version); err != nil {
		return nil, fmt.Errorf("parsing filename transitions: %w", err)
	}
	if p.contexts, err = parseObjectContexts(r, p.version); err != nil {
		return nil, err
	}
	if p.genfs, err = parseGenfsContexts(r); err != nil {
		return nil, fmt.Errorf("parsing generic filesystem contexts: %w", err)
	}
	if p.rangeTransitions, err = parseRangeTransitions(r); err != nil {
		return nil, fmt.Errorf("parsing range transitions: %w", err)
	}

	p.attributeMaps = make([]Bitmap, 0, primaryTypes)
	for i := uint32(0); i < primaryTypes; i++ {
		bitmap, err := parseBitmap(r)
		if err != nil {
			return nil, fmt.Errorf("parsing attribute map %d: %w", i, err)
		}
		p.attributeMaps = append(p.attributeMaps, bitmap)
	}

	if n := r.remaining(); n > 0 {
		return nil, r.errorf("%d trailing bytes after policy", n)
	}

	p.buildIndexes()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// buildIndexes prepares the identifier lookup maps. When an alias and
// a primary symbol share an identifier the primary wins.
func (p *Policy) buildIndexes() {
	p.usersByID = make(map[UserID]*User, len(p.users))
	for i := range p.users {
		p.usersByID[p.users[i].ID] = &p.users[i]
	}
	p.rolesByID = make(map[RoleID]*Role, len(p.roles))
	for i := range p.roles {
		p.rolesByID[p.roles[i].ID] = &p.roles[i]
	}
	p.typesByID = make(map[TypeID]*Type, len(p.types))
	for i := range p.types {
		t := &p.types[i]
		if existing, ok := p.typesByID[t.ID]; !ok || (!existing.Primary && t.Primary) {
			p.typesByID[t.ID] = t
		}
	}
	p.classesByID = make(map[ClassID]*Class, len(p.classes))
	for i := range p.classes {
		p.classesByID[p.classes[i].ID] = &p.classes[i]
	}
	p.sensitivitiesByID = make(map[SensitivityID]*Sensitivity, len(p.sensitivities))
	for i := range p.sensitivities {
		s := &p.sensitivities[i]
		if existing, ok := p.sensitivitiesByID[s.ID()]; !ok || (existing.IsAlias && !s.IsAlias) {
			p.sensitivitiesByID[s.ID()] = s
		}
	}
	p.categoriesByID = make(map[CategoryID]*Category, len(p.categories))
	for i := range p.categories {
		c := &p.categories[i]
		if existing, ok := p.categoriesByID[c.ID]; !ok || (existing.IsAlias && !c.IsAlias) {
			p.categoriesByID[c.ID] = c
		}
	}
	if role := p.RoleByName(objectRoleName); role != nil {
		p.objectRole = role.ID
	}
}

// Version returns the binary format version of the loaded policy.
func (p *Policy) Version() uint32 { return p.version }

// HandleUnknown returns the policy's disposition for permission checks
// against classes it does not define.
func (p *Policy) HandleUnknown() HandleUnknown { return p.handleUnknown }

// Classes returns the policy's object classes in declaration order.
func (p *Policy) Classes() []Class { return p.classes }

// Types returns the policy's types and attributes in declaration
// order.
func (p *Policy) Types() []Type { return p.types }

// Roles returns the policy's roles in declaration order.
func (p *Policy) Roles() []Role { return p.roles }

// Users returns the policy's users in declaration order.
func (p *Policy) Users() []User { return p.users }

// Booleans returns the policy's conditional booleans in declaration
// order.
func (p *Policy) Booleans() []Boolean { return p.booleans }

// Sensitivities returns the policy's MLS sensitivities, aliases
// included.
func (p *Policy) Sensitivities() []Sensitivity { return p.sensitivities }

// Categories returns the policy's MLS categories, aliases included.
func (p *Policy) Categories() []Category { return p.categories }

// Conditionals returns the policy's conditional rule nodes.
func (p *Policy) Conditionals() []ConditionalNode { return p.conditionals }

// FilenameTransitions returns the policy's filename transition rules
// in the compact form, regardless of the binary encoding parsed.
func (p *Policy) FilenameTransitions() []FilenameTransition { return p.filenameTransitions }

// user returns the user for a validated identifier.
func (p *Policy) user(id UserID) *User { return p.usersByID[id] }

// UserByName returns the named user, or nil.
func (p *Policy) UserByName(name string) *User {
	for i := range p.users {
		if p.users[i].Name == name {
			return &p.users[i]
		}
	}
	return nil
}

// role returns the role for a validated identifier.
func (p *Policy) role(id RoleID) *Role { return p.rolesByID[id] }

// RoleByName returns the named role, or nil.
func (p *Policy) RoleByName(name string) *Role {
	for i := range p.roles {
		if p.roles[i].Name == name {
			return &p.roles[i]
		}
	}
	return nil
}

// typeByID returns the type for a validated identifier.
func (p *Policy) typeByID(id TypeID) *Type { return p.typesByID[id] }

// TypeByName returns the named type or attribute, or nil.
func (p *Policy) TypeByName(name string) *Type {
	for i := range p.types {
		if p.types[i].Name == name {
			return &p.types[i]
		}
	}
	return nil
}

// class returns the class for a validated identifier.
func (p *Policy) class(id ClassID) *Class { return p.classesByID[id] }

// ClassByName returns the named object class, or nil.
func (p *Policy) ClassByName(name string) *Class {
	for i := range p.classes {
		if p.classes[i].Name == name {
			return &p.classes[i]
		}
	}
	return nil
}

// sensitivity returns the sensitivity for a validated identifier.
func (p *Policy) sensitivity(id SensitivityID) *Sensitivity { return p.sensitivitiesByID[id] }

// SensitivityByName returns the named sensitivity, or nil.
func (p *Policy) SensitivityByName(name string) *Sensitivity {
	for i := range p.sensitivities {
		if p.sensitivities[i].Name == name {
			return &p.sensitivities[i]
		}
	}
	return nil
}

// category returns the category for a validated identifier.
func (p *Policy) category(id CategoryID) *Category { return p.categoriesByID[id] }

// CategoryByName returns the named category, or nil.
func (p *Policy) CategoryByName(name string) *Category {
	for i := range p.categories {
		if p.categories[i].Name == name {
			return &p.categories[i]
		}
	}
	return nil
}

// BooleanByName returns the named conditional boolean, or nil.
func (p *Policy) BooleanByName(name string) *Boolean {
	for i := range p.booleans {
		if p.booleans[i].Name == name {
			return &p.booleans[i]
		}
	}
	return nil
}

// IsPermissive reports whether permission denials for the given source
// type are logged but not enforced.
func (p *Policy) IsPermissive(t TypeID) bool {
	// The permissive map is indexed by identifier, not by the usual
	// identifier-minus-one convention.
	return p.permissiveTypes.IsSet(uint32(t))
}

// IsBoundedBy reports whether boundedType is transitively bounded by
// parentType through typebounds declarations.
func (p *Policy) IsBoundedBy(boundedType, parentType TypeID) bool {
	t := p.typeByID(boundedType)
	for t != nil && t.Bounds != 0 {
		if t.Bounds == parentType {
			return true
		}
		t = p.typeByID(t.Bounds)
	}
	return false
}

// typeMatches reports whether the query type is associated with the
// rule type, which may name an attribute the query type carries.
func (p *Policy) typeMatches(queryType, ruleType TypeID) bool {
	return p.attributeMaps[uint32(queryType)-1].IsSet(uint32(ruleType) - 1)
}

// ComputeExplicitlyAllowed accumulates the access decision for a
// (source type, target type, class) triple over every unconditional
// access-vector rule, resolving attribute membership through the
// attribute maps. Allowed and audit-allow bits accumulate by union;
// audit-deny bits start from all-ones and clear by intersection.
func (p *Policy) ComputeExplicitlyAllowed(sourceType, targetType TypeID, class ClassID) AccessDecision {
	allow := AccessVectorNone
	auditAllow := AccessVectorNone
	auditDeny := AccessVectorAll

	for i := range p.rules {
		rule := &p.rules[i]
		if !rule.IsAllow() && !rule.IsAuditAllow() && !rule.IsDontAudit() {
			continue
		}
		if rule.Class != class {
			continue
		}
		// Bitmap lookups last: they are the most expensive test.
		if !p.typeMatches(sourceType, rule.SourceType) {
			continue
		}
		if !p.typeMatches(targetType, rule.TargetType) {
			continue
		}
		mask, ok := rule.PermissionMask()
		if !ok {
			continue
		}
		switch {
		case rule.IsAllow():
			allow |= mask
		case rule.IsAuditAllow():
			auditAllow |= mask
		case rule.IsDontAudit():
			// Dontaudit rules arrive with the suppressed bits cleared.
			auditDeny &= mask
		}
	}

	var flags uint32
	if p.IsPermissive(sourceType) {
		flags |= FlagPermissive
	}
	return AccessDecision{
		Allow:      allow,
		AuditAllow: auditAllow,
		AuditDeny:  auditDeny,
		Flags:      flags,
	}
}

// ComputeExplicitlyAllowedCustom resolves the class by name before
// computing the decision, honoring the policy's handle-unknown mode
// when the class does not exist.
func (p *Policy) ComputeExplicitlyAllowedCustom(sourceType, targetType TypeID, className string) AccessDecision {
	if class := p.ClassByName(className); class != nil {
		return p.ComputeExplicitlyAllowed(sourceType, targetType, class.ID)
	}
	if p.handleUnknown == AllowUnknown {
		return AllowAll()
	}
	return AllowNone()
}

// IsExplicitlyAllowed reports whether a single named permission is
// granted for the triple. Unknown permission names are an error so
// callers can distinguish denial from a misspelled query.
func (p *Policy) IsExplicitlyAllowed(sourceType, targetType TypeID, class ClassID, permission string) (bool, error) {
	c := p.class(class)
	if c == nil {
		return false, fmt.Errorf("class %d not defined by policy", class)
	}
	bit, err := p.permissionBit(c, permission)
	if err != nil {
		return false, err
	}
	decision := p.ComputeExplicitlyAllowed(sourceType, targetType, class)
	return decision.Allow&bit != 0, nil
}

// permissionBit resolves a permission name to its access-vector bit,
// searching the class's own permissions and then its common symbol's.
func (p *Policy) permissionBit(class *Class, permission string) (AccessVector, error) {
	for _, perm := range class.Permissions {
		if perm.Name == permission {
			return AccessVector(1) << (perm.Value - 1), nil
		}
	}
	if class.CommonName != "" {
		for i := range p.commons {
			if p.commons[i].Name != class.CommonName {
				continue
			}
			for _, perm := range p.commons[i].Permissions {
				if perm.Name == permission {
					return AccessVector(1) << (perm.Value - 1), nil
				}
			}
		}
	}
	return 0, fmt.Errorf("class %q has no permission %q", class.Name, permission)
}

// ClassPermissions returns the named class's permissions, common
// symbol permissions included, each carrying its 1-based bit position
// in the class's access vector. Returns false when the class does not
// exist.
func (p *Policy) ClassPermissions(className string) ([]Permission, bool) {
	class := p.ClassByName(className)
	if class == nil {
		return nil, false
	}
	var perms []Permission
	if class.CommonName != "" {
		for i := range p.commons {
			if p.commons[i].Name == class.CommonName {
				perms = append(perms, p.commons[i].Permissions...)
			}
		}
	}
	perms = append(perms, class.Permissions...)
	return perms, true
}

// classPermissionCount returns the number of permissions a class
// defines, common-symbol permissions included.
func (p *Policy) classPermissionCount(class *Class) int {
	count := len(class.Permissions)
	if class.CommonName != "" {
		for i := range p.commons {
			if p.commons[i].Name == class.CommonName {
				count += len(p.commons[i].Permissions)
			}
		}
	}
	return count
}

// InitialContext returns the context bound to a well-known initial
// SID, or false when the policy does not define one for it.
func (p *Policy) InitialContext(sid uint32) (SecurityContext, bool) {
	for i := range p.contexts.InitialSIDs {
		if p.contexts.InitialSIDs[i].SID == sid {
			return p.contexts.InitialSIDs[i].Context.securityContext(), true
		}
	}
	return SecurityContext{}, false
}

// InitialContexts returns every initial SID the policy defines, keyed
// by its well-known identifier.
func (p *Policy) InitialContexts() map[uint32]SecurityContext {
	out := make(map[uint32]SecurityContext, len(p.contexts.InitialSIDs))
	for i := range p.contexts.InitialSIDs {
		out[p.contexts.InitialSIDs[i].SID] = p.contexts.InitialSIDs[i].Context.securityContext()
	}
	return out
}

// FsUseLabelAndType returns the labeling scheme and context declared
// by an fs_use statement for the filesystem type, or false when the
// policy has no such statement.
func (p *Policy) FsUseLabelAndType(fsType string) (FsUseType, SecurityContext, bool) {
	for i := range p.contexts.FsUses {
		if p.contexts.FsUses[i].Name == fsType {
			return p.contexts.FsUses[i].Type, p.contexts.FsUses[i].Context.securityContext(), true
		}
	}
	return 0, SecurityContext{}, false
}

// GenfsconLabelForFsAndPath returns the most specific genfscon context
// for a path on the filesystem type: among entries whose path prefix
// matches and whose class qualifier is absent or equal to the supplied
// class, the longest prefix wins. Class is optional; zero matches only
// unqualified entries.
func (p *Policy) GenfsconLabelForFsAndPath(fsType, path string, class ClassID) (SecurityContext, bool) {
	var entry *GenfsEntry
	for i := range p.genfs {
		if p.genfs[i].FsType == fsType {
			entry = &p.genfs[i]
			break
		}
	}
	if entry == nil {
		return SecurityContext{}, false
	}
	var best *GenfsContext
	for i := range entry.Contexts {
		candidate := &entry.Contexts[i]
		if !strings.HasPrefix(path, candidate.PathPrefix) {
			continue
		}
		if candidate.Class != 0 && candidate.Class != class {
			continue
		}
		if best == nil || len(candidate.PathPrefix) > len(best.PathPrefix) {
			best = candidate
		}
	}
	if best == nil {
		return SecurityContext{}, false
	}
	return best.Context.securityContext(), true
}
