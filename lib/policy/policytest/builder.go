// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package policytest synthesizes binary policies for tests. Checked-in
// policy fixtures would need an external policy compiler to regenerate,
// so tests build the exact policies they need programmatically instead.
//
// The builder panics on misuse (referencing an undeclared symbol,
// adding duplicates): builder mistakes are test bugs, not conditions a
// test should handle.
package policytest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Binary format constants, mirrored from the parser.
const (
	policyMagic     = 0xf97cff8c
	policySignature = "SE Linux"

	configMLS           = 0x1
	configRejectUnknown = 0x2
	configAllowUnknown  = 0x4

	avAllow      = 0x0001
	avAuditAllow = 0x0002
	avAuditDeny  = 0x0004
	avTransition = 0x0010

	condExprBool = 1
)

// Level names a sensitivity and a set of categories.
type Level struct {
	Sens string
	Cats []string
}

// Context names the four components of a security context. High may
// be nil for a range-free context.
type Context struct {
	User string
	Role string
	Type string
	Low  Level
	High *Level
}

type permissionSet struct {
	name  string
	perms []string
}

type classEntry struct {
	name        string
	common      string
	perms       []string
	constraints []constraintEntry
	defaults    [4]uint32 // user, role, range, type
}

type constraintEntry struct {
	permMask uint32
	attr     uint32
	op       uint32
}

type typeEntry struct {
	name       string
	attribute  bool
	attributes []string
	permissive bool
	bounds     string
}

type userEntry struct {
	name  string
	roles []string
	low   Level
	high  *Level
}

type boolEntry struct {
	name  string
	state bool
}

type avRule struct {
	kind    uint16
	source  string
	target  string
	class   string
	mask    uint32
	newType string
}

type condNode struct {
	boolean string
	rules   []avRule
}

type roleTransition struct {
	role, typ, class, newRole string
}

type rangeTransition struct {
	source, target, class string
	low                   Level
	high                  *Level
}

type filenameTransition struct {
	name, source, target, class, newType string
}

type initialSID struct {
	sid     uint32
	context Context
}

type fsUse struct {
	behavior uint32
	fsType   string
	context  Context
}

type genfsPath struct {
	prefix  string
	class   string
	context Context
}

type genfsEntry struct {
	fsType string
	paths  []genfsPath
}

// Builder accumulates policy declarations and serializes them into a
// binary policy. Symbol identifiers are assigned in declaration order,
// starting at 1.
type Builder struct {
	version uint32
	config  uint32

	commons       []permissionSet
	classes       []classEntry
	roles         []string
	types         []typeEntry
	users         []userEntry
	booleans      []boolEntry
	sensitivities []string
	categories    []string

	rules               []avRule
	conditionals        []condNode
	roleTransitions     []roleTransition
	rangeTransitions    []rangeTransition
	filenameTransitions []filenameTransition
	initialSIDs         []initialSID
	fsUses              []fsUse
	genfs               []genfsEntry
}

// NewBuilder returns a builder for an MLS, deny-unknown policy at
// format version 33.
func NewBuilder() *Builder {
	return &Builder{version: 33, config: configMLS}
}

// SetVersion overrides the binary format version.
func (b *Builder) SetVersion(version uint32) *Builder {
	b.version = version
	return b
}

// RejectUnknown marks the policy as rejecting checks against unknown
// classes.
func (b *Builder) RejectUnknown() *Builder {
	b.config = configMLS | configRejectUnknown
	return b
}

// AllowUnknown marks the policy as allowing checks against unknown
// classes.
func (b *Builder) AllowUnknown() *Builder {
	b.config = configMLS | configAllowUnknown
	return b
}

// AddCommon declares a common permission set.
func (b *Builder) AddCommon(name string, perms ...string) *Builder {
	b.commons = append(b.commons, permissionSet{name: name, perms: perms})
	return b
}

// AddClass declares an object class with its own permissions.
func (b *Builder) AddClass(name string, perms ...string) *Builder {
	b.classes = append(b.classes, classEntry{name: name, perms: perms})
	return b
}

// AddClassWithCommon declares a class inheriting a common permission
// set.
func (b *Builder) AddClassWithCommon(name, common string, perms ...string) *Builder {
	b.classes = append(b.classes, classEntry{name: name, common: common, perms: perms})
	return b
}

// SetClassDefaults sets the class's default_user, default_role,
// default_range, and default_type selectors, using the binary
// encoding (1 = source, 2 = target; range selectors 1 through 7).
func (b *Builder) SetClassDefaults(class string, user, role, rnge, typ uint32) *Builder {
	c := b.classEntry(class)
	c.defaults = [4]uint32{user, role, rnge, typ}
	return b
}

// AddMLSConstraint attaches a single-term MLS constraint to a class,
// restricting the permissions to contexts satisfying attr op attr.
// attr and op use the binary encodings.
func (b *Builder) AddMLSConstraint(class string, perms []string, attr, op uint32) *Builder {
	c := b.classEntry(class)
	var mask uint32
	for _, perm := range perms {
		mask |= uint32(b.permissionBit(c, perm))
	}
	c.constraints = append(c.constraints, constraintEntry{permMask: mask, attr: attr, op: op})
	return b
}

// AddRole declares a role.
func (b *Builder) AddRole(name string) *Builder {
	b.roles = append(b.roles, name)
	return b
}

// AddType declares a type.
func (b *Builder) AddType(name string) *Builder {
	b.types = append(b.types, typeEntry{name: name})
	return b
}

// AddAttribute declares an attribute.
func (b *Builder) AddAttribute(name string) *Builder {
	b.types = append(b.types, typeEntry{name: name, attribute: true})
	return b
}

// AddTypeToAttribute records that the type carries the attribute, so
// rules written against the attribute match the type.
func (b *Builder) AddTypeToAttribute(typeName, attrName string) *Builder {
	for i := range b.types {
		if b.types[i].name == typeName {
			b.types[i].attributes = append(b.types[i].attributes, attrName)
			return b
		}
	}
	panic(fmt.Sprintf("policytest: unknown type %q", typeName))
}

// SetTypeBounds declares that the type is bounded by the parent type.
func (b *Builder) SetTypeBounds(typeName, parent string) *Builder {
	for i := range b.types {
		if b.types[i].name == typeName {
			b.types[i].bounds = parent
			return b
		}
	}
	panic(fmt.Sprintf("policytest: unknown type %q", typeName))
}

// SetPermissive marks the type as permissive.
func (b *Builder) SetPermissive(typeName string) *Builder {
	for i := range b.types {
		if b.types[i].name == typeName {
			b.types[i].permissive = true
			return b
		}
	}
	panic(fmt.Sprintf("policytest: unknown type %q", typeName))
}

// AddUser declares a user with its authorized roles and MLS range.
func (b *Builder) AddUser(name string, roles []string, low Level, high *Level) *Builder {
	b.users = append(b.users, userEntry{name: name, roles: roles, low: low, high: high})
	return b
}

// AddBoolean declares a conditional boolean with its initial state.
func (b *Builder) AddBoolean(name string, state bool) *Builder {
	b.booleans = append(b.booleans, boolEntry{name: name, state: state})
	return b
}

// AddSensitivity declares an MLS sensitivity. Sensitivities order from
// lowest to highest in declaration order.
func (b *Builder) AddSensitivity(name string) *Builder {
	b.sensitivities = append(b.sensitivities, name)
	return b
}

// AddCategory declares an MLS category.
func (b *Builder) AddCategory(name string) *Builder {
	b.categories = append(b.categories, name)
	return b
}

// Allow grants the permissions for the triple.
func (b *Builder) Allow(source, target, class string, perms ...string) *Builder {
	b.rules = append(b.rules, b.maskRule(avAllow, source, target, class, perms))
	return b
}

// AuditAllow marks the permissions for audit logging when granted.
func (b *Builder) AuditAllow(source, target, class string, perms ...string) *Builder {
	b.rules = append(b.rules, b.maskRule(avAuditAllow, source, target, class, perms))
	return b
}

// DontAudit suppresses audit logging of denials for the permissions.
func (b *Builder) DontAudit(source, target, class string, perms ...string) *Builder {
	rule := b.maskRule(avAuditDeny, source, target, class, perms)
	// Audit-deny rules store the bits still audited, i.e. the
	// suppressed permissions cleared from all-ones.
	rule.mask = ^rule.mask
	b.rules = append(b.rules, rule)
	return b
}

// TypeTransition declares that objects of the class created by source
// on target take the new type.
func (b *Builder) TypeTransition(source, target, class, newType string) *Builder {
	b.rules = append(b.rules, avRule{
		kind:    avTransition,
		source:  source,
		target:  target,
		class:   class,
		newType: newType,
	})
	return b
}

// ConditionalAllow gates an allow rule on a boolean: the rule lands in
// the conditional node's true list.
func (b *Builder) ConditionalAllow(boolean, source, target, class string, perms ...string) *Builder {
	rule := b.maskRule(avAllow, source, target, class, perms)
	for i := range b.conditionals {
		if b.conditionals[i].boolean == boolean {
			b.conditionals[i].rules = append(b.conditionals[i].rules, rule)
			return b
		}
	}
	b.conditionals = append(b.conditionals, condNode{boolean: boolean, rules: []avRule{rule}})
	return b
}

// RoleTransition declares a role rewrite for objects of the class
// created by the role over the type.
func (b *Builder) RoleTransition(role, typ, class, newRole string) *Builder {
	b.roleTransitions = append(b.roleTransitions, roleTransition{
		role: role, typ: typ, class: class, newRole: newRole,
	})
	return b
}

// RangeTransition declares an MLS range override for objects of the
// class created by source on target.
func (b *Builder) RangeTransition(source, target, class string, low Level, high *Level) *Builder {
	b.rangeTransitions = append(b.rangeTransitions, rangeTransition{
		source: source, target: target, class: class, low: low, high: high,
	})
	return b
}

// FilenameTransition declares a type rewrite for objects of the class
// created by source under target with the exact name.
func (b *Builder) FilenameTransition(name, source, target, class, newType string) *Builder {
	b.filenameTransitions = append(b.filenameTransitions, filenameTransition{
		name: name, source: source, target: target, class: class, newType: newType,
	})
	return b
}

// AddInitialSID binds a well-known initial SID to a context.
func (b *Builder) AddInitialSID(sid uint32, context Context) *Builder {
	b.initialSIDs = append(b.initialSIDs, initialSID{sid: sid, context: context})
	return b
}

// FsUse behavior selectors, using the binary encoding.
const (
	FsUseXattr uint32 = 1
	FsUseTrans uint32 = 2
	FsUseTask  uint32 = 3
)

// AddFsUse declares a whole-filesystem labeling statement.
func (b *Builder) AddFsUse(behavior uint32, fsType string, context Context) *Builder {
	b.fsUses = append(b.fsUses, fsUse{behavior: behavior, fsType: fsType, context: context})
	return b
}

// AddGenfscon declares a path-prefix labeling statement for the
// filesystem type. An empty class leaves the entry unqualified.
func (b *Builder) AddGenfscon(fsType, pathPrefix, class string, context Context) *Builder {
	path := genfsPath{prefix: pathPrefix, class: class, context: context}
	for i := range b.genfs {
		if b.genfs[i].fsType == fsType {
			b.genfs[i].paths = append(b.genfs[i].paths, path)
			return b
		}
	}
	b.genfs = append(b.genfs, genfsEntry{fsType: fsType, paths: []genfsPath{path}})
	return b
}

// Build serializes the accumulated declarations into a binary policy.
func (b *Builder) Build() []byte {
	w := &writer{}

	w.u32(policyMagic)
	w.u32(uint32(len(policySignature)))
	w.str(policySignature)
	w.u32(b.version)
	w.u32(b.config)
	w.u32(8) // symbol table count
	if b.version >= 31 {
		w.u32(9)
	} else {
		w.u32(7)
	}

	w.bitmap(nil)             // policy capabilities
	w.bitmap(b.permissives()) // permissive map

	b.writeCommons(w)
	b.writeClasses(w)
	b.writeRoles(w)
	b.writeTypes(w)
	b.writeUsers(w)
	b.writeBooleans(w)
	b.writeSensitivities(w)
	b.writeCategories(w)

	b.writeAVRules(w, b.rules)
	b.writeConditionals(w)
	b.writeRoleTransitions(w)
	w.u32(0) // role allows
	b.writeFilenameTransitions(w)
	b.writeInitialSIDs(w)
	w.u32(0) // filesystems
	w.u32(0) // ports
	w.u32(0) // network interfaces
	w.u32(0) // ipv4 nodes
	b.writeFsUses(w)
	w.u32(0) // ipv6 nodes
	if b.version >= 31 {
		w.u32(0) // infiniband partition keys
		w.u32(0) // infiniband end ports
	}
	b.writeGenfs(w)
	b.writeRangeTransitions(w)
	b.writeAttributeMaps(w)

	return w.buf.Bytes()
}

func (b *Builder) writeCommons(w *writer) {
	w.u32(uint32(len(b.commons)))
	w.u32(uint32(len(b.commons)))
	for i, common := range b.commons {
		w.u32(uint32(len(common.name)))
		w.u32(uint32(i + 1))
		w.u32(uint32(len(common.perms)))
		w.u32(uint32(len(common.perms)))
		w.str(common.name)
		writePermissions(w, common.perms, 0)
	}
}

func writePermissions(w *writer, perms []string, offset uint32) {
	for i, perm := range perms {
		w.u32(uint32(len(perm)))
		w.u32(offset + uint32(i) + 1)
		w.str(perm)
	}
}

func (b *Builder) writeClasses(w *writer) {
	w.u32(uint32(len(b.classes)))
	w.u32(uint32(len(b.classes)))
	for i, class := range b.classes {
		permOffset := uint32(0)
		if class.common != "" {
			permOffset = uint32(len(b.commonEntry(class.common).perms))
		}
		w.u32(uint32(len(class.name)))
		w.u32(uint32(len(class.common)))
		w.u32(uint32(i + 1))
		w.u32(permOffset + uint32(len(class.perms)))
		w.u32(uint32(len(class.perms)))
		w.u32(uint32(len(class.constraints)))
		w.str(class.name)
		w.str(class.common)
		writePermissions(w, class.perms, permOffset)
		for _, constraint := range class.constraints {
			w.u32(constraint.permMask)
			w.u32(1) // term count
			w.u32(4) // attr term
			w.u32(constraint.attr)
			w.u32(constraint.op)
		}
		w.u32(0) // validatetrans constraints
		w.u32(class.defaults[0])
		w.u32(class.defaults[1])
		w.u32(class.defaults[2])
		w.u32(class.defaults[3])
	}
}

func (b *Builder) writeRoles(w *writer) {
	w.u32(uint32(len(b.roles)))
	w.u32(uint32(len(b.roles)))
	for i, role := range b.roles {
		w.u32(uint32(len(role)))
		w.u32(uint32(i + 1))
		w.u32(0) // bounds
		w.str(role)
		w.bitmap(nil) // dominates
		w.bitmap(nil) // types
	}
}

func (b *Builder) writeTypes(w *writer) {
	w.u32(uint32(len(b.types)))
	w.u32(uint32(len(b.types)))
	for i, t := range b.types {
		properties := uint32(0x1) // primary
		if t.attribute {
			properties |= 0x2
		}
		w.u32(uint32(len(t.name)))
		w.u32(uint32(i + 1))
		w.u32(properties)
		if t.bounds != "" {
			w.u32(b.typeID(t.bounds))
		} else {
			w.u32(0)
		}
		w.str(t.name)
	}
}

func (b *Builder) writeUsers(w *writer) {
	w.u32(uint32(len(b.users)))
	w.u32(uint32(len(b.users)))
	for i, user := range b.users {
		w.u32(uint32(len(user.name)))
		w.u32(uint32(i + 1))
		w.u32(0) // bounds
		w.str(user.name)

		var roleBits []uint32
		for _, role := range user.roles {
			roleBits = append(roleBits, b.roleID(role)-1)
		}
		w.bitmap(roleBits)

		b.writeRange(w, user.low, user.high)
		b.writeLevel(w, user.low)
	}
}

func (b *Builder) writeBooleans(w *writer) {
	w.u32(uint32(len(b.booleans)))
	w.u32(uint32(len(b.booleans)))
	for i, boolean := range b.booleans {
		w.u32(uint32(i + 1))
		if boolean.state {
			w.u32(1)
		} else {
			w.u32(0)
		}
		w.u32(uint32(len(boolean.name)))
		w.str(boolean.name)
	}
}

func (b *Builder) writeSensitivities(w *writer) {
	w.u32(uint32(len(b.sensitivities)))
	w.u32(uint32(len(b.sensitivities)))
	for i, sens := range b.sensitivities {
		w.u32(uint32(len(sens)))
		w.u32(0) // not an alias
		w.str(sens)
		w.u32(uint32(i + 1)) // level sensitivity
		w.bitmap(nil)        // level categories
	}
}

func (b *Builder) writeCategories(w *writer) {
	w.u32(uint32(len(b.categories)))
	w.u32(uint32(len(b.categories)))
	for i, cat := range b.categories {
		w.u32(uint32(len(cat)))
		w.u32(uint32(i + 1))
		w.u32(0) // not an alias
		w.str(cat)
	}
}

func (b *Builder) writeAVRules(w *writer, rules []avRule) {
	w.u32(uint32(len(rules)))
	for _, rule := range rules {
		w.u16(uint16(b.typeID(rule.source)))
		w.u16(uint16(b.typeID(rule.target)))
		w.u16(uint16(b.classID(rule.class)))
		w.u16(rule.kind)
		if rule.newType != "" {
			w.u32(b.typeID(rule.newType))
		} else {
			w.u32(rule.mask)
		}
	}
}

func (b *Builder) writeConditionals(w *writer) {
	w.u32(uint32(len(b.conditionals)))
	for _, node := range b.conditionals {
		state := uint32(0)
		boolID := uint32(0)
		for i, boolean := range b.booleans {
			if boolean.name == node.boolean {
				boolID = uint32(i + 1)
				if boolean.state {
					state = 1
				}
			}
		}
		if boolID == 0 {
			panic(fmt.Sprintf("policytest: unknown boolean %q", node.boolean))
		}
		w.u32(state)
		w.u32(1) // expression term count
		w.u32(condExprBool)
		w.u32(boolID)
		b.writeAVRules(w, node.rules) // true list
		w.u32(0)                      // false list
	}
}

func (b *Builder) writeRoleTransitions(w *writer) {
	w.u32(uint32(len(b.roleTransitions)))
	for _, rt := range b.roleTransitions {
		w.u32(b.roleID(rt.role))
		w.u32(b.typeID(rt.typ))
		w.u32(b.roleID(rt.newRole))
		w.u32(b.classID(rt.class))
	}
}

func (b *Builder) writeFilenameTransitions(w *writer) {
	w.u32(uint32(len(b.filenameTransitions)))
	for _, ft := range b.filenameTransitions {
		if b.version >= 33 {
			w.u32(uint32(len(ft.name)))
			w.str(ft.name)
			w.u32(b.typeID(ft.target))
			w.u32(b.classID(ft.class))
			w.u32(1) // entry count
			w.bitmap([]uint32{b.typeID(ft.source) - 1})
			w.u32(b.typeID(ft.newType))
		} else {
			w.u32(uint32(len(ft.name)))
			w.str(ft.name)
			w.u32(b.typeID(ft.source))
			w.u32(b.typeID(ft.target))
			w.u32(b.classID(ft.class))
			w.u32(b.typeID(ft.newType))
		}
	}
}

func (b *Builder) writeInitialSIDs(w *writer) {
	w.u32(uint32(len(b.initialSIDs)))
	for _, isid := range b.initialSIDs {
		w.u32(isid.sid)
		b.writeContext(w, isid.context)
	}
}

func (b *Builder) writeFsUses(w *writer) {
	w.u32(uint32(len(b.fsUses)))
	for _, fu := range b.fsUses {
		w.u32(fu.behavior)
		w.u32(uint32(len(fu.fsType)))
		w.str(fu.fsType)
		b.writeContext(w, fu.context)
	}
}

func (b *Builder) writeGenfs(w *writer) {
	w.u32(uint32(len(b.genfs)))
	for _, entry := range b.genfs {
		w.u32(uint32(len(entry.fsType)))
		w.str(entry.fsType)
		w.u32(uint32(len(entry.paths)))
		for _, path := range entry.paths {
			w.u32(uint32(len(path.prefix)))
			w.str(path.prefix)
			if path.class != "" {
				w.u32(b.classID(path.class))
			} else {
				w.u32(0)
			}
			b.writeContext(w, path.context)
		}
	}
}

func (b *Builder) writeRangeTransitions(w *writer) {
	w.u32(uint32(len(b.rangeTransitions)))
	for _, rt := range b.rangeTransitions {
		w.u32(b.typeID(rt.source))
		w.u32(b.typeID(rt.target))
		w.u32(b.classID(rt.class))
		b.writeRange(w, rt.low, rt.high)
	}
}

func (b *Builder) writeAttributeMaps(w *writer) {
	for i, t := range b.types {
		bits := []uint32{uint32(i)} // every type carries itself
		for _, attr := range t.attributes {
			bits = append(bits, b.typeID(attr)-1)
		}
		w.bitmap(bits)
	}
}

func (b *Builder) writeContext(w *writer, c Context) {
	w.u32(b.userID(c.User))
	w.u32(b.roleID(c.Role))
	w.u32(b.typeID(c.Type))
	b.writeRange(w, c.Low, c.High)
}

func (b *Builder) writeRange(w *writer, low Level, high *Level) {
	if high == nil {
		w.u32(1)
		w.u32(b.sensID(low.Sens))
		w.bitmap(b.catBits(low.Cats))
		return
	}
	w.u32(2)
	w.u32(b.sensID(low.Sens))
	w.u32(b.sensID(high.Sens))
	w.bitmap(b.catBits(low.Cats))
	w.bitmap(b.catBits(high.Cats))
}

func (b *Builder) writeLevel(w *writer, level Level) {
	w.u32(b.sensID(level.Sens))
	w.bitmap(b.catBits(level.Cats))
}

func (b *Builder) permissives() []uint32 {
	var bits []uint32
	for i, t := range b.types {
		if t.permissive {
			// The permissive map is indexed by identifier directly.
			bits = append(bits, uint32(i+1))
		}
	}
	return bits
}

func (b *Builder) catBits(cats []string) []uint32 {
	var bits []uint32
	for _, cat := range cats {
		bits = append(bits, b.catID(cat)-1)
	}
	return bits
}

func (b *Builder) maskRule(kind uint16, source, target, class string, perms []string) avRule {
	c := b.classEntry(class)
	var mask uint32
	for _, perm := range perms {
		mask |= b.permissionBit(c, perm)
	}
	return avRule{kind: kind, source: source, target: target, class: class, mask: mask}
}

// permissionBit resolves a permission name to its bit within the
// class's access vector, accounting for common permissions occupying
// the low bits.
func (b *Builder) permissionBit(c *classEntry, perm string) uint32 {
	offset := 0
	if c.common != "" {
		common := b.commonEntry(c.common)
		for i, name := range common.perms {
			if name == perm {
				return 1 << i
			}
		}
		offset = len(common.perms)
	}
	for i, name := range c.perms {
		if name == perm {
			return 1 << (offset + i)
		}
	}
	panic(fmt.Sprintf("policytest: class %q has no permission %q", c.name, perm))
}

func (b *Builder) classEntry(name string) *classEntry {
	for i := range b.classes {
		if b.classes[i].name == name {
			return &b.classes[i]
		}
	}
	panic(fmt.Sprintf("policytest: unknown class %q", name))
}

func (b *Builder) commonEntry(name string) *permissionSet {
	for i := range b.commons {
		if b.commons[i].name == name {
			return &b.commons[i]
		}
	}
	panic(fmt.Sprintf("policytest: unknown common %q", name))
}

func (b *Builder) classID(name string) uint32 {
	for i := range b.classes {
		if b.classes[i].name == name {
			return uint32(i + 1)
		}
	}
	panic(fmt.Sprintf("policytest: unknown class %q", name))
}

func (b *Builder) roleID(name string) uint32 {
	for i, role := range b.roles {
		if role == name {
			return uint32(i + 1)
		}
	}
	panic(fmt.Sprintf("policytest: unknown role %q", name))
}

func (b *Builder) typeID(name string) uint32 {
	for i := range b.types {
		if b.types[i].name == name {
			return uint32(i + 1)
		}
	}
	panic(fmt.Sprintf("policytest: unknown type %q", name))
}

func (b *Builder) userID(name string) uint32 {
	for i := range b.users {
		if b.users[i].name == name {
			return uint32(i + 1)
		}
	}
	panic(fmt.Sprintf("policytest: unknown user %q", name))
}

func (b *Builder) sensID(name string) uint32 {
	for i, sens := range b.sensitivities {
		if sens == name {
			return uint32(i + 1)
		}
	}
	panic(fmt.Sprintf("policytest: unknown sensitivity %q", name))
}

func (b *Builder) catID(name string) uint32 {
	for i, cat := range b.categories {
		if cat == name {
			return uint32(i + 1)
		}
	}
	panic(fmt.Sprintf("policytest: unknown category %q", name))
}

// writer accumulates the little-endian encoding.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) str(s string) {
	w.buf.WriteString(s)
}

// bitmap writes an extensible bitmap holding the given 0-based bits.
func (w *writer) bitmap(bits []uint32) {
	nodes := map[uint32]uint64{}
	var starts []uint32
	high := uint32(0)
	for _, bit := range bits {
		start := bit / 64 * 64
		if _, ok := nodes[start]; !ok {
			starts = append(starts, start)
		}
		nodes[start] |= 1 << (bit % 64)
		if start+64 > high {
			high = start + 64
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	w.u32(64) // map unit
	w.u32(high)
	w.u32(uint32(len(starts)))
	for _, start := range starts {
		w.u32(start)
		w.u64(nodes[start])
	}
}
