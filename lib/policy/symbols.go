// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// Permission is a named permission bit within a class or common
// symbol. Value is the 1-based bit position in access vectors.
type Permission struct {
	Name  string
	Value uint32
}

// CommonSymbol is a named set of permissions that classes mix in by
// reference.
type CommonSymbol struct {
	Name        string
	Value       uint32
	Permissions []Permission
}

// Class is an object class: a named kind of securable object with its
// own permissions, optionally inheriting a common symbol's
// permissions, plus constraint expressions and object-labeling
// defaults.
type Class struct {
	Name       string
	ID         ClassID
	CommonName string

	// Permissions declared directly on the class. Permissions
	// inherited from CommonName are resolved via the policy's common
	// symbol table.
	Permissions []Permission

	Constraints        []Constraint
	ValidateTransforms []Constraint

	Defaults ClassDefaults
}

// Default sources for new-object security context fields. Zero means
// the class leaves the field to the caller's per-class default.
const (
	defaultUnspecified uint32 = 0
	defaultSource      uint32 = 1
	defaultTarget      uint32 = 2
)

// Default range selectors for new-object MLS ranges.
const (
	defaultRangeUnspecified   uint32 = 0
	defaultRangeSourceLow     uint32 = 1
	defaultRangeSourceHigh    uint32 = 2
	defaultRangeSourceLowHigh uint32 = 3
	defaultRangeTargetLow     uint32 = 4
	defaultRangeTargetHigh    uint32 = 5
	defaultRangeTargetLowHigh uint32 = 6
	defaultRangeGlbLub        uint32 = 7
)

// ClassDefaults encodes the class's `default_user`, `default_role`,
// `default_type`, and `default_range` policy statements.
type ClassDefaults struct {
	User  uint32
	Role  uint32
	Type  uint32
	Range uint32
}

// Role is a named role with the set of types it authorizes and the
// set of roles it dominates.
type Role struct {
	Name      string
	ID        RoleID
	Bounds    RoleID
	Dominates Bitmap
	Types     Bitmap
}

// Type properties bits in the binary format.
const (
	typePropertyPrimary   = 0x0001
	typePropertyAttribute = 0x0002
)

// Type is a named type or attribute.
type Type struct {
	Name      string
	ID        TypeID
	Bounds    TypeID
	Primary   bool
	Attribute bool
}

// User is a named user with its authorized roles and MLS range.
type User struct {
	Name   string
	ID     UserID
	Bounds UserID
	Roles  Bitmap

	// Range is the user's declared MLS range. DefaultLevel is the
	// level assigned when a login process does not request one.
	Range        MLSRange
	DefaultLevel MLSLevel
}

// Boolean is a conditional boolean declared by the policy, with its
// compiled-in initial state.
type Boolean struct {
	Name  string
	Value uint32
	State bool
}

// Sensitivity is a named MLS sensitivity level.
type Sensitivity struct {
	Name    string
	IsAlias bool
	Level   MLSLevel
}

// ID returns the sensitivity identifier from the underlying level.
func (s Sensitivity) ID() SensitivityID {
	return s.Level.Sensitivity
}

// Category is a named MLS category.
type Category struct {
	Name    string
	ID      CategoryID
	IsAlias bool
}

// MLSLevel is a sensitivity plus a category bitmap, as stored in the
// binary format. It is resolved into a normalized SecurityLevel for
// use in the context model.
type MLSLevel struct {
	Sensitivity SensitivityID
	Categories  Bitmap
}

// MLSRange is a low level plus an optional distinct high level.
type MLSRange struct {
	Low  MLSLevel
	High *MLSLevel
}

// level converts the binary category bitmap into the normalized
// span form used by the context model.
func (l MLSLevel) level() SecurityLevel {
	return SecurityLevel{
		Sensitivity: l.Sensitivity,
		Categories:  spansFromBitmap(l.Categories),
	}
}

// HighOrLow returns the range's high level, or the low level when the
// range has no distinct high.
func (r MLSRange) HighOrLow() MLSLevel {
	if r.High != nil {
		return *r.High
	}
	return r.Low
}

func parseMLSLevel(r *reader) (MLSLevel, error) {
	sensitivity, err := r.u32()
	if err != nil {
		return MLSLevel{}, err
	}
	categories, err := parseBitmap(r)
	if err != nil {
		return MLSLevel{}, err
	}
	return MLSLevel{Sensitivity: SensitivityID(sensitivity), Categories: categories}, nil
}

// parseMLSRange reads the range encoding: an item count (1 or 2), the
// low (and optionally high) sensitivity values, then the low (and
// optionally high) category bitmaps.
func parseMLSRange(r *reader) (MLSRange, error) {
	items, err := r.u32()
	if err != nil {
		return MLSRange{}, err
	}
	if items != 1 && items != 2 {
		return MLSRange{}, r.errorf("MLS range has %d levels, want 1 or 2", items)
	}
	lowSensitivity, err := r.u32()
	if err != nil {
		return MLSRange{}, err
	}
	var highSensitivity uint32
	if items == 2 {
		if highSensitivity, err = r.u32(); err != nil {
			return MLSRange{}, err
		}
	}
	lowCategories, err := parseBitmap(r)
	if err != nil {
		return MLSRange{}, err
	}
	mlsRange := MLSRange{
		Low: MLSLevel{Sensitivity: SensitivityID(lowSensitivity), Categories: lowCategories},
	}
	if items == 2 {
		highCategories, err := parseBitmap(r)
		if err != nil {
			return MLSRange{}, err
		}
		mlsRange.High = &MLSLevel{
			Sensitivity: SensitivityID(highSensitivity),
			Categories:  highCategories,
		}
	}
	return mlsRange, nil
}

// symbolTableHeader reads the primary-names count and element count
// that prefix every symbol table.
func symbolTableHeader(r *reader) (primary, count uint32, err error) {
	if primary, err = r.u32(); err != nil {
		return 0, 0, err
	}
	if count, err = r.u32(); err != nil {
		return 0, 0, err
	}
	return primary, count, nil
}

func parsePermissions(r *reader, count uint32) ([]Permission, error) {
	permissions := make([]Permission, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		value, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, Permission{Name: string(name), Value: value})
	}
	return permissions, nil
}

func parseCommonSymbols(r *reader) ([]CommonSymbol, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	commons := make([]CommonSymbol, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		value, err := r.u32()
		if err != nil {
			return nil, err
		}
		// The primary count is read but unused: common symbols have no
		// secondary names.
		if _, err := r.u32(); err != nil {
			return nil, err
		}
		permissionCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		permissions, err := parsePermissions(r, permissionCount)
		if err != nil {
			return nil, err
		}
		commons = append(commons, CommonSymbol{
			Name:        string(name),
			Value:       value,
			Permissions: permissions,
		})
	}
	return commons, nil
}

func parseClasses(r *reader) ([]Class, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	classes := make([]Class, 0, count)
	for i := uint32(0); i < count; i++ {
		class, err := parseClass(r)
		if err != nil {
			return nil, fmt.Errorf("class %d: %w", i, err)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

func parseClass(r *reader) (Class, error) {
	nameLen, err := r.u32()
	if err != nil {
		return Class{}, err
	}
	commonNameLen, err := r.u32()
	if err != nil {
		return Class{}, err
	}
	value, err := r.u32()
	if err != nil {
		return Class{}, err
	}
	// The primary count is read but unused for classes.
	if _, err := r.u32(); err != nil {
		return Class{}, err
	}
	permissionCount, err := r.u32()
	if err != nil {
		return Class{}, err
	}
	constraintCount, err := r.u32()
	if err != nil {
		return Class{}, err
	}
	name, err := r.bytes(nameLen)
	if err != nil {
		return Class{}, err
	}
	commonName, err := r.bytes(commonNameLen)
	if err != nil {
		return Class{}, err
	}
	permissions, err := parsePermissions(r, permissionCount)
	if err != nil {
		return Class{}, err
	}
	constraints, err := parseConstraints(r, constraintCount)
	if err != nil {
		return Class{}, fmt.Errorf("constraints: %w", err)
	}
	validateTransformCount, err := r.u32()
	if err != nil {
		return Class{}, err
	}
	validateTransforms, err := parseConstraints(r, validateTransformCount)
	if err != nil {
		return Class{}, fmt.Errorf("validatetrans constraints: %w", err)
	}
	var defaults ClassDefaults
	if defaults.User, err = r.u32(); err != nil {
		return Class{}, err
	}
	if defaults.Role, err = r.u32(); err != nil {
		return Class{}, err
	}
	if defaults.Range, err = r.u32(); err != nil {
		return Class{}, err
	}
	if defaults.Type, err = r.u32(); err != nil {
		return Class{}, err
	}
	return Class{
		Name:               string(name),
		ID:                 ClassID(value),
		CommonName:         string(commonName),
		Permissions:        permissions,
		Constraints:        constraints,
		ValidateTransforms: validateTransforms,
		Defaults:           defaults,
	}, nil
}

func parseRoles(r *reader) ([]Role, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		value, err := r.u32()
		if err != nil {
			return nil, err
		}
		bounds, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		dominates, err := parseBitmap(r)
		if err != nil {
			return nil, err
		}
		types, err := parseBitmap(r)
		if err != nil {
			return nil, err
		}
		roles = append(roles, Role{
			Name:      string(name),
			ID:        RoleID(value),
			Bounds:    RoleID(bounds),
			Dominates: dominates,
			Types:     types,
		})
	}
	return roles, nil
}

func parseTypes(r *reader) (primaryCount uint32, types []Type, err error) {
	primaryCount, count, err := symbolTableHeader(r)
	if err != nil {
		return 0, nil, err
	}
	types = make([]Type, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		value, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		properties, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		bounds, err := r.u32()
		if err != nil {
			return 0, nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return 0, nil, err
		}
		types = append(types, Type{
			Name:      string(name),
			ID:        TypeID(value),
			Bounds:    TypeID(bounds),
			Primary:   properties&typePropertyPrimary != 0,
			Attribute: properties&typePropertyAttribute != 0,
		})
	}
	return primaryCount, types, nil
}

func parseUsers(r *reader) ([]User, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		value, err := r.u32()
		if err != nil {
			return nil, err
		}
		bounds, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		roles, err := parseBitmap(r)
		if err != nil {
			return nil, err
		}
		mlsRange, err := parseMLSRange(r)
		if err != nil {
			return nil, err
		}
		defaultLevel, err := parseMLSLevel(r)
		if err != nil {
			return nil, err
		}
		users = append(users, User{
			Name:         string(name),
			ID:           UserID(value),
			Bounds:       UserID(bounds),
			Roles:        roles,
			Range:        mlsRange,
			DefaultLevel: defaultLevel,
		})
	}
	return users, nil
}

func parseBooleans(r *reader) ([]Boolean, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	booleans := make([]Boolean, 0, count)
	for i := uint32(0); i < count; i++ {
		value, err := r.u32()
		if err != nil {
			return nil, err
		}
		state, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.counted()
		if err != nil {
			return nil, err
		}
		booleans = append(booleans, Boolean{
			Name:  string(name),
			Value: value,
			State: state != 0,
		})
	}
	return booleans, nil
}

func parseSensitivities(r *reader) ([]Sensitivity, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	sensitivities := make([]Sensitivity, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		isAlias, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		level, err := parseMLSLevel(r)
		if err != nil {
			return nil, err
		}
		sensitivities = append(sensitivities, Sensitivity{
			Name:    string(name),
			IsAlias: isAlias != 0,
			Level:   level,
		})
	}
	return sensitivities, nil
}

func parseCategories(r *reader) ([]Category, error) {
	_, count, err := symbolTableHeader(r)
	if err != nil {
		return nil, err
	}
	categories := make([]Category, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		value, err := r.u32()
		if err != nil {
			return nil, err
		}
		isAlias, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		categories = append(categories, Category{
			Name:    string(name),
			ID:      CategoryID(value),
			IsAlias: isAlias != 0,
		})
	}
	return categories, nil
}
