// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/binary"
	"fmt"
)

// Context is a security context as encoded inside the binary policy:
// identifiers plus an MLS range, with no name resolution involved.
type Context struct {
	User  UserID
	Role  RoleID
	Type  TypeID
	Range MLSRange
}

// securityContext widens a binary context into the in-memory form,
// collapsing a degenerate range into a range-free context.
func (c *Context) securityContext() SecurityContext {
	low := c.Range.Low.level()
	var high *SecurityLevel
	if c.Range.High != nil {
		h := c.Range.High.level()
		if !h.Equal(low) {
			high = &h
		}
	}
	return SecurityContext{
		User: c.User,
		Role: c.Role,
		Type: c.Type,
		Low:  low,
		High: high,
	}
}

func parseContext(r *reader) (Context, error) {
	user, err := r.u32()
	if err != nil {
		return Context{}, err
	}
	role, err := r.u32()
	if err != nil {
		return Context{}, err
	}
	typ, err := r.u32()
	if err != nil {
		return Context{}, err
	}
	mlsRange, err := parseMLSRange(r)
	if err != nil {
		return Context{}, err
	}
	return Context{
		User:  UserID(user),
		Role:  RoleID(role),
		Type:  TypeID(typ),
		Range: mlsRange,
	}, nil
}

// RoleTransition rewrites the role of new objects created by a source
// role over a target type of a given class.
type RoleTransition struct {
	CurrentRole RoleID
	Type        TypeID
	Class       ClassID
	NewRole     RoleID
}

func parseRoleTransitions(r *reader) ([]RoleTransition, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	transitions := make([]RoleTransition, 0, count)
	for i := uint32(0); i < count; i++ {
		currentRole, err := r.u32()
		if err != nil {
			return nil, err
		}
		typ, err := r.u32()
		if err != nil {
			return nil, err
		}
		newRole, err := r.u32()
		if err != nil {
			return nil, err
		}
		class, err := r.u32()
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, RoleTransition{
			CurrentRole: RoleID(currentRole),
			Type:        TypeID(typ),
			Class:       ClassID(class),
			NewRole:     RoleID(newRole),
		})
	}
	return transitions, nil
}

// RoleAllow permits a role change from a source to a new role.
type RoleAllow struct {
	SourceRole RoleID
	NewRole    RoleID
}

func parseRoleAllows(r *reader) ([]RoleAllow, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	allows := make([]RoleAllow, 0, count)
	for i := uint32(0); i < count; i++ {
		source, err := r.u32()
		if err != nil {
			return nil, err
		}
		newRole, err := r.u32()
		if err != nil {
			return nil, err
		}
		allows = append(allows, RoleAllow{SourceRole: RoleID(source), NewRole: RoleID(newRole)})
	}
	return allows, nil
}

// RangeTransition overrides the MLS range of new objects created by a
// source type over a target type of a given class.
type RangeTransition struct {
	SourceType TypeID
	TargetType TypeID
	Class      ClassID
	Range      MLSRange
}

func parseRangeTransitions(r *reader) ([]RangeTransition, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	transitions := make([]RangeTransition, 0, count)
	for i := uint32(0); i < count; i++ {
		source, err := r.u32()
		if err != nil {
			return nil, err
		}
		target, err := r.u32()
		if err != nil {
			return nil, err
		}
		class, err := r.u32()
		if err != nil {
			return nil, err
		}
		mlsRange, err := parseMLSRange(r)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, RangeTransition{
			SourceType: TypeID(source),
			TargetType: TypeID(target),
			Class:      ClassID(class),
			Range:      mlsRange,
		})
	}
	return transitions, nil
}

// FilenameTransition rewrites the type of a new file object when its
// name matches exactly, keyed by target type, class, and source type.
type FilenameTransition struct {
	Name        string
	TargetType  TypeID
	Class       ClassID
	SourceTypes Bitmap
	NewType     TypeID
}

// parseFilenameTransitions handles both encodings: the legacy one-row-
// per-source layout used through version 32, and the compact layout of
// version 33 which groups sources into a bitmap per (name, target,
// class, new-type) key.
func parseFilenameTransitions(r *reader, version uint32) ([]FilenameTransition, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	var transitions []FilenameTransition
	for i := uint32(0); i < count; i++ {
		if version >= minVersionForCompactFilenameTransitions {
			name, err := r.string()
			if err != nil {
				return nil, err
			}
			target, err := r.u32()
			if err != nil {
				return nil, err
			}
			class, err := r.u32()
			if err != nil {
				return nil, err
			}
			entries, err := r.u32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < entries; j++ {
				sources, err := parseBitmap(r)
				if err != nil {
					return nil, err
				}
				newType, err := r.u32()
				if err != nil {
					return nil, err
				}
				transitions = append(transitions, FilenameTransition{
					Name:        name,
					TargetType:  TypeID(target),
					Class:       ClassID(class),
					SourceTypes: sources,
					NewType:     TypeID(newType),
				})
			}
			continue
		}

		name, err := r.string()
		if err != nil {
			return nil, err
		}
		source, err := r.u32()
		if err != nil {
			return nil, err
		}
		target, err := r.u32()
		if err != nil {
			return nil, err
		}
		class, err := r.u32()
		if err != nil {
			return nil, err
		}
		newType, err := r.u32()
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, FilenameTransition{
			Name:        name,
			TargetType:  TypeID(target),
			Class:       ClassID(class),
			SourceTypes: singleBitBitmap(source - 1),
			NewType:     TypeID(newType),
		})
	}
	return transitions, nil
}

// singleBitBitmap builds a bitmap with exactly one bit set, used to
// fold the legacy filename-transition layout into the compact form.
func singleBitBitmap(bit uint32) Bitmap {
	return Bitmap{
		highBit: (bit/mapUnitBits + 1) * mapUnitBits,
		nodes: []bitmapNode{{
			start: bit / mapUnitBits * mapUnitBits,
			bits:  1 << (bit % mapUnitBits),
		}},
	}
}

// InitialSIDContext binds a well-known initial security identifier to
// its context.
type InitialSIDContext struct {
	SID     uint32
	Context Context
}

// FsUseType selects which labeling scheme a fs_use statement applies.
type FsUseType uint32

const (
	// FsUseXattr labels nodes from extended attributes.
	FsUseXattr FsUseType = 1
	// FsUseTrans computes node labels by type transition.
	FsUseTrans FsUseType = 2
	// FsUseTask labels nodes from the creating task.
	FsUseTask FsUseType = 3
)

// FsUseContext labels a whole filesystem type with a context and a
// node-labeling scheme.
type FsUseContext struct {
	Name    string
	Type    FsUseType
	Context Context
}

// PortContext labels a protocol/port range.
type PortContext struct {
	Protocol uint32
	PortLow  uint16
	PortHigh uint16
	Context  Context
}

// NodeContext labels an IPv4 address mask.
type NodeContext struct {
	Address uint32
	Mask    uint32
	Context Context
}

// Node6Context labels an IPv6 address mask.
type Node6Context struct {
	Address [4]uint32
	Mask    [4]uint32
	Context Context
}

// IBPkeyContext labels an InfiniBand partition key range.
type IBPkeyContext struct {
	SubnetPrefix uint64
	PkeyLow      uint16
	PkeyHigh     uint16
	Context      Context
}

// IBEndPortContext labels an InfiniBand device end port.
type IBEndPortContext struct {
	DeviceName string
	Port       uint32
	Context    Context
}

// NamedContextPair labels a named entity with a pair of contexts.
// Used for the legacy filesystem section and for network interfaces,
// where the second context labels unlabeled messages.
type NamedContextPair struct {
	Name          string
	Context       Context
	SecondContext Context
}

// objectContexts holds every ocontext section of the policy.
type objectContexts struct {
	InitialSIDs []InitialSIDContext
	Filesystems []NamedContextPair
	Ports       []PortContext
	Netifs      []NamedContextPair
	Nodes       []NodeContext
	FsUses      []FsUseContext
	Nodes6      []Node6Context
	IBPkeys     []IBPkeyContext
	IBEndPorts  []IBEndPortContext
}

func parseObjectContexts(r *reader, version uint32) (contexts objectContexts, err error) {
	if contexts.InitialSIDs, err = parseInitialSIDs(r); err != nil {
		return contexts, fmt.Errorf("parsing initial sids: %w", err)
	}
	if contexts.Filesystems, err = parseNamedContextPairs(r); err != nil {
		return contexts, fmt.Errorf("parsing filesystem contexts: %w", err)
	}
	if contexts.Ports, err = parsePorts(r); err != nil {
		return contexts, fmt.Errorf("parsing ports: %w", err)
	}
	if contexts.Netifs, err = parseNamedContextPairs(r); err != nil {
		return contexts, fmt.Errorf("parsing network interfaces: %w", err)
	}
	if contexts.Nodes, err = parseNodes(r); err != nil {
		return contexts, fmt.Errorf("parsing nodes: %w", err)
	}
	if contexts.FsUses, err = parseFsUses(r); err != nil {
		return contexts, fmt.Errorf("parsing fs uses: %w", err)
	}
	if contexts.Nodes6, err = parseNodes6(r); err != nil {
		return contexts, fmt.Errorf("parsing ipv6 nodes: %w", err)
	}
	if version >= minVersionForInfiniBand {
		if contexts.IBPkeys, err = parseIBPkeys(r); err != nil {
			return contexts, fmt.Errorf("parsing infiniband partition keys: %w", err)
		}
		if contexts.IBEndPorts, err = parseIBEndPorts(r); err != nil {
			return contexts, fmt.Errorf("parsing infiniband end ports: %w", err)
		}
	}
	return contexts, nil
}

func parseInitialSIDs(r *reader) ([]InitialSIDContext, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	sids := make([]InitialSIDContext, 0, count)
	for i := uint32(0); i < count; i++ {
		sid, err := r.u32()
		if err != nil {
			return nil, err
		}
		context, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		sids = append(sids, InitialSIDContext{SID: sid, Context: context})
	}
	return sids, nil
}

func parseNamedContextPairs(r *reader) ([]NamedContextPair, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	pairs := make([]NamedContextPair, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		first, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		second, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, NamedContextPair{Name: name, Context: first, SecondContext: second})
	}
	return pairs, nil
}

func parsePorts(r *reader) ([]PortContext, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	ports := make([]PortContext, 0, count)
	for i := uint32(0); i < count; i++ {
		protocol, err := r.u32()
		if err != nil {
			return nil, err
		}
		low, err := r.u32()
		if err != nil {
			return nil, err
		}
		high, err := r.u32()
		if err != nil {
			return nil, err
		}
		context, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		ports = append(ports, PortContext{
			Protocol: protocol,
			PortLow:  uint16(low),
			PortHigh: uint16(high),
			Context:  context,
		})
	}
	return ports, nil
}

func parseNodes(r *reader) ([]NodeContext, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]NodeContext, 0, count)
	for i := uint32(0); i < count; i++ {
		address, err := r.u32()
		if err != nil {
			return nil, err
		}
		mask, err := r.u32()
		if err != nil {
			return nil, err
		}
		context, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, NodeContext{Address: address, Mask: mask, Context: context})
	}
	return nodes, nil
}

func parseFsUses(r *reader) ([]FsUseContext, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	fsUses := make([]FsUseContext, 0, count)
	for i := uint32(0); i < count; i++ {
		fsType, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		context, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		fsUses = append(fsUses, FsUseContext{
			Name:    name,
			Type:    FsUseType(fsType),
			Context: context,
		})
	}
	return fsUses, nil
}

func parseNodes6(r *reader) ([]Node6Context, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]Node6Context, 0, count)
	for i := uint32(0); i < count; i++ {
		var node Node6Context
		for w := range node.Address {
			if node.Address[w], err = r.u32(); err != nil {
				return nil, err
			}
		}
		for w := range node.Mask {
			if node.Mask[w], err = r.u32(); err != nil {
				return nil, err
			}
		}
		if node.Context, err = parseContext(r); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func parseIBPkeys(r *reader) ([]IBPkeyContext, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	pkeys := make([]IBPkeyContext, 0, count)
	for i := uint32(0); i < count; i++ {
		// The subnet prefix is stored in network byte order, unlike
		// the rest of the format.
		prefix, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		pkeyLow, err := r.u32()
		if err != nil {
			return nil, err
		}
		pkeyHigh, err := r.u32()
		if err != nil {
			return nil, err
		}
		context, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		pkeys = append(pkeys, IBPkeyContext{
			SubnetPrefix: binary.BigEndian.Uint64(prefix),
			PkeyLow:      uint16(pkeyLow),
			PkeyHigh:     uint16(pkeyHigh),
			Context:      context,
		})
	}
	return pkeys, nil
}

func parseIBEndPorts(r *reader) ([]IBEndPortContext, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	ports := make([]IBEndPortContext, 0, count)
	for i := uint32(0); i < count; i++ {
		// Name length and port precede the name bytes.
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		port, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, err
		}
		context, err := parseContext(r)
		if err != nil {
			return nil, err
		}
		ports = append(ports, IBEndPortContext{DeviceName: string(name), Port: port, Context: context})
	}
	return ports, nil
}

// GenfsContext labels paths under a filesystem that supports neither
// xattrs nor a per-mount scheme, matched by longest path prefix with
// an optional object class qualifier.
type GenfsContext struct {
	PathPrefix string
	Class      ClassID
	Context    Context
}

// GenfsEntry collects the path contexts declared for one filesystem
// type, ordered as written in the policy.
type GenfsEntry struct {
	FsType   string
	Contexts []GenfsContext
}

func parseGenfsContexts(r *reader) ([]GenfsEntry, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	entries := make([]GenfsEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		fsType, err := r.string()
		if err != nil {
			return nil, err
		}
		pathCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		contexts := make([]GenfsContext, 0, pathCount)
		for j := uint32(0); j < pathCount; j++ {
			prefix, err := r.string()
			if err != nil {
				return nil, err
			}
			class, err := r.u32()
			if err != nil {
				return nil, err
			}
			context, err := parseContext(r)
			if err != nil {
				return nil, err
			}
			contexts = append(contexts, GenfsContext{
				PathPrefix: prefix,
				Class:      ClassID(class),
				Context:    context,
			})
		}
		entries = append(entries, GenfsEntry{FsType: fsType, Contexts: contexts})
	}
	return entries, nil
}
