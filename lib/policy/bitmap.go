// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// mapUnitBits is the only map-unit size the binary format permits for
// extensible bitmaps. It is a format constant, not a tunable.
const mapUnitBits = 64

// Bitmap is an extensible bitmap: a sparse bit-set encoded as a sorted
// list of 64-bit nodes, each covering an aligned window of the bit
// space. The policy uses bitmaps for attribute membership, permissive
// types, user role sets, and MLS category sets.
type Bitmap struct {
	highBit uint32
	nodes   []bitmapNode
}

type bitmapNode struct {
	start uint32
	bits  uint64
}

func parseBitmap(r *reader) (Bitmap, error) {
	unit, err := r.u32()
	if err != nil {
		return Bitmap{}, err
	}
	if unit != mapUnitBits {
		return Bitmap{}, r.errorf("bitmap map-unit size is %d, want %d", unit, mapUnitBits)
	}
	highBit, err := r.u32()
	if err != nil {
		return Bitmap{}, err
	}
	count, err := r.u32()
	if err != nil {
		return Bitmap{}, err
	}
	nodes := make([]bitmapNode, 0, count)
	for i := uint32(0); i < count; i++ {
		start, err := r.u32()
		if err != nil {
			return Bitmap{}, err
		}
		bits, err := r.u64()
		if err != nil {
			return Bitmap{}, err
		}
		nodes = append(nodes, bitmapNode{start: start, bits: bits})
	}
	return Bitmap{highBit: highBit, nodes: nodes}, nil
}

// validate checks the structural invariants the format requires: the
// high bit is 64-aligned, nodes are aligned, strictly ordered, and all
// below the high bit, and no node is empty.
func (b Bitmap) validate() error {
	if b.highBit%mapUnitBits != 0 {
		return fmt.Errorf("bitmap high bit %d is not a multiple of %d", b.highBit, mapUnitBits)
	}
	for i, node := range b.nodes {
		if node.start%mapUnitBits != 0 {
			return fmt.Errorf("bitmap node %d starts at unaligned bit %d", i, node.start)
		}
		if node.start+mapUnitBits > b.highBit {
			return fmt.Errorf("bitmap node %d at bit %d exceeds high bit %d", i, node.start, b.highBit)
		}
		if i > 0 && node.start <= b.nodes[i-1].start {
			return fmt.Errorf("bitmap node %d at bit %d is not after previous node at bit %d",
				i, node.start, b.nodes[i-1].start)
		}
		if node.bits == 0 {
			return fmt.Errorf("bitmap node %d at bit %d is empty", i, node.start)
		}
	}
	return nil
}

// IsSet reports whether the 0-based bit is set.
func (b Bitmap) IsSet(bit uint32) bool {
	if bit >= b.highBit {
		return false
	}
	for _, node := range b.nodes {
		if bit >= node.start && bit < node.start+mapUnitBits {
			return node.bits&(1<<(bit-node.start)) != 0
		}
		if node.start > bit {
			break
		}
	}
	return false
}

// HighBit returns the exclusive upper bound of the bit space.
func (b Bitmap) HighBit() uint32 {
	return b.highBit
}

// IsEmpty reports whether no bit is set.
func (b Bitmap) IsEmpty() bool {
	return len(b.nodes) == 0
}

// forEach calls fn for every set bit, in ascending order.
func (b Bitmap) forEach(fn func(bit uint32)) {
	for _, node := range b.nodes {
		for i := uint32(0); i < mapUnitBits; i++ {
			if node.bits&(1<<i) != 0 {
				fn(node.start + i)
			}
		}
	}
}
