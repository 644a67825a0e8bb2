// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownBoolean reports a boolean name the loaded policy does not
// declare.
var ErrUnknownBoolean = errors.New("boolean not defined by policy")

// booleans holds the active and pending values of the conditional
// booleans declared by the loaded policy. Entries are created at
// policy load; pending changes accumulate until committed.
type booleans struct {
	active  map[string]bool
	pending map[string]bool
}

func (b *booleans) reset(declared map[string]bool) {
	b.active = declared
	b.pending = nil
}

func (b *booleans) names() []string {
	names := make([]string, 0, len(b.active))
	for name := range b.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *booleans) setPending(name string, value bool) error {
	if _, ok := b.active[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBoolean, name)
	}
	if b.pending == nil {
		b.pending = make(map[string]bool)
	}
	b.pending[name] = value
	return nil
}

func (b *booleans) get(name string) (active, pending bool, err error) {
	active, ok := b.active[name]
	if !ok {
		return false, false, fmt.Errorf("%w: %q", ErrUnknownBoolean, name)
	}
	pending = active
	if value, ok := b.pending[name]; ok {
		pending = value
	}
	return active, pending, nil
}

func (b *booleans) commit() {
	for name, value := range b.pending {
		b.active[name] = value
	}
	b.pending = nil
}
