// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/binary"
	"fmt"
)

// ParseError describes a malformed binary policy. The offset is the
// byte position in the input at which the parser ran out of data or
// found a value it could not accept. Higher-level parse steps wrap
// ParseError with "parsing <section>" context, so the full error chain
// names both the section and the byte offset.
type ParseError struct {
	// Offset is the byte offset in the policy blob at which parsing
	// failed.
	Offset int

	// Msg describes the failure.
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (at offset %d)", e.Msg, e.Offset)
}

// reader is a little-endian cursor over the policy blob. All parse
// functions consume from the front; the final cursor position is used
// to detect trailing bytes.
type reader struct {
	data []byte
	off  int
}

func (r *reader) errorf(format string, args ...any) error {
	return &ParseError{Offset: r.off, Msg: fmt.Sprintf(format, args...)}
}

// remaining returns the number of unconsumed bytes.
func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if uint64(n) > uint64(r.remaining()) {
		return nil, r.errorf("need %d bytes, have %d", n, r.remaining())
	}
	b := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// counted reads a u32 length followed by that many raw bytes. Used for
// all length-prefixed strings in the policy format. The length is
// bounded by the remaining input, so a corrupt length fails cleanly
// rather than attempting a huge allocation.
func (r *reader) counted() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.bytes(n)
}

// string reads a length-prefixed string.
func (r *reader) string() (string, error) {
	b, err := r.counted()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
