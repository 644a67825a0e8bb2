// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"io"
	"sync"

	"github.com/selkie-project/selkie/lib/codec"
)

// Status is a snapshot of the server's enforcement state, pushed to
// the registered publisher after every mutating operation (policy
// load, enforcing-mode change, boolean commit). External caches use
// ChangeCount and IsEnforcing as freshness tokens.
type Status struct {
	IsEnforcing  bool   `json:"is_enforcing"`
	ChangeCount  uint32 `json:"change_count"`
	DenyUnknown  bool   `json:"deny_unknown"`
	PolicyDigest string `json:"policy_digest,omitempty"`
}

// StatusPublisher is a write-only sink for enforcement status
// snapshots. Implementations must not call back into the server.
type StatusPublisher interface {
	PublishStatus(Status)
}

// StreamPublisher writes each status snapshot as one CBOR item to an
// underlying writer, typically a socket or an append-only file.
type StreamPublisher struct {
	mu      sync.Mutex
	encoder *codec.Encoder
	err     error
}

// NewStreamPublisher returns a publisher streaming CBOR-encoded
// snapshots to w.
func NewStreamPublisher(w io.Writer) *StreamPublisher {
	return &StreamPublisher{encoder: codec.NewEncoder(w)}
}

// PublishStatus encodes the snapshot onto the stream. The first
// encode failure is retained and stops further writes; check Err
// after the stream's consumer disconnects.
func (p *StreamPublisher) PublishStatus(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = p.encoder.Encode(status)
}

// Err returns the first encode failure, if any.
func (p *StreamPublisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
