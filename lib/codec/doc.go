// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Selkie's standard CBOR encoding configuration.
//
// Selkie uses two serialization formats with a clear boundary:
//
//   - JSON for human-facing interfaces: CLI --format=json output and
//     configuration-adjacent tooling.
//   - CBOR for machine-facing streams: security server status
//     snapshots, policy inspection dumps, and any state persisted or
//     transported between components.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Selkie package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which keeps status streams comparable byte-for-byte.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (status streams, files):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
