// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compressed-container frame magics, sniffed from the front of a
// policy blob before parsing.
const (
	zstdFrameMagic uint32 = 0xfd2fb528
	lz4FrameMagic  uint32 = 0x184d2204
)

// maxDecodedPolicySize bounds decompression output so a hostile blob
// cannot balloon into arbitrary memory.
const maxDecodedPolicySize = 1 << 28 // 256 MiB

// zstdDecoder is reused across calls; zstd.Decoder is safe for
// concurrent use.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(maxDecodedPolicySize),
	)
	if err != nil {
		panic("policy: zstd decoder initialization failed: " + err.Error())
	}
}

// Decode returns the raw binary policy held in blob, transparently
// decompressing zstd and lz4 frames. A blob that already starts with
// the policy magic passes through unchanged.
func Decode(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("policy blob is %d bytes, too short to identify", len(blob))
	}
	switch binary.LittleEndian.Uint32(blob[:4]) {
	case policyMagic:
		return blob, nil
	case zstdFrameMagic:
		raw, err := zstdDecoder.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return raw, nil
	case lz4FrameMagic:
		r := lz4.NewReader(bytes.NewReader(blob))
		raw, err := io.ReadAll(io.LimitReader(r, maxDecodedPolicySize+1))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if len(raw) > maxDecodedPolicySize {
			return nil, fmt.Errorf("lz4 decompress: output exceeds %d bytes", maxDecodedPolicySize)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("policy blob starts with %#08x, not a policy or a recognized compression frame",
		binary.LittleEndian.Uint32(blob[:4]))
}

// Digest is a 32-byte BLAKE3 digest identifying one exact policy
// blob. It is published in status snapshots so observers can detect
// reloads.
type Digest [32]byte

// blobDomainKey separates policy-blob digests from any other BLAKE3
// use. The bytes are the ASCII domain name, zero-padded to 32 bytes;
// changing them invalidates all published digests.
var blobDomainKey = [32]byte{
	's', 'e', 'l', 'k', 'i', 'e', '.', 'p', 'o', 'l', 'i', 'c', 'y', '.',
	'b', 'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DigestBlob computes the identifying digest of a policy blob. The
// digest covers the bytes as supplied, compressed or not, so it
// matches what the administrator loaded.
func DigestBlob(blob []byte) Digest {
	hasher, err := blake3.NewKeyed(blobDomainKey[:])
	if err != nil {
		panic("policy: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(blob)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// String returns the canonical hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
