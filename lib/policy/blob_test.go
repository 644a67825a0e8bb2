// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy_test

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/selkie-project/selkie/lib/policy"
)

func TestDecodePassthrough(t *testing.T) {
	raw := testBuilder().Build()
	decoded, err := policy.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Error("uncompressed blob should pass through unchanged")
	}
}

func TestDecodeZstd(t *testing.T) {
	raw := testBuilder().Build()
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	blob := encoder.EncodeAll(raw, nil)
	encoder.Close()

	decoded, err := policy.Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Error("zstd round trip mismatch")
	}
	if _, err := policy.Parse(decoded); err != nil {
		t.Errorf("Parse of decompressed blob: %v", err)
	}
}

func TestDecodeLZ4(t *testing.T) {
	raw := testBuilder().Build()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("lz4 write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}

	decoded, err := policy.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Error("lz4 round trip mismatch")
	}
}

func TestDecodeRejectsUnknownFormat(t *testing.T) {
	if _, err := policy.Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0, 0}); err == nil {
		t.Error("Decode accepted an unrecognized frame")
	}
	if _, err := policy.Decode([]byte{0x01}); err == nil {
		t.Error("Decode accepted a blob shorter than a magic")
	}
}

func TestDigestBlob(t *testing.T) {
	raw := testBuilder().Build()
	first := policy.DigestBlob(raw)
	second := policy.DigestBlob(raw)
	if first != second {
		t.Error("digest of identical input differs")
	}
	if len(first.String()) != 64 {
		t.Errorf("digest hex length = %d, want 64", len(first.String()))
	}

	changed := append([]byte(nil), raw...)
	changed[len(changed)-1] ^= 0xff
	if policy.DigestBlob(changed) == first {
		t.Error("digest did not change with input")
	}
}
