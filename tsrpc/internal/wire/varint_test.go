// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wire

import "testing"

func TestPutReadUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1}
	var buf []byte
	for _, v := range values {
		buf = PutUvarint(buf, v)
	}
	for _, want := range values {
		got, rest, err := ReadUvarint(buf)
		if err != nil {
			t.Fatalf("ReadUvarint() unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("ReadUvarint() = %d, want %d", got, want)
		}
		buf = rest
	}
	if len(buf) != 0 {
		t.Errorf("leftover bytes after decoding all values: %d", len(buf))
	}
}

func TestReadUvarintRejectsEmpty(t *testing.T) {
	if _, _, err := ReadUvarint(nil); err == nil {
		t.Error("ReadUvarint(nil) expected error, got nil")
	}
}

func TestReadUvarintRejectsOverflow(t *testing.T) {
	// Ten 0xFF bytes overflow a 64-bit varuint encoding.
	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = 0xFF
	}
	if _, _, err := ReadUvarint(buf); err == nil {
		t.Error("ReadUvarint() expected overflow error, got nil")
	}
}
