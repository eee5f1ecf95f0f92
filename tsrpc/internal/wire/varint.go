// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
)

// PutUvarint appends the varuint encoding of v to buf, returning the
// extended slice. This is the length-prefix encoding used by the binary
// box framing (serviceId, sn).
//
// There is no third-party varint codec in the retrieved pack that improves
// on the standard library's LEB128 implementation, so this stays on
// encoding/binary.
func PutUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// ReadUvarint reads a varuint from the front of buf, returning the value
// and the remaining unread bytes.
func ReadUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, fmt.Errorf("wire: malformed varuint")
	}
	return v, buf[n:], nil
}
