// Copyright 2018 The Kura Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kurafs/freemount/pkg/streaming"
)

var (
	// ErrBadIntegerSize is returned when decoding an integer from a frame
	// whose payload is neither empty, 4 nor 8 bytes long.
	ErrBadIntegerSize = errors.New("frame: bad integer size")

	// ErrIntegerOverflow is returned when a decoded integer doesn't fit the
	// width the caller asked for.
	ErrIntegerOverflow = errors.New("frame: integer overflow")

	// ErrPayloadTooLarge is returned when encoding a payload that doesn't
	// fit the 16-bit length field.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// DecodeValue returns the unsigned integer carried by f: the inline data byte
// if the frame has no payload, else the 32 or 64-bit big-endian payload.
func DecodeValue(f Frame) (uint64, error) {
	switch f.Size {
	case 0:
		return uint64(f.Data), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(f.Payload)), nil
	case 8:
		return binary.BigEndian.Uint64(f.Payload), nil
	default:
		return 0, fmt.Errorf("%w (%d bytes)", ErrBadIntegerSize, f.Size)
	}
}

// EncodeValue returns the encoded frame carrying v, using the smallest
// representation: inline for v <= 255, else a 4 or 8 byte payload.
func EncodeValue(h Header, v uint64) []byte {
	var payload []byte
	switch {
	case v <= 0xFF:
		h.Size, h.Data = 0, uint8(v)
	case v <= 0xFFFFFFFF:
		h.Size, h.Data = 4, 0
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(v))
	default:
		h.Size, h.Data = 8, 0
		payload = make([]byte, 8)
		binary.BigEndian.PutUint64(payload, v)
	}

	hdr := h.Bytes()
	return append(hdr[:], payload...)
}

// Encode returns the encoded frame carrying payload, zero-padded to a
// multiple of four bytes. The header's Size is set from the payload.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > streaming.MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	h.Size = uint16(len(payload))

	b := make([]byte, Size(len(payload)))
	hdr := h.Bytes()
	copy(b, hdr[:])
	copy(b[HeaderSize:], payload)
	return b, nil
}
