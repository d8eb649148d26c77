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
	"fmt"
)

// HeaderSize is the size of an encoded frame header.
const HeaderSize = 8

// Type identifies what a frame carries. All values are below 64 so that sets
// of types can be represented as a uint64 bitmask, see Type.Bit.
type Type uint8

const (
	None Type = 0

	// Control frames.
	Ping  Type = 1
	Pong  Type = 2
	Fatal Type = 3
	Error Type = 4
	Debug Type = 5

	// Request lifecycle.
	Request Type = 8
	Submit  Type = 9
	Cancel  Type = 10

	// Request arguments.
	ArgPath    Type = 12
	ArgFD      Type = 14
	SendData   Type = 16
	IOCount    Type = 17
	SeekOffset Type = 18

	// Responses.
	Result     Type = 32
	DentryName Type = 33
	RecvData   Type = 34
	StatMode   Type = 35
	StatNlink  Type = 36
	StatSize   Type = 37

	// Flow control.
	AckRead  Type = 48
	AckWrite Type = 49
)

var typeNames = map[Type]string{
	Ping:       "ping",
	Pong:       "pong",
	Fatal:      "fatal",
	Error:      "error",
	Debug:      "debug",
	Request:    "request",
	Submit:     "submit",
	Cancel:     "cancel",
	ArgPath:    "path",
	ArgFD:      "fd",
	SendData:   "sent data",
	IOCount:    "I/O byte count",
	SeekOffset: "seek offset",
	Result:     "result",
	DentryName: "dentry name",
	RecvData:   "received data",
	StatMode:   "stat mode",
	StatNlink:  "stat nlink",
	StatSize:   "stat size",
	AckRead:    "read ack",
	AckWrite:   "write ack",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("frame type %d", uint8(t))
}

// Known reports whether t is part of the wire contract.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Bit returns the bit representing t in a uint64 type mask.
func (t Type) Bit() uint64 {
	return 1 << (t & 63)
}

// RequestType is carried in the data byte of a Request frame.
type RequestType uint8

const (
	ReqNone    RequestType = 0
	ReqVersion RequestType = 1
	ReqAuth    RequestType = 2
	ReqStat    RequestType = 3
	ReqList    RequestType = 4
	ReqRead    RequestType = 5
	ReqWrite   RequestType = 6
	ReqOpen    RequestType = 7
	ReqClose   RequestType = 8
	ReqLink    RequestType = 9
)

var requestNames = [...]string{
	ReqNone:    "none",
	ReqVersion: "vers",
	ReqAuth:    "auth",
	ReqStat:    "stat",
	ReqList:    "list",
	ReqRead:    "read",
	ReqWrite:   "write",
	ReqOpen:    "open",
	ReqClose:   "close",
	ReqLink:    "link",
}

func (r RequestType) String() string {
	if int(r) < len(requestNames) {
		return requestNames[r]
	}
	return fmt.Sprintf("request type %d", uint8(r))
}

// Header is the decoded form of a frame header.
type Header struct {
	Type  Type
	Size  uint16 // Payload length, 0 if the value is inline.
	Chain uint8
	ID    uint8 // Request id.
	Data  uint8 // Inline value or request type.
}

// ParseHeader decodes the first HeaderSize bytes of b. It panics if b is
// shorter than that.
func ParseHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Type:  Type(b[1]),
		Size:  binary.BigEndian.Uint16(b[2:4]),
		Chain: b[4],
		ID:    b[5],
		Data:  b[7],
	}
}

// Bytes encodes the header. Reserved bytes are always zero.
func (h Header) Bytes() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[1] = byte(h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.Size)
	b[4] = h.Chain
	b[5] = h.ID
	b[7] = h.Data
	return b
}

// Frame is a reassembled frame. Payload aliases the reassembly buffer and is
// only valid for the duration of the handler call it is passed to; copy it to
// retain it.
type Frame struct {
	Header
	Payload []byte
}

// Value decodes the integer the frame carries, see DecodeValue.
func (f Frame) Value() (uint64, error) {
	return DecodeValue(f)
}

// Uint32 decodes the integer the frame carries, failing with
// ErrIntegerOverflow if it doesn't fit 32 bits.
func (f Frame) Uint32() (uint32, error) {
	v, err := DecodeValue(f)
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, ErrIntegerOverflow
	}
	return uint32(v), nil
}

func (f Frame) String() string {
	if f.Type == Request {
		return fmt.Sprintf("%s(%s) id=%d", f.Type, RequestType(f.Data), f.ID)
	}
	if f.Size == 0 {
		return fmt.Sprintf("%s(%d) id=%d", f.Type, f.Data, f.ID)
	}
	return fmt.Sprintf("%s[%d bytes] id=%d", f.Type, f.Size, f.ID)
}

// PaddedSize returns the size of the payload region of a frame carrying n
// payload bytes, i.e. n rounded up to a multiple of four.
func PaddedSize(n int) int {
	return (n + 3) &^ 3
}

// Size returns the total encoded size of a frame carrying n payload bytes.
func Size(n int) int {
	return HeaderSize + PaddedSize(n)
}
