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

// Package frame implements the Freemount wire format: the 8-byte frame
// header, inline and out-of-line integer values, the reassembly of a raw byte
// stream into whole frames and the buffered send queue frames are written out
// through.
//
// Every frame starts with the following header, multi-byte fields in network
// byte order:
//
//      byte 0     reserved (zero)
//      byte 1     frame type
//      bytes 2-3  payload length, 0 when the value is carried inline
//      byte 4     chain id (unused by the protocol logic)
//      byte 5     request id
//      byte 6     reserved (zero)
//      byte 7     inline value, or the request type of a request frame
//
// A payload, if any, immediately follows the header and is zero-padded to the
// next multiple of four bytes. A frame is therefore always 4-byte aligned and
// never larger than 8 + 65536 bytes.
//
// Integers that fit a byte are sent inline (length 0). Larger ones are sent as
// a 4 or 8 byte big-endian payload, whichever is the smallest that fits.
package frame
