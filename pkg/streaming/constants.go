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

package streaming

const (
	// ReadChunkSize is the size of the data frames a server emits while
	// streaming a file back to the client.
	ReadChunkSize = 4096

	// BlockSize is the size of the data frames a payload is split into when
	// it doesn't fit a single frame.
	BlockSize = 16 * 1024

	// MaxPayload is the largest payload a single frame can carry, bounded by
	// the 16-bit length field of the header.
	MaxPayload = 0xFFFF
)
