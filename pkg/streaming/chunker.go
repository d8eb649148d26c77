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

// Chunker is an iterator which returns consecutive parts of a byte array, each
// of the configured size except possibly the last.
//
//      chunker := NewChunker(payload, BlockSize)
//      for chunker.Next() {
//              send(chunker.Value())
//      }
type Chunker struct {
	part   int
	size   int
	source []byte
}

// NewChunker returns a Chunker positioned before the first chunk of source.
// A non-positive size falls back to BlockSize.
func NewChunker(source []byte, size int) *Chunker {
	if size <= 0 {
		size = BlockSize
	}
	return &Chunker{part: -1, size: size, source: source}
}

// Value returns the current value of the Chunker.
func (c *Chunker) Value() []byte {
	end := (c.part + 1) * c.size
	if end >= len(c.source) {
		end = len(c.source)
	}
	return c.source[c.part*c.size : end]
}

// Next advances the iterator to the next chunk, reporting whether there is
// one.
func (c *Chunker) Next() bool {
	c.part++
	return c.part*c.size < len(c.source)
}

// Count returns the total number of chunks the source splits into.
func (c *Chunker) Count() int {
	return (len(c.source) + c.size - 1) / c.size
}
