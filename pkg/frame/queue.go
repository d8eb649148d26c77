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
	"io"

	"github.com/kurafs/freemount/pkg/streaming"
)

// QueueCapacity is the size of a Queue's buffer.
const QueueCapacity = 1024

var zeroPad [4]byte

// Queue batches outgoing frames in a fixed buffer and writes them to the
// underlying writer on Flush, or earlier when the buffer runs full. Frames
// never interleave at the byte level as long as a Queue is used by one
// goroutine at a time; it does no locking of its own.
type Queue struct {
	w   io.Writer
	buf [QueueCapacity]byte
	n   int
}

// NewQueue returns a Queue writing to w.
func NewQueue(w io.Writer) *Queue {
	return &Queue{w: w}
}

// Add appends p to the queue. If p doesn't fit the free space the queue is
// flushed first, and if p doesn't fit the whole buffer it is written through
// directly.
func (q *Queue) Add(p []byte) error {
	if len(p) > QueueCapacity-q.n {
		if err := q.Flush(); err != nil {
			return err
		}
	}
	if len(p) > QueueCapacity {
		return writeFull(q.w, p)
	}
	q.n += copy(q.buf[q.n:], p)
	return nil
}

// Flush writes all buffered bytes out. The buffer is emptied even if the
// write fails.
func (q *Queue) Flush() error {
	if q.n == 0 {
		return nil
	}
	err := writeFull(q.w, q.buf[:q.n])
	q.n = 0
	return err
}

// Buffered returns the number of bytes waiting to be flushed.
func (q *Queue) Buffered() int {
	return q.n
}

// Empty queues a frame with no value.
func (q *Queue) Empty(t Type, id uint8) error {
	hdr := Header{Type: t, ID: id}.Bytes()
	return q.Add(hdr[:])
}

// Request queues the frame opening request id of type rt.
func (q *Queue) Request(rt RequestType, id uint8) error {
	hdr := Header{Type: Request, ID: id, Data: uint8(rt)}.Bytes()
	return q.Add(hdr[:])
}

// Int queues a frame carrying v in its smallest encoding.
func (q *Queue) Int(t Type, v uint64, id uint8) error {
	return q.Add(EncodeValue(Header{Type: t, ID: id}, v))
}

// String queues a frame carrying s as its payload.
func (q *Queue) String(t Type, s []byte, id uint8) error {
	if len(s) > streaming.MaxPayload {
		return ErrPayloadTooLarge
	}

	hdr := Header{Type: t, Size: uint16(len(s)), ID: id}.Bytes()
	if err := q.Add(hdr[:]); err != nil {
		return err
	}
	if err := q.Add(s); err != nil {
		return err
	}
	return q.Add(zeroPad[:PaddedSize(len(s))-len(s)])
}

// Buffer queues data of any length. Data that fits a single frame is sent
// as one; larger data is announced with an IOCount frame carrying the total
// length, followed by BlockSize frames until the rest fits a single frame.
func (q *Queue) Buffer(t Type, data []byte, id uint8) error {
	if len(data) <= streaming.MaxPayload {
		return q.String(t, data, id)
	}
	if err := q.Int(IOCount, uint64(len(data)), id); err != nil {
		return err
	}

	blocks := (len(data) - streaming.MaxPayload + streaming.BlockSize - 1) / streaming.BlockSize
	split := blocks * streaming.BlockSize
	for c := streaming.NewChunker(data[:split], streaming.BlockSize); c.Next(); {
		if err := q.String(t, c.Value(), id); err != nil {
			return err
		}
	}
	return q.String(t, data[split:], id)
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
