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
	"errors"
	"fmt"

	"github.com/kurafs/freemount/pkg/streaming"
)

var (
	// ErrStop may be returned by a Handler to end reassembly without
	// indicating a failure. Feed passes it through to its caller.
	ErrStop = errors.New("frame: stop")

	// ErrFrameTooLarge is returned by Feed when a header announces a
	// payload larger than the reassembler's limit.
	ErrFrameTooLarge = errors.New("frame: frame too large")
)

// Handler is called once per complete frame, in stream order. A non-nil
// return value halts reassembly; the remaining buffered bytes are retained.
type Handler func(f Frame) error

// Reassembler turns arbitrarily split chunks of a byte stream into complete
// frames. The result is independent of how the stream is split.
type Reassembler struct {
	handler    Handler
	buf        []byte
	maxPayload int
}

// NewReassembler returns a Reassembler delivering frames to h.
func NewReassembler(h Handler) *Reassembler {
	return &Reassembler{
		handler:    h,
		maxPayload: streaming.MaxPayload,
	}
}

// SetMaxPayload lowers the largest payload accepted by Feed. Values outside
// (0, MaxPayload] reset the limit to MaxPayload.
func (r *Reassembler) SetMaxPayload(n int) {
	if n <= 0 || n > streaming.MaxPayload {
		n = streaming.MaxPayload
	}
	r.maxPayload = n
}

// Feed appends p to the buffered stream and delivers every frame that is now
// complete. It returns the first error returned by the handler, or
// ErrFrameTooLarge.
func (r *Reassembler) Feed(p []byte) error {
	r.buf = append(r.buf, p...)

	var off int
	defer func() {
		r.buf = r.buf[:copy(r.buf, r.buf[off:])]
	}()

	for len(r.buf)-off >= HeaderSize {
		h := ParseHeader(r.buf[off:])
		if int(h.Size) > r.maxPayload {
			return fmt.Errorf("%w: %s carries %d bytes, limit is %d",
				ErrFrameTooLarge, h.Type, h.Size, r.maxPayload)
		}

		n := Size(int(h.Size))
		if len(r.buf)-off < n {
			break
		}

		f := Frame{
			Header:  h,
			Payload: r.buf[off+HeaderSize : off+HeaderSize+int(h.Size)],
		}
		off += n
		if err := r.handler(f); err != nil {
			return err
		}
	}
	return nil
}

// Buffered returns the number of bytes held back waiting for the rest of a
// frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}
