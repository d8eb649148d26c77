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

package server

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/vfs"
	"github.com/kurafs/freemount/pkg/vfs/memfs"
	"github.com/kurafs/freemount/pkg/vfs/vfstest"
)

func TestProtocolViolations(t *testing.T) {
	raw := func(h frame.Header, payload []byte) func(q *frame.Queue) error {
		return func(q *frame.Queue) error {
			b, err := frame.Encode(h, payload)
			if err != nil {
				return err
			}
			return q.Add(b)
		}
	}
	request := func(rt frame.RequestType, id uint8) func(q *frame.Queue) error {
		return func(q *frame.Queue) error { return q.Request(rt, id) }
	}

	tests := []struct {
		name   string
		frames []func(q *frame.Queue) error
		code   vfs.Errno
		msg    string
	}{
		{
			name:   "duplicate id",
			frames: []func(q *frame.Queue) error{request(frame.ReqStat, 1), request(frame.ReqList, 1)},
			code:   vfs.EEXIST,
			msg:    "duplicate request id 1",
		},
		{
			name:   "nonexistent id",
			frames: []func(q *frame.Queue) error{path(9, "/foo")},
			code:   vfs.ESRCH,
			msg:    "nonexistent request id 9",
		},
		{
			name:   "argument not permitted",
			frames: []func(q *frame.Queue) error{request(frame.ReqClose, 2), path(2, "/foo")},
			code:   vfs.EINVAL,
			msg:    "invalid path arg for close request",
		},
		{
			name:   "unimplemented request type",
			frames: []func(q *frame.Queue) error{request(frame.ReqVersion, 0)},
			code:   vfs.ENOSYS,
			msg:    "unimplemented request type 1",
		},
		{
			name:   "unknown request type",
			frames: []func(q *frame.Queue) error{request(frame.RequestType(77), 0)},
			code:   vfs.ENOSYS,
		},
		{
			name:   "unknown frame type",
			frames: []func(q *frame.Queue) error{raw(frame.Header{Type: frame.Type(60)}, nil)},
			code:   vfs.EINVAL,
			msg:    "invalid frame type 60",
		},
		{
			name:   "response frame from peer",
			frames: []func(q *frame.Queue) error{request(frame.ReqStat, 0), raw(frame.Header{Type: frame.StatSize}, nil)},
			code:   vfs.EINVAL,
		},
		{
			name:   "bad integer size",
			frames: []func(q *frame.Queue) error{request(frame.ReqOpen, 3), raw(frame.Header{Type: frame.ArgFD, ID: 3}, []byte{1, 2})},
			code:   vfs.EINVAL,
		},
		{
			name: "seek offset out of range",
			frames: []func(q *frame.Queue) error{
				request(frame.ReqWrite, 5), path(5, "/foo"), num(frame.SeekOffset, 5, 1<<63),
			},
			code: vfs.EINVAL,
			msg:  "seek offset 9223372036854775808 out of range",
		},
		{
			name: "io count out of range",
			frames: []func(q *frame.Queue) error{
				request(frame.ReqRead, 6), path(6, "/foo"), num(frame.IOCount, 6, math.MaxUint64),
			},
			code: vfs.EINVAL,
		},
		{
			name: "too many paths",
			frames: []func(q *frame.Queue) error{
				request(frame.ReqLink, 4), path(4, "/a"), path(4, "/b"), path(4, "/c"),
			},
			code: vfs.EINVAL,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := newPeer(t, memfs.New())
			p.send(func(q *frame.Queue) error {
				for _, build := range test.frames {
					if err := build(q); err != nil {
						return err
					}
				}
				return nil
			})

			f := p.next()
			if f.Type != frame.Fatal {
				t.Fatalf("got %s, want a fatal frame", f)
			}
			if test.msg != "" && string(f.Payload) != test.msg {
				t.Errorf("fatal message = %q, want %q", f.Payload, test.msg)
			}

			var pv *ProtocolViolation
			if err := p.expectClosed(); !errors.As(err, &pv) {
				t.Fatalf("session ended with %v, want a protocol violation", err)
			}
			if pv.Code != test.code {
				t.Errorf("violation code = %s, want %s", pv.Code.ErrnoName(), test.code.ErrnoName())
			}
			if got := p.sess.stats.Violations.Load(); got != 1 {
				t.Errorf("violations = %d, want 1", got)
			}
		})
	}
}

func TestWriteTooLarge(t *testing.T) {
	p := newPeer(t, memfs.New(), MaxWriteSize(10))
	p.request(frame.ReqWrite, 1, path(1, "/f"), data(1, make([]byte, 11)))

	if f := p.next(); f.Type != frame.Fatal || !strings.Contains(string(f.Payload), "exceeds 10 bytes") {
		t.Fatalf("got %s %q, want a fatal frame", f, f.Payload)
	}
	var pv *ProtocolViolation
	if err := p.expectClosed(); !errors.As(err, &pv) || pv.Code != vfs.EFBIG {
		t.Fatalf("session ended with %v, want EFBIG", err)
	}
}

func TestOutOfRangeOffsetKeepsFile(t *testing.T) {
	fs := memfs.New()
	vfstest.WriteFile(t, fs, "/f", []byte("precious contents"))
	p := newPeer(t, fs)

	p.request(frame.ReqWrite, 1, path(1, "/f"), num(frame.SeekOffset, 1, 1<<63), data(1, []byte("x")))
	if f := p.next(); f.Type != frame.Fatal {
		t.Fatalf("got %s, want a fatal frame", f)
	}
	p.expectClosed()

	if got := vfstest.ReadFile(t, fs, "/f"); string(got) != "precious contents" {
		t.Fatalf("file holds %q after the rejected write", got)
	}
}

func TestFailedWriteReleasesFile(t *testing.T) {
	fs := &closeCounter{FS: memfs.New()}
	p := newPeer(t, fs)

	p.request(frame.ReqOpen, 0, path(0, "/f"), num(frame.ArgFD, 0, 1))
	p.expectResult(0, 0)
	p.request(frame.ReqWrite, 1, num(frame.ArgFD, 1, 1), num(frame.IOCount, 1, 5), data(1, []byte("abc")))
	p.expectResult(1, vfs.EINVAL)

	p.request(frame.ReqClose, 2, num(frame.ArgFD, 2, 1))
	p.expectResult(2, 0)
	if n := fs.closed.Load(); n != 1 {
		t.Errorf("%d handles closed, want 1", n)
	}
}

// stalledRead starts a read of a 64KiB file with a one byte window, so the
// task blocks after its first chunk.
func stalledRead(t *testing.T, id uint8) *peer {
	fs := memfs.New()
	vfstest.WriteFile(t, fs, "/big", bytes.Repeat([]byte{'z'}, 64<<10))
	p := newPeer(t, fs, Window(1))

	p.request(frame.ReqRead, id, path(id, "/big"))
	p.expectValue(frame.StatSize, id, 64<<10)
	if f := p.next(); f.Type != frame.RecvData || f.Size != 4096 {
		t.Fatalf("got %s, want the first chunk", f)
	}
	return p
}

func (p *peer) expectQuiet() {
	p.t.Helper()
	select {
	case f := <-p.frames:
		p.t.Fatalf("unexpected %s", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFlowControl(t *testing.T) {
	fs := memfs.New()
	vfstest.WriteFile(t, fs, "/f", make([]byte, 10000))
	p := newPeer(t, fs, Window(4096))

	p.request(frame.ReqRead, 1, path(1, "/f"))
	p.expectValue(frame.StatSize, 1, 10000)

	for _, size := range []uint16{4096, 4096, 1808} {
		if f := p.next(); f.Type != frame.RecvData || f.Size != size {
			t.Fatalf("got %s, want %d bytes of data", f, size)
		}
		if size == 1808 {
			break
		}
		p.expectQuiet()
		p.send(func(q *frame.Queue) error { return q.Int(frame.AckRead, uint64(size), 0) })
	}
	p.expectResult(1, 0)
}

func TestCancelRunningTask(t *testing.T) {
	p := stalledRead(t, 3)

	p.send(func(q *frame.Queue) error { return q.Empty(frame.Cancel, 3) })
	p.expectResult(3, vfs.ECANCELED)

	// Nothing else arrives for the cancelled request.
	p.send(func(q *frame.Queue) error { return q.Empty(frame.Ping, 0) })
	if f := p.next(); f.Type != frame.Pong {
		t.Fatalf("got %s, want pong", f)
	}
	p.expectQuiet()

	// The id is free again straight away.
	vfstest.WriteFile(t, p.sess.fs, "/small", []byte("ok"))
	p.request(frame.ReqStat, 3, path(3, "/small"))
	p.expectValue(frame.StatMode, 3, 0100644)
	p.expectValue(frame.StatSize, 3, 2)
	p.expectResult(3, 0)
}

func TestCancelAccumulating(t *testing.T) {
	p := newPeer(t, seeded(t))

	p.send(func(q *frame.Queue) error {
		if err := q.Request(frame.ReqStat, 4); err != nil {
			return err
		}
		return q.Empty(frame.Cancel, 4)
	})
	p.expectResult(4, vfs.ECANCELED)

	p.request(frame.ReqStat, 4, path(4, "/foo"))
	p.expectValue(frame.StatMode, 4, 0100644)
	p.expectValue(frame.StatSize, 4, 123)
	p.expectResult(4, 0)
}

func TestCancelAbsent(t *testing.T) {
	p := newPeer(t, memfs.New())

	p.send(func(q *frame.Queue) error {
		if err := q.Empty(frame.Cancel, 5); err != nil {
			return err
		}
		return q.Empty(frame.Ping, 0)
	})
	if f := p.next(); f.Type != frame.Pong {
		t.Fatalf("got %s, want pong", f)
	}
}

func TestArgumentAfterSubmit(t *testing.T) {
	p := stalledRead(t, 7)

	p.send(path(7, "/other"))
	if f := p.next(); f.Type != frame.Fatal {
		t.Fatalf("got %s, want a fatal frame", f)
	}
	if err := p.expectClosed(); err == nil {
		t.Fatal("session ended cleanly, want a protocol violation")
	}
}

func TestCloseJoinsTasks(t *testing.T) {
	p := stalledRead(t, 1)
	if got := p.sess.stats.Tasks.Load(); got != 1 {
		t.Fatalf("running tasks = %d, want 1", got)
	}

	p.conn.Close()
	if err := p.expectClosed(); err != nil {
		t.Fatalf("session ended with %v", err)
	}
	if got := p.sess.stats.Tasks.Load(); got != 0 {
		t.Errorf("running tasks after close = %d, want 0", got)
	}
}
