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
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/vfs"
	"github.com/kurafs/freemount/pkg/vfs/memfs"
	"github.com/kurafs/freemount/pkg/vfs/osfs"
	"github.com/kurafs/freemount/pkg/vfs/vfstest"
)

// peer is the client end of a session under test.
type peer struct {
	t      *testing.T
	conn   net.Conn
	q      *frame.Queue
	frames chan frame.Frame
	done   chan error
	sess   *Session
}

func newPeer(t *testing.T, fs vfs.FS, opts ...Option) *peer {
	t.Helper()

	client, server := net.Pipe()
	p := &peer{
		t:      t,
		conn:   client,
		q:      frame.NewQueue(client),
		frames: make(chan frame.Frame, 1024),
		done:   make(chan error, 1),
		sess:   NewSession(fs, server, opts...),
	}

	go func() {
		err := p.sess.Run(context.Background(), server)
		server.Close()
		p.done <- err
	}()
	go func() {
		ra := frame.NewReassembler(func(f frame.Frame) error {
			f.Payload = append([]byte(nil), f.Payload...)
			p.frames <- f
			return nil
		})
		frame.RunEventLoop(client, ra)
		close(p.frames)
	}()

	t.Cleanup(func() {
		client.Close()
		<-p.done
	})
	return p
}

func (p *peer) send(build func(q *frame.Queue) error) {
	p.t.Helper()
	if err := build(p.q); err != nil {
		p.t.Fatal(err)
	}
	if err := p.q.Flush(); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) request(rt frame.RequestType, id uint8, args ...func(q *frame.Queue) error) {
	p.t.Helper()
	p.send(func(q *frame.Queue) error {
		if err := q.Request(rt, id); err != nil {
			return err
		}
		for _, arg := range args {
			if err := arg(q); err != nil {
				return err
			}
		}
		return q.Empty(frame.Submit, id)
	})
}

func path(id uint8, p string) func(q *frame.Queue) error {
	return func(q *frame.Queue) error { return q.String(frame.ArgPath, []byte(p), id) }
}

func num(t frame.Type, id uint8, v uint64) func(q *frame.Queue) error {
	return func(q *frame.Queue) error { return q.Int(t, v, id) }
}

func data(id uint8, b []byte) func(q *frame.Queue) error {
	return func(q *frame.Queue) error { return q.Buffer(frame.SendData, b, id) }
}

func (p *peer) next() frame.Frame {
	p.t.Helper()
	select {
	case f, ok := <-p.frames:
		if !ok {
			p.t.Fatal("connection closed")
		}
		return f
	case <-time.After(5 * time.Second):
		p.t.Fatal("timed out waiting for a frame")
	}
	return frame.Frame{}
}

func (p *peer) expectValue(typ frame.Type, id uint8, want uint64) {
	p.t.Helper()
	f := p.next()
	if f.Type != typ || f.ID != id {
		p.t.Fatalf("got %s, want %s id=%d", f, typ, id)
	}
	v, err := f.Value()
	if err != nil {
		p.t.Fatal(err)
	}
	if v != want {
		p.t.Fatalf("%s = %d (%#o), want %d (%#o)", typ, v, v, want, want)
	}
}

func (p *peer) expectResult(id uint8, want vfs.Errno) {
	p.t.Helper()
	p.expectValue(frame.Result, id, uint64(want))
}

func (p *peer) expectClosed() error {
	p.t.Helper()
	select {
	case err := <-p.done:
		p.done <- err
		return err
	case <-time.After(5 * time.Second):
		p.t.Fatal("session did not end")
	}
	return nil
}

func seeded(t *testing.T) *memfs.FS {
	fs := memfs.New()
	vfstest.WriteFile(t, fs, "/foo", bytes.Repeat([]byte{'f'}, 123))
	return fs
}

func TestStat(t *testing.T) {
	p := newPeer(t, seeded(t))

	p.request(frame.ReqStat, 0, path(0, "/foo"))
	p.expectValue(frame.StatMode, 0, 0100644)
	p.expectValue(frame.StatSize, 0, 123)
	p.expectResult(0, 0)
}

func TestStatDirectory(t *testing.T) {
	fs := seeded(t)
	fs.Mkdir("/d", 0755)
	fs.Mkdir("/d/sub", 0755)
	p := newPeer(t, fs)

	p.request(frame.ReqStat, 4, path(4, "/d"))
	p.expectValue(frame.StatMode, 4, 040755)
	p.expectValue(frame.StatNlink, 4, 3)
	p.expectResult(4, 0)

	p.request(frame.ReqStat, 4, path(4, "/missing"))
	p.expectResult(4, vfs.ENOENT)
}

func TestRead(t *testing.T) {
	fs := memfs.New()
	content := make([]byte, 10000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	vfstest.WriteFile(t, fs, "/big", content)
	p := newPeer(t, fs)

	p.request(frame.ReqRead, 1, path(1, "/big"))
	p.expectValue(frame.StatSize, 1, 10000)

	var got []byte
	for _, size := range []int{4096, 4096, 1808} {
		f := p.next()
		if f.Type != frame.RecvData || int(f.Size) != size {
			t.Fatalf("got %s, want %d bytes of data", f, size)
		}
		got = append(got, f.Payload...)
	}
	p.expectResult(1, 0)

	if !bytes.Equal(got, content) {
		t.Error("read data differs from file contents")
	}
}

func TestReadCountAndOffset(t *testing.T) {
	fs := memfs.New()
	vfstest.WriteFile(t, fs, "/f", []byte("0123456789"))
	p := newPeer(t, fs)

	p.request(frame.ReqRead, 2, path(2, "/f"), num(frame.IOCount, 2, 4), num(frame.SeekOffset, 2, 3))
	p.expectValue(frame.StatSize, 2, 10)
	if f := p.next(); f.Type != frame.RecvData || string(f.Payload) != "3456" {
		t.Fatalf("got %s %q, want 3456", f, f.Payload)
	}
	p.expectResult(2, 0)

	p.request(frame.ReqRead, 2, path(2, "/f"), num(frame.IOCount, 2, 0))
	p.expectValue(frame.StatSize, 2, 10)
	p.expectResult(2, 0)

	p.request(frame.ReqRead, 2, path(2, "/missing"))
	p.expectResult(2, vfs.ENOENT)
}

func TestWrite(t *testing.T) {
	fs := memfs.New()
	p := newPeer(t, fs)

	p.request(frame.ReqWrite, 3, path(3, "/new"), data(3, []byte("first version")))
	p.expectResult(3, 0)
	if got := vfstest.ReadFile(t, fs, "/new"); string(got) != "first version" {
		t.Fatalf("contents = %q", got)
	}

	p.request(frame.ReqWrite, 3, path(3, "/new"), data(3, []byte("FIRST")), num(frame.SeekOffset, 3, 0))
	p.expectResult(3, 0)
	if got := vfstest.ReadFile(t, fs, "/new"); string(got) != "FIRST version" {
		t.Fatalf("contents after write at offset = %q", got)
	}

	p.request(frame.ReqWrite, 3, data(3, []byte("x")))
	p.expectResult(3, vfs.ENOENT)

	p.request(frame.ReqWrite, 3, path(3, "/x"), data(3, []byte("abc")), num(frame.IOCount, 3, 4))
	p.expectResult(3, vfs.EINVAL)
}

func TestWriteMultiBlock(t *testing.T) {
	fs := memfs.New()
	p := newPeer(t, fs)

	content := bytes.Repeat([]byte("0123456789abcdef"), 10000)
	p.request(frame.ReqWrite, 9, path(9, "/large"), data(9, content))
	p.expectResult(9, 0)

	if got := vfstest.ReadFile(t, fs, "/large"); !bytes.Equal(got, content) {
		t.Errorf("stored %d bytes, want %d", len(got), len(content))
	}
}

func TestList(t *testing.T) {
	fs := seeded(t)
	fs.Mkdir("/d", 0755)
	vfstest.WriteFile(t, fs, "/d/b", nil)
	vfstest.WriteFile(t, fs, "/d/a", nil)
	p := newPeer(t, fs, Cwd("/d"))

	for _, dir := range []string{"/d", ""} {
		p.request(frame.ReqList, 5, path(5, dir))
		for _, want := range []string{"a", "b"} {
			f := p.next()
			if f.Type != frame.DentryName || string(f.Payload) != want {
				t.Fatalf("list %q: got %s %q, want %q", dir, f, f.Payload, want)
			}
		}
		p.expectResult(5, 0)
	}

	p.request(frame.ReqList, 5, path(5, "/foo"))
	p.expectResult(5, vfs.ENOTDIR)
}

func TestOpenCloseAndDescriptorIO(t *testing.T) {
	fs := memfs.New()
	p := newPeer(t, fs)

	p.request(frame.ReqOpen, 0, path(0, "/log"), num(frame.ArgFD, 0, 7))
	p.expectResult(0, 0)
	if p.sess.OpenFile(7) == nil {
		t.Fatal("fd 7 not bound after open")
	}

	p.request(frame.ReqWrite, 1, num(frame.ArgFD, 1, 7), data(1, []byte("one ")))
	p.expectResult(1, 0)
	p.request(frame.ReqWrite, 1, num(frame.ArgFD, 1, 7), data(1, []byte("two")))
	p.expectResult(1, 0)

	p.request(frame.ReqRead, 2, num(frame.ArgFD, 2, 7), num(frame.SeekOffset, 2, 0))
	p.expectValue(frame.StatSize, 2, 7)
	if f := p.next(); string(f.Payload) != "one two" {
		t.Fatalf("read through fd = %q", f.Payload)
	}
	p.expectResult(2, 0)

	p.request(frame.ReqClose, 0, num(frame.ArgFD, 0, 7))
	p.expectResult(0, 0)
	p.request(frame.ReqClose, 0, num(frame.ArgFD, 0, 7))
	p.expectResult(0, vfs.EBADF)

	p.request(frame.ReqOpen, 0, path(0, "/log"), num(frame.ArgFD, 0, 256))
	p.expectResult(0, vfs.EBADF)
	p.request(frame.ReqRead, 2, num(frame.ArgFD, 2, 8))
	p.expectResult(2, vfs.EBADF)
}

func TestLink(t *testing.T) {
	fs := seeded(t)
	p := newPeer(t, fs)

	p.request(frame.ReqLink, 6, path(6, "/foo"), path(6, "/bar"))
	p.expectResult(6, 0)
	if st, err := fs.Stat("/bar"); err != nil || st.Nlink != 2 {
		t.Fatalf("stat /bar = %+v, %v", st, err)
	}

	p.request(frame.ReqLink, 6, path(6, "/foo"), path(6, "/bar"))
	p.expectResult(6, vfs.EEXIST)
}

func TestAuth(t *testing.T) {
	p := newPeer(t, memfs.New())
	p.request(frame.ReqAuth, 200)
	p.expectResult(200, 0)
}

func TestPing(t *testing.T) {
	fs := memfs.New()
	p := newPeer(t, fs)

	// A request being assembled doesn't delay the pong.
	p.send(func(q *frame.Queue) error { return q.Request(frame.ReqStat, 1) })
	p.send(func(q *frame.Queue) error { return q.Empty(frame.Ping, 0) })
	if f := p.next(); f.Type != frame.Pong {
		t.Fatalf("got %s, want pong", f)
	}
}

func TestMultiplexing(t *testing.T) {
	fs := seeded(t)
	vfstest.WriteFile(t, fs, "/other", []byte("12345"))
	p := newPeer(t, fs)

	p.send(func(q *frame.Queue) error {
		steps := []func(q *frame.Queue) error{
			func(q *frame.Queue) error { return q.Request(frame.ReqStat, 10) },
			func(q *frame.Queue) error { return q.Request(frame.ReqStat, 11) },
			path(11, "/other"),
			path(10, "/foo"),
			func(q *frame.Queue) error { return q.Empty(frame.Submit, 11) },
			func(q *frame.Queue) error { return q.Empty(frame.Submit, 10) },
		}
		for _, step := range steps {
			if err := step(q); err != nil {
				return err
			}
		}
		return nil
	})

	p.expectValue(frame.StatMode, 11, 0100644)
	p.expectValue(frame.StatSize, 11, 5)
	p.expectResult(11, 0)
	p.expectValue(frame.StatMode, 10, 0100644)
	p.expectValue(frame.StatSize, 10, 123)
	p.expectResult(10, 0)
}

func TestIdReuseAfterTask(t *testing.T) {
	fs := memfs.New()
	vfstest.WriteFile(t, fs, "/f", []byte("x"))
	p := newPeer(t, fs)

	for i := 0; i < 50; i++ {
		p.request(frame.ReqRead, 1, path(1, "/f"))
		p.expectValue(frame.StatSize, 1, 1)
		p.next()
		p.expectResult(1, 0)
	}
}

// closeCounter counts the handles of a file system that get closed.
type closeCounter struct {
	vfs.FS
	closed atomic.Int32
}

type countedHandle struct {
	vfs.Handle
	fs *closeCounter
}

func (c *closeCounter) Open(name string, flag int, perm uint32) (vfs.Handle, error) {
	h, err := c.FS.Open(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &countedHandle{Handle: h, fs: c}, nil
}

func (h *countedHandle) Close() error {
	h.fs.closed.Add(1)
	return h.Handle.Close()
}

func TestSlotReboundDuringRead(t *testing.T) {
	tests := []struct {
		name   string
		rebind func(p *peer)
		bound  bool
	}{
		{
			name:   "close",
			rebind: func(p *peer) { p.request(frame.ReqClose, 2, num(frame.ArgFD, 2, 3)) },
		},
		{
			name:   "reopen",
			rebind: func(p *peer) { p.request(frame.ReqOpen, 2, path(2, "/other"), num(frame.ArgFD, 2, 3)) },
			bound:  true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			content := make([]byte, 10000)
			for i := range content {
				content[i] = byte(i % 251)
			}
			if err := os.WriteFile(filepath.Join(dir, "big"), content, 0644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "other"), []byte("other"), 0644); err != nil {
				t.Fatal(err)
			}
			native, err := osfs.New(dir)
			if err != nil {
				t.Fatal(err)
			}
			fs := &closeCounter{FS: native}
			p := newPeer(t, fs, Window(4096))

			p.request(frame.ReqOpen, 0, path(0, "/big"), num(frame.ArgFD, 0, 3))
			p.expectResult(0, 0)
			p.request(frame.ReqRead, 1, num(frame.ArgFD, 1, 3))
			p.expectValue(frame.StatSize, 1, uint64(len(content)))
			f := p.next()
			if f.Type != frame.RecvData || f.ID != 1 {
				t.Fatalf("got %s, want data for request 1", f)
			}
			got := f.Payload

			// The read holds the file open past the rebinding of its slot.
			test.rebind(p)
			p.expectResult(2, 0)
			if n := fs.closed.Load(); n != 0 {
				t.Fatalf("%d handles closed while the read was running", n)
			}

			for len(got) < len(content) {
				p.send(num(frame.AckRead, 0, uint64(f.Size)))
				f = p.next()
				if f.Type != frame.RecvData || f.ID != 1 {
					t.Fatalf("got %s, want data for request 1", f)
				}
				got = append(got, f.Payload...)
			}
			p.expectResult(1, 0)
			if !bytes.Equal(got, content) {
				t.Fatal("read through a rebound slot returned the wrong data")
			}

			// The read lets go of the file before it sends its result.
			if n := fs.closed.Load(); n != 1 {
				t.Errorf("%d handles closed after the read, want 1", n)
			}
			if bound := p.sess.OpenFile(3) != nil; bound != test.bound {
				t.Errorf("fd 3 bound = %t, want %t", bound, test.bound)
			}
			if !test.bound {
				return
			}

			p.request(frame.ReqRead, 4, num(frame.ArgFD, 4, 3), num(frame.SeekOffset, 4, 0))
			p.expectValue(frame.StatSize, 4, 5)
			if f := p.next(); string(f.Payload) != "other" {
				t.Fatalf("read through the reopened slot = %q", f.Payload)
			}
			p.expectResult(4, 0)
		})
	}
}

func TestCloseBehindWrite(t *testing.T) {
	fs := &closeCounter{FS: memfs.New()}
	p := newPeer(t, fs)

	p.request(frame.ReqOpen, 0, path(0, "/log"), num(frame.ArgFD, 0, 5))
	p.expectResult(0, 0)

	payload := bytes.Repeat([]byte("0123456789"), 20000)
	p.send(func(q *frame.Queue) error {
		steps := []func(q *frame.Queue) error{
			func(q *frame.Queue) error { return q.Request(frame.ReqWrite, 1) },
			num(frame.ArgFD, 1, 5),
			data(1, payload),
			func(q *frame.Queue) error { return q.Empty(frame.Submit, 1) },
			func(q *frame.Queue) error { return q.Request(frame.ReqClose, 2) },
			num(frame.ArgFD, 2, 5),
			func(q *frame.Queue) error { return q.Empty(frame.Submit, 2) },
		}
		for _, step := range steps {
			if err := step(q); err != nil {
				return err
			}
		}
		return nil
	})

	// The two results may arrive in either order.
	results := map[uint8]uint64{}
	for len(results) < 2 {
		f := p.next()
		if f.Type != frame.Result {
			t.Fatalf("got %s, want a result", f)
		}
		v, err := f.Value()
		if err != nil {
			t.Fatal(err)
		}
		results[f.ID] = v
	}
	if results[1] != 0 || results[2] != 0 {
		t.Fatalf("results = %v, want write and close to succeed", results)
	}

	if got := vfstest.ReadFile(t, fs, "/log"); !bytes.Equal(got, payload) {
		t.Fatalf("file holds %d bytes, want %d", len(got), len(payload))
	}
	if n := fs.closed.Load(); n != 2 {
		// One for the slot, one for vfstest.ReadFile.
		t.Errorf("%d handles closed, want 2", n)
	}
}
