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
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kurafs/freemount/pkg/flow"
	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/vfs"
)

const (
	maxRequests  = 1 << 8
	maxOpenFiles = 1 << 8

	// DefaultMaxWriteSize bounds the data a single write request may
	// accumulate.
	DefaultMaxWriteSize = 64 << 20
)

// Option configures a Session.
type Option func(*Session)

// Logger sets the session's logger. Sessions are silent by default.
func Logger(l *log.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// Window enables flow control of streamed read data with the given window
// in bytes.
func Window(n int64) Option {
	return func(s *Session) {
		s.flow.SetWindow(n)
	}
}

// Cwd sets the directory relative paths are resolved against.
func Cwd(dir string) Option {
	return func(s *Session) {
		s.cwd = vfs.Resolve("/", dir)
	}
}

// MaxWriteSize bounds the data a single write request may accumulate.
func MaxWriteSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxWrite = n
		}
	}
}

func withStats(st *Stats) Option {
	return func(s *Session) {
		s.stats = st
	}
}

// Session is the server side of one connection: its request table, its
// open-file table and the send queue all responses go through.
//
// The request table is only touched by the goroutine running the frame loop.
// Background tasks only read their own Request and write frames, always
// under the send lock.
type Session struct {
	fs       vfs.FS
	cwd      string
	logger   *log.Logger
	flow     *flow.Controller
	stats    *Stats
	maxWrite int

	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex
	queue  *frame.Queue

	requests [maxRequests]*Request
	orphans  []*task

	filesMu sync.Mutex
	files   [maxOpenFiles]*openFile

	closeOnce sync.Once
}

// NewSession returns a session serving fs, writing its frames to w.
func NewSession(fs vfs.FS, w io.Writer, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		fs:       fs,
		cwd:      "/",
		logger:   log.Discarder(),
		flow:     flow.New(0),
		stats:    &Stats{},
		maxWrite: DefaultMaxWriteSize,
		ctx:      ctx,
		cancel:   cancel,
		queue:    frame.NewQueue(w),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes frames read from r until the stream ends, ctx is done or
// the peer violates the protocol, and then closes the session. A clean end
// of stream returns nil.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	defer s.Close()
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	s.stats.Sessions.Add(1)
	s.stats.TotalSessions.Add(1)
	defer s.stats.Sessions.Add(-1)

	ra := frame.NewReassembler(s.HandleFrame)
	err := frame.RunEventLoop(r, ra)
	if errors.Is(err, frame.ErrFrameTooLarge) {
		err = &ProtocolViolation{Code: vfs.EINVAL, Msg: err.Error()}
	}

	var pv *ProtocolViolation
	if errors.As(err, &pv) {
		s.stats.Violations.Add(1)
		s.logger.Warnf("closing session: %v", pv)

		fatal := func(q *frame.Queue) error {
			return q.String(frame.Fatal, []byte(pv.Msg), 0)
		}
		if serr := s.send(context.Background(), fatal); serr != nil {
			s.logger.Debugf("sending fatal frame: %v", serr)
		}
	}
	return err
}

// Close cancels and waits for every background task, then closes every
// file the peer left open. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.cancel()
		s.sendMu.Unlock()

		for i, r := range s.requests {
			if r != nil && r.task != nil {
				r.task.wait()
			}
			s.requests[i] = nil
		}
		for _, t := range s.orphans {
			t.wait()
		}
		s.orphans = nil

		s.filesMu.Lock()
		defer s.filesMu.Unlock()
		for i, f := range s.files {
			if f != nil {
				if err := f.release(); err != nil {
					s.logger.Debugf("closing fd %d: %v", i, err)
				}
				s.files[i] = nil
			}
		}
	})
	return nil
}

// send queues the frames built by fn and flushes them, all under the send
// lock. Nothing is sent if ctx is already done, which is how a cancelled
// task is kept quiet.
func (s *Session) send(ctx context.Context, fn func(q *frame.Queue) error) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(s.queue); err != nil {
		return err
	}
	return s.queue.Flush()
}

// respond sends the result frame for request id.
func (s *Session) respond(ctx context.Context, id uint8, err error) error {
	errno := vfs.ErrnoOf(err)
	if errno != 0 {
		s.logger.Debugf("request %d failed: %v", id, err)
	}
	return s.send(ctx, func(q *frame.Queue) error {
		return q.Int(frame.Result, uint64(errno), id)
	})
}

// Request returns the request occupying id, or nil.
func (s *Session) Request(id uint8) *Request {
	return s.requests[id]
}

// openFile is an entry of the open-file table. The table holds one
// reference and every request using the handle holds another; the handle is
// closed when the last one is released.
type openFile struct {
	vfs.Handle
	refs atomic.Int32
}

func newOpenFile(h vfs.Handle) *openFile {
	f := &openFile{Handle: h}
	f.refs.Store(1)
	return f
}

func (f *openFile) release() error {
	if f.refs.Add(-1) == 0 {
		return f.Handle.Close()
	}
	return nil
}

// OpenFile returns the handle bound to fd, or nil.
func (s *Session) OpenFile(fd int) vfs.Handle {
	if fd < 0 || fd >= maxOpenFiles {
		return nil
	}

	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	if f := s.files[fd]; f != nil {
		return f.Handle
	}
	return nil
}

// acquireFile returns the entry bound to fd with a reference taken, or nil.
func (s *Session) acquireFile(fd int) *openFile {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	f := s.files[fd]
	if f != nil {
		f.refs.Add(1)
	}
	return f
}

// setOpenFile binds fd to h and returns what was bound before, unbinding fd
// if h is nil. The caller releases the returned entry.
func (s *Session) setOpenFile(fd int, h vfs.Handle) *openFile {
	var f *openFile
	if h != nil {
		f = newOpenFile(h)
	}

	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	old := s.files[fd]
	s.files[fd] = f
	return old
}

// Flow returns the session's flow controller.
func (s *Session) Flow() *flow.Controller {
	return s.flow
}

func (s *Session) resolve(p string) string {
	return vfs.Resolve(s.cwd, p)
}
