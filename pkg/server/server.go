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
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"syscall"

	"github.com/quic-go/quic-go"
	"golang.org/x/net/netutil"

	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/proquint"
	"github.com/kurafs/freemount/pkg/vfs"
)

// Config holds the per-session settings a Server applies.
type Config struct {
	// Window is the flow control window for streamed reads in bytes, zero
	// to disable flow control.
	Window int64

	// MaxConns caps the connections served at once by Serve, zero for no
	// limit.
	MaxConns int

	// MaxWriteSize bounds the data of one write request, zero for
	// DefaultMaxWriteSize.
	MaxWriteSize int

	// Cwd is the directory relative paths resolve against, "/" if empty.
	Cwd string
}

// Server serves a filesystem to any number of connections, one Session per
// connection (or per QUIC stream).
type Server struct {
	fs     vfs.FS
	logger *log.Logger
	config Config
	stats  Stats
	wg     sync.WaitGroup
}

// New returns a Server exposing fs.
func New(logger *log.Logger, fs vfs.FS, config Config) *Server {
	return &Server{
		fs:     fs,
		logger: logger,
		config: config,
	}
}

// Stats returns the server's counters.
func (s *Server) Stats() *Stats {
	return &s.stats
}

// Config returns the server's configuration.
func (s *Server) Config() Config {
	return s.config
}

func (s *Server) session(w io.Writer, logger *log.Logger) *Session {
	opts := []Option{
		Logger(logger),
		Window(s.config.Window),
		MaxWriteSize(s.config.MaxWriteSize),
		withStats(&s.stats),
	}
	if s.config.Cwd != "" {
		opts = append(opts, Cwd(s.config.Cwd))
	}
	return NewSession(s.fs, w, opts...)
}

// ServeConn runs a session over a reader and writer pair, such as the
// standard input and output of a process spawned by the client. It returns
// when the input ends.
func (s *Server) ServeConn(ctx context.Context, r io.Reader, w io.Writer) error {
	logger := s.logger.WithPrefix(fmt.Sprintf("[%s] ", sessionName()))
	err := s.session(w, logger).Run(ctx, r)
	s.logEnd(logger, err)
	return err
}

// Serve accepts connections on l until ctx is done, serving each in its own
// goroutine. It closes l and waits for every session before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.config.MaxConns > 0 {
		l = netutil.LimitListener(l, s.config.MaxConns)
	}
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveNetConn(ctx, conn)
		}()
	}
}

func (s *Server) serveNetConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger := s.logger.WithPrefix(fmt.Sprintf("[%s %s] ", peerName(conn.RemoteAddr()), sessionName()))
	logger.Debug("session started")

	err := s.session(conn, logger).Run(ctx, conn)
	s.logEnd(logger, err)
}

// ServeQUIC accepts QUIC connections on l until ctx is done. Every stream a
// peer opens is a separate session.
func (s *Server) ServeQUIC(ctx context.Context, l *quic.Listener) error {
	defer s.wg.Wait()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveQUICConn(ctx, conn)
		}()
	}
}

func (s *Server) serveQUICConn(ctx context.Context, conn *quic.Conn) {
	var wg sync.WaitGroup
	defer wg.Wait()
	defer conn.CloseWithError(0, "")

	name := peerName(conn.RemoteAddr())
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			s.logger.Debugf("[%s] no more streams: %v", name, err)
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stream.Close()

			logger := s.logger.WithPrefix(fmt.Sprintf("[%s#%d %s] ", name, stream.StreamID(), sessionName()))
			err := s.session(stream, logger).Run(ctx, stream)
			s.logEnd(logger, err)
		}()
	}
}

func (s *Server) logEnd(logger *log.Logger, err error) {
	var pv *ProtocolViolation
	switch {
	case err == nil || isClosed(err):
		logger.Debug("session ended")
	case errors.As(err, &pv):
		// Logged by the session.
	default:
		logger.Errorf("session failed: %v", err)
	}
}

// sessionName returns a random pronounceable name that tells sessions from
// the same peer apart in the logs.
func sessionName() string {
	return proquint.Encode32(rand.Uint32())
}

func peerName(addr net.Addr) string {
	if addr == nil || addr.String() == "" {
		return "local"
	}
	return addr.String()
}

// isClosed reports whether err just means the peer went away.
func isClosed(err error) bool {
	var appErr *quic.ApplicationError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &appErr)
}
