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
	"io"
	"net"
	"testing"
	"time"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/vfs/memfs"
)

func readFrame(t *testing.T, r io.Reader) frame.Frame {
	t.Helper()

	var got *frame.Frame
	ra := frame.NewReassembler(func(f frame.Frame) error {
		f.Payload = append([]byte(nil), f.Payload...)
		got = &f
		return frame.ErrStop
	})
	buf := make([]byte, 1)
	for got == nil {
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		if err := ra.Feed(buf); err != nil && err != frame.ErrStop {
			t.Fatal(err)
		}
	}
	return *got
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := New(log.Discarder(), memfs.New(), Config{MaxConns: 4})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		ping := frame.Header{Type: frame.Ping}.Bytes()
		if _, err := conn.Write(ping[:]); err != nil {
			t.Fatal(err)
		}
		if f := readFrame(t, conn); f.Type != frame.Pong {
			t.Fatalf("got %s, want pong", f)
		}
		conn.Close()
	}

	// A connection left open is torn down on shutdown.
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ping := frame.Header{Type: frame.Ping}.Bytes()
	conn.Write(ping[:])
	readFrame(t, conn)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	st := srv.Stats().Snapshot()
	if st.TotalSessions != 4 || st.Sessions != 0 {
		t.Errorf("stats = %+v, want 4 sessions in total and none active", st)
	}
}

func TestServeConn(t *testing.T) {
	var in bytes.Buffer
	q := frame.NewQueue(&in)
	q.Request(frame.ReqAuth, 1)
	q.Empty(frame.Submit, 1)
	q.Empty(frame.Ping, 0)
	q.Flush()

	var out bytes.Buffer
	srv := New(log.Discarder(), memfs.New(), Config{})
	if err := srv.ServeConn(context.Background(), &in, &out); err != nil {
		t.Fatalf("ServeConn: unexpected error: %v", err)
	}

	var got []frame.Type
	ra := frame.NewReassembler(func(f frame.Frame) error {
		got = append(got, f.Type)
		return nil
	})
	if err := ra.Feed(out.Bytes()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != frame.Result || got[1] != frame.Pong {
		t.Errorf("got frames %v, want [result pong]", got)
	}
	if srv.Stats().Snapshot().Requests != 1 {
		t.Errorf("requests = %d, want 1", srv.Stats().Snapshot().Requests)
	}
}

func TestIsClosed(t *testing.T) {
	if !isClosed(io.EOF) || !isClosed(net.ErrClosed) || !isClosed(io.ErrClosedPipe) {
		t.Error("end of stream errors should count as closed")
	}
	if isClosed(io.ErrUnexpectedEOF) {
		t.Error("io.ErrUnexpectedEOF should not count as closed")
	}
}
