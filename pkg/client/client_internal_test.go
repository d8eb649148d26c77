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

package client

import (
	"context"
	"errors"
	"io"
	"testing"
)

var errWrite = errors.New("write failed")

// brokenConn fails every write. Reads block until it is closed.
type brokenConn struct {
	*io.PipeReader
	w *io.PipeWriter
}

func newBrokenConn() *brokenConn {
	r, w := io.Pipe()
	return &brokenConn{PipeReader: r, w: w}
}

func (b *brokenConn) Write(p []byte) (int, error) {
	return 0, errWrite
}

func (b *brokenConn) Close() error {
	return b.w.Close()
}

func TestPingSendFailure(t *testing.T) {
	c := New(newBrokenConn())
	defer c.Close()

	if err := c.Ping(context.Background()); !errors.Is(err, errWrite) {
		t.Fatalf("ping: got %v, want the write error", err)
	}
	c.mu.Lock()
	waiters := len(c.pongs)
	c.mu.Unlock()
	if waiters != 0 {
		t.Errorf("%d pong waiters left after a failed ping", waiters)
	}

	<-c.Done()
	if err := c.Err(); !errors.Is(err, ErrConnectionReset) {
		t.Errorf("client error = %v, want ErrConnectionReset", err)
	}
}

func TestIDsReturnedAfterFailure(t *testing.T) {
	c := New(newBrokenConn())
	c.Close()

	for i := 0; i < 300; i++ {
		if _, err := c.Stat(context.Background(), "/f"); !errors.Is(err, ErrConnectionReset) {
			t.Fatalf("stat %d: got %v, want ErrConnectionReset", i, err)
		}
	}
	if n := len(c.ids); n != cap(c.ids) {
		t.Errorf("%d of %d request ids free after failed requests", n, cap(c.ids))
	}
}
