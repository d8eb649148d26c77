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

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"
)

// Conn is an established byte stream to a Freemount server.
type Conn struct {
	io.Reader
	io.Writer

	// Address is what the connection was dialed from. Its Path is where
	// requests should be directed.
	Address Address

	closers []func() error
}

// Close releases the stream and whatever carries it, returning the first
// error.
func (c *Conn) Close() error {
	var first error
	for _, fn := range c.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func netConn(a Address, nc net.Conn) *Conn {
	return &Conn{Reader: nc, Writer: nc, Address: a, closers: []func() error{nc.Close}}
}

// Dial parses addr and connects to it.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	return DialAddress(ctx, a)
}

// DialAddress connects to a.
func DialAddress(ctx context.Context, a Address) (*Conn, error) {
	var d net.Dialer
	switch a.Scheme {
	case Stdio:
		return &Conn{Reader: os.Stdin, Writer: os.Stdout, Address: a}, nil
	case Exec:
		return dialExec(a)
	case TCP:
		nc, err := d.DialContext(ctx, "tcp", a.Host)
		if err != nil {
			return nil, err
		}
		return netConn(a, nc), nil
	case Unix:
		nc, err := d.DialContext(ctx, "unix", a.Host)
		if err != nil {
			return nil, err
		}
		return netConn(a, nc), nil
	case SSH:
		return dialSSH(ctx, a)
	case QUIC:
		return dialQUIC(ctx, a)
	}
	return nil, fmt.Errorf("%w: unsupported scheme %v", ErrBadAddress, a.Scheme)
}

// ServerArgs are the arguments that start a server speaking over stdio,
// exporting root.
func ServerArgs(root string) []string {
	return []string{"server", "-stdio", "-q", "-root", root}
}

// exitGrace bounds how long closing an exec connection waits for the server
// to exit after its stdin closes.
const exitGrace = 5 * time.Second

func dialExec(a Address) (*Conn, error) {
	program := a.Program
	if program == DefaultServer {
		if self, err := os.Executable(); err == nil {
			program = self
		}
	}

	cmd := exec.Command(program, ServerArgs(a.Root)...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	wait := func() error {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case err := <-done:
			var exit *exec.ExitError
			if errors.As(err, &exit) {
				return fmt.Errorf("%s: %v", program, err)
			}
			return err
		case <-time.After(exitGrace):
			cmd.Process.Kill()
			return <-done
		}
	}
	return &Conn{
		Reader:  stdout,
		Writer:  stdin,
		Address: a,
		closers: []func() error{stdin.Close, wait},
	}, nil
}
