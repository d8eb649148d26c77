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

// Package client implements the requesting side of the Freemount protocol.
//
// A Client multiplexes any number of concurrent requests over one
// connection, one request id each. A background goroutine reads frames and
// routes them to the request they belong to, and acknowledges streamed data
// so that a server running with a flow control window keeps sending.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/vfs"
)

var (
	// ErrConnectionReset is returned for requests still pending when the
	// connection ends.
	ErrConnectionReset = errors.New("freemount: connection reset")

	// ErrServerFatal is wrapped by the error a Client fails with after the
	// server reported a fatal error.
	ErrServerFatal = errors.New("freemount: server fatal error")
)

// PathError records a failed request and the path it was about.
type PathError struct {
	Op    string
	Path  string
	Errno vfs.Errno
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Errno.Error()
}

func (e *PathError) Unwrap() error {
	return e.Errno
}

// Option configures a Client.
type Option func(*Client)

// Logger sets the client's logger. Clients are silent by default.
func Logger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

type result struct {
	errno vfs.Errno
	err   error
}

// call is a request in flight. onFrame runs on the reader goroutine for
// every frame carrying the call's id other than the result.
type call struct {
	onFrame func(f frame.Frame) error
	err     error
	result  chan result
}

// Client is a Freemount connection. Its methods are safe for concurrent use.
type Client struct {
	conn   io.ReadWriteCloser
	logger *log.Logger

	sendMu sync.Mutex
	queue  *frame.Queue

	ids chan uint8

	mu    sync.Mutex
	calls [256]*call
	pongs []chan error
	err   error

	// Owed to the server, sent by the writer goroutine.
	ackMu     sync.Mutex
	ackBytes  uint64
	ackPongs  int
	ackSignal chan struct{}

	done chan struct{}
}

// New returns a Client speaking over conn and starts its reader and writer
// goroutines. Close releases them.
func New(conn io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		logger:    log.Discarder(),
		queue:     frame.NewQueue(conn),
		ids:       make(chan uint8, 256),
		ackSignal: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	for id := 0; id < 256; id++ {
		c.ids <- uint8(id)
	}

	go c.readLoop()
	go c.writeLoop()
	return c
}

// Close closes the connection and waits for the reader to stop. Pending
// requests fail with ErrConnectionReset.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error the connection ended with, nil while it is alive.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)

	err := frame.RunEventLoop(c.conn, frame.NewReassembler(c.dispatch))
	switch {
	case err == nil, errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		err = ErrConnectionReset
	case errors.Is(err, ErrServerFatal):
	default:
		err = fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}
	c.fail(err)
}

// fail ends every pending call and ping with err.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	err = c.err

	var calls []*call
	for id, cl := range c.calls {
		if cl != nil {
			calls = append(calls, cl)
			c.calls[id] = nil
		}
	}
	pongs := c.pongs
	c.pongs = nil
	c.mu.Unlock()

	for _, cl := range calls {
		cl.result <- result{err: err}
	}
	for _, p := range pongs {
		p <- err
	}
}

func (c *Client) dispatch(f frame.Frame) error {
	switch f.Type {
	case frame.Pong:
		c.mu.Lock()
		var p chan error
		if len(c.pongs) > 0 {
			p, c.pongs = c.pongs[0], c.pongs[1:]
		}
		c.mu.Unlock()
		if p != nil {
			p <- nil
		}
		return nil

	case frame.Ping:
		c.owe(0, 1)
		return nil

	case frame.Fatal:
		c.logger.Errorf("[FATAL]: %s", f.Payload)
		return fmt.Errorf("%w: %s", ErrServerFatal, f.Payload)
	case frame.Error:
		c.logger.Errorf("[ERROR]: %s", f.Payload)
		return nil
	case frame.Debug:
		c.logger.Debugf("[DEBUG]: %s", f.Payload)
		return nil
	}

	c.mu.Lock()
	cl := c.calls[f.ID]
	if f.Type == frame.Result {
		c.calls[f.ID] = nil
	}
	c.mu.Unlock()

	if f.Type == frame.RecvData {
		c.owe(uint64(f.Size), 0)
	}
	if cl == nil {
		c.logger.Debugf("dropping %s for idle request id %d", f, f.ID)
		return nil
	}

	if f.Type == frame.Result {
		errno, err := f.Value()
		if err != nil {
			return err
		}
		cl.result <- result{errno: vfs.Errno(errno), err: cl.err}
		c.ids <- f.ID
		return nil
	}

	if cl.err == nil && cl.onFrame != nil {
		cl.err = cl.onFrame(f)
	}
	return nil
}

// owe records acknowledgments and pongs for the writer goroutine to send.
func (c *Client) owe(bytes uint64, pongs int) {
	c.ackMu.Lock()
	c.ackBytes += bytes
	c.ackPongs += pongs
	c.ackMu.Unlock()

	select {
	case c.ackSignal <- struct{}{}:
	default:
	}
}

// writeLoop sends owed acknowledgments, coalescing them. It keeps the reader
// from ever blocking on a write.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ackSignal:
		case <-c.done:
			return
		}

		c.ackMu.Lock()
		n, pongs := c.ackBytes, c.ackPongs
		c.ackBytes, c.ackPongs = 0, 0
		c.ackMu.Unlock()

		err := c.send(func(q *frame.Queue) error {
			for ; pongs > 0; pongs-- {
				if err := q.Empty(frame.Pong, 0); err != nil {
					return err
				}
			}
			for n > 0 {
				chunk := n
				if chunk > 0xFFFFFFFF {
					chunk = 0xFFFFFFFF
				}
				if err := q.Int(frame.AckRead, chunk, 0); err != nil {
					return err
				}
				n -= chunk
			}
			return nil
		})
		if err != nil {
			c.logger.Debugf("sending acknowledgments: %v", err)
		}
	}
}

// dropPong removes the pong waiter p if it is still queued.
func (c *Client) dropPong(p chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.pongs, p); i >= 0 {
		c.pongs = slices.Delete(c.pongs, i, i+1)
	}
}

func (c *Client) send(fn func(q *frame.Queue) error) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := fn(c.queue); err != nil {
		return err
	}
	return c.queue.Flush()
}

func (c *Client) acquire(ctx context.Context) (uint8, error) {
	select {
	case id := <-c.ids:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.done:
		return 0, c.Err()
	}
}

// do runs one request: it declares it, sends its arguments and waits for
// the result. If ctx is done first the request is cancelled and ctx.Err()
// returned, unless the server completed it anyway.
func (c *Client) do(ctx context.Context, rt frame.RequestType, args func(q *frame.Queue, id uint8) error, onFrame func(f frame.Frame) error) (vfs.Errno, error) {
	id, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}

	cl := &call{onFrame: onFrame, result: make(chan result, 1)}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		c.ids <- id
		return 0, err
	}
	c.calls[id] = cl
	c.mu.Unlock()

	err = c.send(func(q *frame.Queue) error {
		if err := q.Request(rt, id); err != nil {
			return err
		}
		if args != nil {
			if err := args(q, id); err != nil {
				return err
			}
		}
		return q.Empty(frame.Submit, id)
	})
	if err != nil {
		// The connection is unusable once a request went out partially.
		c.conn.Close()
		res := <-cl.result
		return res.errno, res.err
	}

	select {
	case res := <-cl.result:
		return res.errno, res.err
	case <-ctx.Done():
	}

	c.logger.Debugf("cancelling %s request %d", rt, id)
	if err := c.send(func(q *frame.Queue) error { return q.Empty(frame.Cancel, id) }); err != nil {
		c.logger.Debugf("sending cancel: %v", err)
	}
	res := <-cl.result
	if res.err == nil && res.errno == vfs.ECANCELED {
		return 0, ctx.Err()
	}
	return res.errno, res.err
}
