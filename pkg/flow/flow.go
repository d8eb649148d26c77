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

// Package flow implements the congestion window that bounds how much
// streamed data a sender may have outstanding before the peer acknowledges
// it.
//
// Each session owns one Controller. Senders call Transmitting before handing
// a chunk to the transport, and the session's reader calls Acknowledged for
// every ack frame the peer sends back.
package flow

import (
	"context"
	"sync"
)

// Controller tracks bytes in flight against a window. The zero value is a
// disabled controller that never blocks.
type Controller struct {
	mu       sync.Mutex
	window   int64
	inFlight int64
	wake     chan struct{}
}

// New returns a Controller with the given window in bytes. A window of zero
// disables flow control.
func New(window int64) *Controller {
	return &Controller{window: window}
}

// Transmitting blocks while the bytes in flight reach or exceed the window,
// then accounts for n more. It returns ctx.Err() if ctx is done first, in
// which case n is not accounted for.
func (c *Controller) Transmitting(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		if c.window <= 0 || c.inFlight < c.window {
			c.inFlight += int64(n)
			c.mu.Unlock()
			return nil
		}
		wake := c.waiters()
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Acknowledged accounts for n bytes having been consumed by the peer, waking
// blocked senders once the total drops below the window. Acknowledging more
// than is in flight clamps the total at zero.
func (c *Controller) Acknowledged(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight -= int64(n)
	if c.inFlight < 0 {
		c.inFlight = 0
	}
	if c.window <= 0 || c.inFlight < c.window {
		c.broadcast()
	}
}

// SetWindow changes the window. Blocked senders re-evaluate against the new
// value.
func (c *Controller) SetWindow(window int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = window
	c.broadcast()
}

// Window returns the configured window, zero if disabled.
func (c *Controller) Window() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// InFlight returns the bytes transmitted but not yet acknowledged.
func (c *Controller) InFlight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// waiters returns the channel closed on the next broadcast. c.mu must be held.
func (c *Controller) waiters() chan struct{} {
	if c.wake == nil {
		c.wake = make(chan struct{})
	}
	return c.wake
}

// broadcast wakes every blocked sender. c.mu must be held.
func (c *Controller) broadcast() {
	if c.wake != nil {
		close(c.wake)
		c.wake = nil
	}
}
