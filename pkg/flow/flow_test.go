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

package flow

import (
	"context"
	"testing"
	"time"
)

func TestDisabled(t *testing.T) {
	c := New(0)
	for i := 0; i < 100; i++ {
		if err := c.Transmitting(context.Background(), 1<<20); err != nil {
			t.Fatalf("Transmitting: unexpected error: %v", err)
		}
	}

	var zero Controller
	if err := zero.Transmitting(context.Background(), 4096); err != nil {
		t.Fatalf("zero value Transmitting: unexpected error: %v", err)
	}
}

func transmitAsync(c *Controller, n int) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Transmitting(context.Background(), n) }()
	return done
}

func TestBlocksUntilAcknowledged(t *testing.T) {
	c := New(8192)
	ctx := context.Background()

	if err := c.Transmitting(ctx, 4096); err != nil {
		t.Fatal(err)
	}
	if err := c.Transmitting(ctx, 4096); err != nil {
		t.Fatal(err)
	}
	if got := c.InFlight(); got != 8192 {
		t.Fatalf("InFlight() = %d, want 8192", got)
	}

	done := transmitAsync(c, 4096)
	select {
	case <-done:
		t.Fatal("Transmitting returned with the window full")
	case <-time.After(50 * time.Millisecond):
	}

	c.Acknowledged(4096)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Transmitting still blocked after acknowledgment")
	}
	if got := c.InFlight(); got != 8192 {
		t.Errorf("InFlight() = %d, want 8192", got)
	}
}

func TestCancel(t *testing.T) {
	c := New(1)
	if err := c.Transmitting(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Transmitting(ctx, 10) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Transmitting did not return")
	}
	if got := c.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}
}

func TestSetWindowWakes(t *testing.T) {
	c := New(10)
	c.Transmitting(context.Background(), 10)

	done := transmitAsync(c, 10)
	c.SetWindow(0)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("disabling the window did not wake the sender")
	}
}

func TestAcknowledgedClamps(t *testing.T) {
	c := New(100)
	c.Transmitting(context.Background(), 10)
	c.Acknowledged(50)
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d, want 0", got)
	}
}
