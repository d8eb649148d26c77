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
	"testing"
	"time"

	"github.com/kurafs/freemount/pkg/vfs/memfs"
)

func TestCheckTasksDoesNotWait(t *testing.T) {
	s := NewSession(memfs.New(), nil)
	answered := &task{id: 3, done: make(chan struct{})}
	answered.replied.Store(true)
	running := &task{id: 4, done: make(chan struct{})}
	s.requests[3] = &Request{task: answered}
	s.requests[4] = &Request{task: running}

	checked := make(chan struct{})
	go func() {
		s.checkTasks()
		close(checked)
	}()
	select {
	case <-checked:
	case <-time.After(5 * time.Second):
		t.Fatal("checkTasks blocked on a task that has answered")
	}

	if s.requests[3] != nil {
		t.Error("slot 3 still taken after its task answered")
	}
	if s.requests[4] == nil {
		t.Error("slot 4 freed while its task is running")
	}
	if len(s.orphans) != 1 || s.orphans[0] != answered {
		t.Fatalf("orphans = %v, want the answered task", s.orphans)
	}

	close(answered.done)
	s.checkTasks()
	if len(s.orphans) != 0 {
		t.Errorf("orphans = %v after the task returned, want none", s.orphans)
	}

	close(running.done)
	s.checkTasks()
	if s.requests[4] != nil {
		t.Error("slot 4 still taken after its task returned")
	}
}
