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
	"sync/atomic"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/vfs"
)

// task runs one submitted request in the background. The frame loop polls
// it through checkTasks instead of blocking on it.
type task struct {
	id     uint8
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// replied is set under the send lock just before the result frame is
	// flushed. From then on the peer may reuse the id.
	replied atomic.Bool
}

func (s *Session) beginTask(id uint8, r *Request, h handler) *task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.stats.Tasks.Add(1)
	go func() {
		defer close(t.done)
		defer s.stats.Tasks.Add(-1)
		defer cancel()

		err := h(ctx, s, id, r)
		if r.file != nil {
			// The handler failed before using its fd argument.
			r.file.release()
			r.file = nil
		}
		s.finish(t, err)
	}()
	return t
}

// finish sends the task's result unless it was cancelled.
func (s *Session) finish(t *task, err error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if t.ctx.Err() != nil {
		s.logger.Debugf("request %d cancelled, dropping its result", t.id)
		return
	}

	errno := vfs.ErrnoOf(err)
	if errno != 0 {
		s.logger.Debugf("request %d failed: %v", t.id, err)
	}

	t.replied.Store(true)
	if err := s.queue.Int(frame.Result, uint64(errno), t.id); err != nil {
		s.logger.Debugf("request %d: sending result: %v", t.id, err)
		return
	}
	if err := s.queue.Flush(); err != nil {
		s.logger.Debugf("request %d: sending result: %v", t.id, err)
	}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *task) wait() {
	<-t.done
}

// checkTasks reclaims the slots of tasks that have answered and forgets
// orphaned tasks that have since returned. It never waits: a task that has
// answered but not yet returned becomes an orphan.
func (s *Session) checkTasks() {
	for i := range s.requests {
		r := s.requests[i]
		if r == nil || r.task == nil {
			continue
		}
		switch {
		case r.task.finished():
			s.requests[i] = nil
		case r.task.replied.Load():
			s.orphans = append(s.orphans, r.task)
			s.requests[i] = nil
		}
	}

	live := s.orphans[:0]
	for _, t := range s.orphans {
		if !t.finished() {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(s.orphans); i++ {
		s.orphans[i] = nil
	}
	s.orphans = live
}

// cancelRequest handles a cancel frame for id. A running task is cancelled
// and the peer gets exactly one result, ECANCELED, unless the task already
// answered. A request still being assembled is dropped with the same
// acknowledgment. An absent id is ignored since the request may simply have
// completed first.
func (s *Session) cancelRequest(id uint8) error {
	r := s.requests[id]
	if r == nil {
		s.logger.Debugf("cancel for absent request id %d", id)
		return nil
	}
	s.requests[id] = nil

	if r.task == nil {
		s.logger.Debugf("cancelled %s request %d before submission", r.Type, id)
		return s.respond(s.ctx, id, vfs.ECANCELED)
	}

	t := r.task
	s.orphans = append(s.orphans, t)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if t.replied.Load() {
		return nil
	}
	t.cancel()
	s.logger.Debugf("cancelled running %s request %d", r.Type, id)

	if err := s.queue.Int(frame.Result, uint64(vfs.ECANCELED), id); err != nil {
		return err
	}
	return s.queue.Flush()
}
