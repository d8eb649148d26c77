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
	"math"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/vfs"
)

// HandleFrame is the dispatcher. It is called by the frame loop for every
// frame, in order, and must not be called concurrently. A non-nil return
// ends the session.
func (s *Session) HandleFrame(f frame.Frame) error {
	s.checkTasks()

	switch f.Type {
	case frame.Fatal:
		s.logger.Errorf("[FATAL]: %s", f.Payload)
		return nil
	case frame.Error:
		s.logger.Errorf("[ERROR]: %s", f.Payload)
		return nil
	case frame.Debug:
		s.logger.Debugf("[DEBUG]: %s", f.Payload)
		return nil

	case frame.Ping:
		s.logger.Debug("ping")
		return s.send(s.ctx, func(q *frame.Queue) error {
			return q.Empty(frame.Pong, f.ID)
		})
	case frame.Pong, frame.AckWrite:
		return nil

	case frame.AckRead:
		n, err := f.Uint32()
		if err != nil {
			return violation(vfs.EINVAL, "bad %s frame: %v", f.Type, err)
		}
		s.flow.Acknowledged(int(n))
		return nil

	case frame.Cancel:
		return s.cancelRequest(f.ID)
	}

	if maskArgs&f.Type.Bit() == 0 || !f.Type.Known() {
		return violation(vfs.EINVAL, "invalid frame type %d", uint8(f.Type))
	}

	id := f.ID
	r := s.requests[id]

	if f.Type == frame.Request {
		rt := frame.RequestType(f.Data)
		if _, ok := lookupRequest(rt); !ok {
			return violation(vfs.ENOSYS, "unimplemented request type %d", uint8(rt))
		}
		if r != nil {
			return violation(vfs.EEXIST, "duplicate request id %d", id)
		}

		s.logger.Debugf("new %s request, id %d", rt, id)
		s.requests[id] = newRequest(rt)
		return nil
	}

	if r == nil {
		return violation(vfs.ESRCH, "nonexistent request id %d", id)
	}
	if r.task != nil {
		return violation(vfs.EINVAL, "%s for request id %d after submission", f.Type, id)
	}

	desc, _ := lookupRequest(r.Type)
	if desc.mask&f.Type.Bit() == 0 {
		return violation(vfs.EINVAL, "invalid %s arg for %s request", f.Type, r.Type)
	}

	switch f.Type {
	case frame.ArgPath:
		switch r.paths {
		case 0:
			r.Path = string(f.Payload)
		case 1:
			r.Target = string(f.Payload)
		default:
			return violation(vfs.EINVAL, "too many paths for %s request", r.Type)
		}
		r.paths++
		s.logger.Debugf("path: %q", f.Payload)

	case frame.ArgFD:
		fd, err := f.Uint32()
		if err != nil {
			return violation(vfs.EINVAL, "bad %s frame: %v", f.Type, err)
		}
		r.FD = int64(fd)

	case frame.SendData:
		if len(r.Data)+len(f.Payload) > s.maxWrite {
			return violation(vfs.EFBIG, "write request %d exceeds %d bytes", id, s.maxWrite)
		}
		r.Data = append(r.Data, f.Payload...)

	case frame.IOCount, frame.SeekOffset:
		v, err := f.Value()
		if err != nil {
			return violation(vfs.EINVAL, "bad %s frame: %v", f.Type, err)
		}
		if v > math.MaxInt64 {
			return violation(vfs.EINVAL, "%s %d out of range", f.Type, v)
		}
		if f.Type == frame.IOCount {
			r.Count = int64(v)
		} else {
			r.Offset = int64(v)
		}

	case frame.Submit:
		return s.submit(id, r, desc)
	}
	return nil
}

func (s *Session) submit(id uint8, r *Request, desc requestDesc) error {
	s.stats.Requests.Add(1)

	if desc.background {
		if r.FD >= 0 && r.FD < maxOpenFiles {
			r.file = s.acquireFile(int(r.FD))
		}
		r.task = s.beginTask(id, r, desc.handler)
		return nil
	}

	err := desc.handler(s.ctx, s, id, r)
	s.requests[id] = nil
	return s.respond(s.ctx, id, err)
}
