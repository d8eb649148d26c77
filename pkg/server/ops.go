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
	"io"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/streaming"
	"github.com/kurafs/freemount/pkg/vfs"
)

func authOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	return nil
}

func statOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	st, err := s.fs.Stat(s.resolve(r.Path))
	if err != nil {
		return err
	}

	return s.send(ctx, func(q *frame.Queue) error {
		if err := q.Int(frame.StatMode, uint64(st.Mode), id); err != nil {
			return err
		}
		if st.IsDir() && st.Nlink > 1 {
			if err := q.Int(frame.StatNlink, st.Nlink, id); err != nil {
				return err
			}
		}
		if st.IsRegular() {
			return q.Int(frame.StatSize, uint64(st.Size), id)
		}
		return nil
	})
}

func listOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	names, err := s.fs.List(s.resolve(r.Path))
	if err != nil {
		return err
	}

	return s.send(ctx, func(q *frame.Queue) error {
		for _, name := range names {
			if err := q.String(frame.DentryName, []byte(name), id); err != nil {
				return err
			}
		}
		return nil
	})
}

// fileFor returns the handle a read or write request operates on: the open
// file its fd argument named at submission, else its path opened with flag.
// The returned release func drops the request's hold on the handle, closing
// it if it was opened here or its slot has been closed since.
func (s *Session) fileFor(r *Request, flag int) (h vfs.Handle, release func(), err error) {
	if r.FD >= 0 {
		f := r.file
		if f == nil {
			return nil, nil, vfs.EBADF
		}
		r.file = nil
		return f.Handle, func() {
			if err := f.release(); err != nil {
				s.logger.Debugf("closing fd %d: %v", r.FD, err)
			}
		}, nil
	}

	h, err = s.fs.Open(s.resolve(r.Path), flag, 0666)
	if err != nil {
		return nil, nil, err
	}
	return h, func() { h.Close() }, nil
}

// readOp streams a file back in ReadChunkSize frames, preceded by its size
// if it is a regular file. Count limits the bytes sent, and a non-negative
// Offset reads from that position instead of the handle's own.
func readOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	h, release, err := s.fileFor(r, vfs.O_RDONLY)
	if err != nil {
		return err
	}
	defer release()

	st, err := h.Stat()
	if err != nil {
		return err
	}
	if st.IsRegular() {
		err := s.send(ctx, func(q *frame.Queue) error {
			return q.Int(frame.StatSize, uint64(st.Size), id)
		})
		if err != nil {
			return err
		}
	}

	remaining, offset := r.Count, r.Offset
	buf := make([]byte, streaming.ReadChunkSize)
	for remaining != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := buf
		if remaining > 0 && remaining < int64(len(buf)) {
			chunk = buf[:remaining]
		}

		var n int
		var rerr error
		if offset < 0 {
			n, rerr = h.Read(chunk)
		} else {
			n, rerr = h.ReadAt(chunk, offset)
			offset += int64(n)
		}
		if rerr != nil && rerr != io.EOF {
			return rerr
		}
		if n == 0 {
			break
		}
		if remaining > 0 {
			remaining -= int64(n)
		}

		if err := s.flow.Transmitting(ctx, n); err != nil {
			return err
		}
		err := s.send(ctx, func(q *frame.Queue) error {
			return q.String(frame.RecvData, chunk[:n], id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// writeOp writes the request's data. Without an offset the file is created
// or truncated first; with one the data is written in place. A declared
// count must match the data received.
func writeOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	if r.Count >= 0 && int64(len(r.Data)) != r.Count {
		return vfs.EINVAL
	}
	if r.FD < 0 && r.Path == "" {
		return vfs.ENOENT
	}

	flag := vfs.O_WRONLY
	if r.Offset < 0 {
		flag |= vfs.O_CREAT | vfs.O_TRUNC
	}
	h, release, err := s.fileFor(r, flag)
	if err != nil {
		return err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Offset >= 0 {
		_, err = h.WriteAt(r.Data, r.Offset)
	} else {
		_, err = h.Write(r.Data)
	}
	return err
}

// openOp binds a file to the descriptor slot the peer chose, creating the
// file if needed. A file already bound to the slot is closed once the
// requests using it are done.
func openOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	if r.FD < 0 || r.FD >= maxOpenFiles {
		return vfs.EBADF
	}

	h, err := s.fs.Open(s.resolve(r.Path), vfs.O_RDWR|vfs.O_CREAT, 0666)
	if err != nil {
		return err
	}
	if old := s.setOpenFile(int(r.FD), h); old != nil {
		if err := old.release(); err != nil {
			s.logger.Debugf("closing fd %d: %v", r.FD, err)
		}
	}
	return nil
}

// closeOp unbinds a descriptor slot. Reads and writes already using the
// file run to completion, and the file is closed after the last of them.
func closeOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	if r.FD < 0 || r.FD >= maxOpenFiles {
		return vfs.EBADF
	}

	f := s.setOpenFile(int(r.FD), nil)
	if f == nil {
		return vfs.EBADF
	}
	return f.release()
}

// linkOp creates Target as a hard link to Path. A failure is reported
// without saying which of the two paths caused it.
func linkOp(ctx context.Context, s *Session, id uint8, r *Request) error {
	return s.fs.Link(s.resolve(r.Path), s.resolve(r.Target))
}
