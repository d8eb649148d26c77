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
	"bytes"
	"context"
	"io"

	"github.com/kurafs/freemount/pkg/frame"
	"github.com/kurafs/freemount/pkg/vfs"
)

// ReadOptions narrows a read. The zero value reads everything from the
// current position.
type ReadOptions struct {
	// Count limits the bytes read when positive.
	Count int64
	// Offset is where reading starts when Positioned is set.
	Offset     int64
	Positioned bool
}

// noFD marks a request addressed by path.
const noFD = -1

func pathArg(q *frame.Queue, p string, id uint8) error {
	return q.String(frame.ArgPath, []byte(p), id)
}

// failure turns a request outcome into the error a method returns.
func failure(op, path string, errno vfs.Errno, err error) error {
	if err != nil {
		return err
	}
	if errno != 0 {
		return &PathError{Op: op, Path: path, Errno: errno}
	}
	return nil
}

// Ping sends a ping and waits for the matching pong.
func (c *Client) Ping(ctx context.Context) error {
	p := make(chan error, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pongs = append(c.pongs, p)
	c.mu.Unlock()

	if err := c.send(func(q *frame.Queue) error { return q.Empty(frame.Ping, 0) }); err != nil {
		c.dropPong(p)
		c.conn.Close()
		return err
	}

	select {
	case err := <-p:
		return err
	case <-ctx.Done():
		// The waiter stays queued so later pongs still pair with their pings.
		return ctx.Err()
	}
}

// Auth authenticates the session.
func (c *Client) Auth(ctx context.Context) error {
	errno, err := c.do(ctx, frame.ReqAuth, nil, nil)
	return failure("auth", "", errno, err)
}

// Stat returns the mode, link count and size of path.
func (c *Client) Stat(ctx context.Context, path string) (vfs.Stat, error) {
	st := vfs.Stat{Nlink: 1}
	errno, err := c.do(ctx, frame.ReqStat,
		func(q *frame.Queue, id uint8) error { return pathArg(q, path, id) },
		func(f frame.Frame) error {
			v, err := f.Value()
			if err != nil {
				return err
			}
			switch f.Type {
			case frame.StatMode:
				st.Mode = uint32(v)
			case frame.StatNlink:
				st.Nlink = v
			case frame.StatSize:
				st.Size = int64(v)
			}
			return nil
		})
	if err := failure("stat", path, errno, err); err != nil {
		return vfs.Stat{}, err
	}
	return st, nil
}

// List returns the names in the directory path.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	var names []string
	errno, err := c.do(ctx, frame.ReqList,
		func(q *frame.Queue, id uint8) error { return pathArg(q, path, id) },
		func(f frame.Frame) error {
			if f.Type == frame.DentryName {
				names = append(names, string(f.Payload))
			}
			return nil
		})
	if err := failure("list", path, errno, err); err != nil {
		return nil, err
	}
	return names, nil
}

// ReadTo streams path into w. It returns the bytes written and the file
// size the server announced, -1 if none.
func (c *Client) ReadTo(ctx context.Context, path string, w io.Writer, opts ReadOptions) (n, size int64, err error) {
	return c.read(ctx, path, noFD, w, opts)
}

// ReadFD streams from descriptor fd into w, like ReadTo.
func (c *Client) ReadFD(ctx context.Context, fd int, w io.Writer, opts ReadOptions) (n, size int64, err error) {
	return c.read(ctx, "", fd, w, opts)
}

func (c *Client) read(ctx context.Context, path string, fd int, w io.Writer, opts ReadOptions) (n, size int64, err error) {
	size = -1
	errno, err := c.do(ctx, frame.ReqRead,
		func(q *frame.Queue, id uint8) error {
			if err := target(q, path, fd, id); err != nil {
				return err
			}
			if opts.Count > 0 {
				if err := q.Int(frame.IOCount, uint64(opts.Count), id); err != nil {
					return err
				}
			}
			if opts.Positioned {
				return q.Int(frame.SeekOffset, uint64(opts.Offset), id)
			}
			return nil
		},
		func(f frame.Frame) error {
			switch f.Type {
			case frame.StatSize:
				v, err := f.Value()
				if err != nil {
					return err
				}
				size = int64(v)
			case frame.RecvData:
				m, err := w.Write(f.Payload)
				n += int64(m)
				return err
			}
			return nil
		})
	return n, size, failure("read", path, errno, err)
}

// target adds the path or descriptor argument a read or write acts on.
func target(q *frame.Queue, path string, fd int, id uint8) error {
	if fd != noFD {
		return q.Int(frame.ArgFD, uint64(fd), id)
	}
	return pathArg(q, path, id)
}

// Get returns the contents of path.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	var buf bytes.Buffer
	if _, _, err := c.ReadTo(ctx, path, &buf, ReadOptions{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Put replaces the contents of path with data, creating it if needed.
func (c *Client) Put(ctx context.Context, path string, data []byte) error {
	return c.write(ctx, path, noFD, data, -1)
}

// WriteAt writes data at offset in path without truncating it.
func (c *Client) WriteAt(ctx context.Context, path string, data []byte, offset int64) error {
	return c.write(ctx, path, noFD, data, offset)
}

// WriteFD writes data to descriptor fd, at offset if it is not negative.
func (c *Client) WriteFD(ctx context.Context, fd int, data []byte, offset int64) error {
	return c.write(ctx, "", fd, data, offset)
}

func (c *Client) write(ctx context.Context, path string, fd int, data []byte, offset int64) error {
	errno, err := c.do(ctx, frame.ReqWrite,
		func(q *frame.Queue, id uint8) error {
			if err := target(q, path, fd, id); err != nil {
				return err
			}
			if offset >= 0 {
				if err := q.Int(frame.SeekOffset, uint64(offset), id); err != nil {
					return err
				}
			}
			return q.Buffer(frame.SendData, data, id)
		}, nil)
	return failure("write", path, errno, err)
}

// Open binds path to descriptor slot fd on the server, creating the file if
// it does not exist.
func (c *Client) Open(ctx context.Context, path string, fd int) error {
	errno, err := c.do(ctx, frame.ReqOpen,
		func(q *frame.Queue, id uint8) error {
			if err := pathArg(q, path, id); err != nil {
				return err
			}
			return q.Int(frame.ArgFD, uint64(fd), id)
		}, nil)
	return failure("open", path, errno, err)
}

// CloseFD releases descriptor slot fd.
func (c *Client) CloseFD(ctx context.Context, fd int) error {
	errno, err := c.do(ctx, frame.ReqClose,
		func(q *frame.Queue, id uint8) error {
			return q.Int(frame.ArgFD, uint64(fd), id)
		}, nil)
	return failure("close", "", errno, err)
}

// Link creates newname as a hard link to oldname.
func (c *Client) Link(ctx context.Context, oldname, newname string) error {
	errno, err := c.do(ctx, frame.ReqLink,
		func(q *frame.Queue, id uint8) error {
			if err := pathArg(q, oldname, id); err != nil {
				return err
			}
			return pathArg(q, newname, id)
		}, nil)
	return failure("link", oldname, errno, err)
}
