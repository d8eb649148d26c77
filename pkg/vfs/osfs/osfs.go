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

// Package osfs exposes a native directory tree as a vfs.FS. Operations map
// one to one onto system calls so that the error numbers the peer sees are
// exactly the ones the host reported.
package osfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kurafs/freemount/pkg/vfs"
)

// DefaultRoot is the directory served when none is configured.
const DefaultRoot = "/var/freemount"

// FS is a directory tree on the host, rooted at Root. Paths are confined to
// the tree lexically; symbolic links inside it are followed wherever they
// point.
type FS struct {
	Root string
}

var _ vfs.FS = (*FS)(nil)

// New returns an FS rooted at the directory root.
func New(root string) (*FS, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: root, Err: err}
	}
	if uint32(st.Mode)&vfs.ModeType != vfs.ModeDir {
		return nil, fmt.Errorf("osfs: %s is not a directory", root)
	}
	return &FS{Root: root}, nil
}

func (fs *FS) native(name string) string {
	return filepath.Join(fs.Root, filepath.FromSlash(vfs.Resolve("/", name)))
}

func toStat(st *unix.Stat_t) vfs.Stat {
	return vfs.Stat{
		Mode:  uint32(st.Mode),
		Nlink: uint64(st.Nlink),
		Size:  st.Size,
	}
}

// Stat implements vfs.FS.
func (fs *FS) Stat(name string) (vfs.Stat, error) {
	var st unix.Stat_t
	if err := unix.Stat(fs.native(name), &st); err != nil {
		return vfs.Stat{}, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	return toStat(&st), nil
}

// List implements vfs.FS.
func (fs *FS) List(name string) ([]string, error) {
	fd, err := unix.Open(fs.native(name), unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "list", Path: name, Err: err}
	}
	defer unix.Close(fd)

	names := []string{}
	buf := make([]byte, 8192)
	for {
		n, err := unix.ReadDirent(fd, buf)
		if err != nil {
			return nil, &os.PathError{Op: "list", Path: name, Err: err}
		}
		if n <= 0 {
			break
		}
		_, _, names = unix.ParseDirent(buf[:n], -1, names)
	}
	sort.Strings(names)
	return names, nil
}

// Open implements vfs.FS.
func (fs *FS) Open(name string, flag int, perm uint32) (vfs.Handle, error) {
	fd, err := unix.Open(fs.native(name), flag|unix.O_CLOEXEC, perm)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return &handle{fd: fd, name: name}, nil
}

// Link implements vfs.FS.
func (fs *FS) Link(oldname, newname string) error {
	if err := unix.Link(fs.native(oldname), fs.native(newname)); err != nil {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: err}
	}
	return nil
}

// Mkdir creates a directory.
func (fs *FS) Mkdir(name string, perm uint32) error {
	if err := unix.Mkdir(fs.native(name), perm); err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return nil
}

// handle is an open file descriptor. Close waits for I/O in progress, so
// the descriptor number is never used after the kernel may have reused it.
type handle struct {
	mu   sync.RWMutex
	fd   int
	name string
}

// use returns the descriptor with h.mu read-locked, or an error if the
// handle is closed. The caller unlocks.
func (h *handle) use(op string) (int, error) {
	h.mu.RLock()
	if h.fd < 0 {
		h.mu.RUnlock()
		return -1, h.wrap(op, unix.EBADF)
	}
	return h.fd, nil
}

func (h *handle) wrap(op string, err error) error {
	return &os.PathError{Op: op, Path: h.name, Err: err}
}

func (h *handle) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	fd, err := h.use("read")
	if err != nil {
		return 0, err
	}
	defer h.mu.RUnlock()

	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, h.wrap("read", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	fd, err := h.use("pread")
	if err != nil {
		return 0, err
	}
	defer h.mu.RUnlock()

	var done int
	for done < len(p) {
		n, err := unix.Pread(fd, p[done:], off+int64(done))
		if err != nil {
			return done, h.wrap("pread", err)
		}
		if n == 0 {
			return done, io.EOF
		}
		done += n
	}
	return done, nil
}

func (h *handle) Write(p []byte) (int, error) {
	fd, err := h.use("write")
	if err != nil {
		return 0, err
	}
	defer h.mu.RUnlock()

	var done int
	for done < len(p) {
		n, err := unix.Write(fd, p[done:])
		if err != nil {
			return done, h.wrap("write", err)
		}
		if n == 0 {
			return done, io.ErrShortWrite
		}
		done += n
	}
	return done, nil
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	fd, err := h.use("pwrite")
	if err != nil {
		return 0, err
	}
	defer h.mu.RUnlock()

	var done int
	for done < len(p) {
		n, err := unix.Pwrite(fd, p[done:], off+int64(done))
		if err != nil {
			return done, h.wrap("pwrite", err)
		}
		if n == 0 {
			return done, io.ErrShortWrite
		}
		done += n
	}
	return done, nil
}

func (h *handle) Stat() (vfs.Stat, error) {
	fd, err := h.use("fstat")
	if err != nil {
		return vfs.Stat{}, err
	}
	defer h.mu.RUnlock()

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return vfs.Stat{}, h.wrap("fstat", err)
	}
	return toStat(&st), nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fd < 0 {
		return h.wrap("close", unix.EBADF)
	}
	err := unix.Close(h.fd)
	h.fd = -1
	if err != nil {
		return h.wrap("close", err)
	}
	return nil
}
