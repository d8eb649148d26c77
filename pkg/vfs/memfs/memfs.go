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

// Package memfs implements a vfs.FS held entirely in memory. Directory
// entries are kept in a B-tree ordered by full path, so listing a directory
// is a range scan over the entries sharing its prefix.
package memfs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/kurafs/freemount/pkg/vfs"
)

const degree = 32

type inode struct {
	mode  uint32
	nlink uint64
	data  []byte
}

func (ino *inode) stat() vfs.Stat {
	st := vfs.Stat{Mode: ino.mode, Nlink: ino.nlink}
	if ino.mode&vfs.ModeType == vfs.ModeRegular {
		st.Size = int64(len(ino.data))
	}
	return st
}

func (ino *inode) isDir() bool {
	return ino.mode&vfs.ModeType == vfs.ModeDir
}

// entry binds a path to an inode. Hard links are entries sharing an inode.
type entry struct {
	path string
	ino  *inode
}

func (e *entry) Less(than btree.Item) bool {
	return e.path < than.(*entry).path
}

// FS is an in-memory filesystem. It is safe for concurrent use.
type FS struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

var _ vfs.FS = (*FS)(nil)

// New returns an empty filesystem holding just the root directory.
func New() *FS {
	fs := &FS{tree: btree.New(degree)}
	fs.tree.ReplaceOrInsert(&entry{path: "/", ino: &inode{mode: vfs.ModeDir | 0755, nlink: 2}})
	return fs
}

func pathError(op, name string, errno vfs.Errno) error {
	return &os.PathError{Op: op, Path: name, Err: errno}
}

// lookup returns the inode at name, or the errno explaining why there is
// none. fs.mu must be held.
func (fs *FS) lookup(name string) (*inode, vfs.Errno) {
	if item := fs.tree.Get(&entry{path: name}); item != nil {
		return item.(*entry).ino, 0
	}
	if name == "/" {
		return nil, vfs.ENOENT
	}

	dir, _ := vfs.Split(name)
	parent, errno := fs.lookup(dir)
	if errno != 0 {
		return nil, errno
	}
	if !parent.isDir() {
		return nil, vfs.ENOTDIR
	}
	return nil, vfs.ENOENT
}

// parent returns the directory that would hold name. fs.mu must be held.
func (fs *FS) parent(name string) (*inode, vfs.Errno) {
	dir, base := vfs.Split(name)
	if base == "" {
		return nil, vfs.EEXIST
	}
	ino, errno := fs.lookup(dir)
	if errno != 0 {
		return nil, errno
	}
	if !ino.isDir() {
		return nil, vfs.ENOTDIR
	}
	return ino, 0
}

// Stat implements vfs.FS.
func (fs *FS) Stat(name string) (vfs.Stat, error) {
	name = vfs.Resolve("/", name)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	ino, errno := fs.lookup(name)
	if errno != 0 {
		return vfs.Stat{}, pathError("stat", name, errno)
	}
	return ino.stat(), nil
}

// List implements vfs.FS.
func (fs *FS) List(name string) ([]string, error) {
	name = vfs.Resolve("/", name)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	ino, errno := fs.lookup(name)
	if errno != 0 {
		return nil, pathError("list", name, errno)
	}
	if !ino.isDir() {
		return nil, pathError("list", name, vfs.ENOTDIR)
	}

	prefix := name
	if prefix != "/" {
		prefix += "/"
	}
	names := []string{}
	fs.tree.AscendGreaterOrEqual(&entry{path: prefix}, func(item btree.Item) bool {
		p := item.(*entry).path
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		if rest := p[len(prefix):]; rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
		return true
	})
	return names, nil
}

// Open implements vfs.FS.
func (fs *FS) Open(name string, flag int, perm uint32) (vfs.Handle, error) {
	name = vfs.Resolve("/", name)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	h := &handle{fs: fs, name: name, flag: flag}
	ino, errno := fs.lookup(name)
	switch {
	case errno == vfs.ENOENT && flag&vfs.O_CREAT != 0:
		if _, errno := fs.parent(name); errno != 0 {
			return nil, pathError("open", name, errno)
		}
		ino = &inode{mode: vfs.ModeRegular | perm&vfs.ModePerm, nlink: 1}
		fs.tree.ReplaceOrInsert(&entry{path: name, ino: ino})
	case errno != 0:
		return nil, pathError("open", name, errno)
	case flag&(vfs.O_CREAT|vfs.O_EXCL) == vfs.O_CREAT|vfs.O_EXCL:
		return nil, pathError("open", name, vfs.EEXIST)
	case ino.isDir() && h.writable():
		return nil, pathError("open", name, vfs.EISDIR)
	case flag&vfs.O_TRUNC != 0 && h.writable():
		ino.data = nil
	}

	h.ino = ino
	return h, nil
}

// Link implements vfs.FS.
func (fs *FS) Link(oldname, newname string) error {
	oldname = vfs.Resolve("/", oldname)
	newname = vfs.Resolve("/", newname)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, errno := fs.lookup(oldname)
	if errno != 0 {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: errno}
	}
	if ino.isDir() {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: vfs.EPERM}
	}
	if _, errno := fs.lookup(newname); errno == 0 {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: vfs.EEXIST}
	}
	if _, errno := fs.parent(newname); errno != 0 {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: errno}
	}

	ino.nlink++
	fs.tree.ReplaceOrInsert(&entry{path: newname, ino: ino})
	return nil
}

// Mkdir creates a directory.
func (fs *FS) Mkdir(name string, perm uint32) error {
	name = vfs.Resolve("/", name)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, errno := fs.lookup(name); errno == 0 {
		return pathError("mkdir", name, vfs.EEXIST)
	}
	parent, errno := fs.parent(name)
	if errno != 0 {
		return pathError("mkdir", name, errno)
	}

	parent.nlink++
	fs.tree.ReplaceOrInsert(&entry{path: name, ino: &inode{mode: vfs.ModeDir | perm&vfs.ModePerm, nlink: 2}})
	return nil
}

// Len returns the number of directory entries, the root included.
func (fs *FS) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.tree.Len()
}

type handle struct {
	fs     *FS
	ino    *inode
	name   string
	flag   int
	off    int64
	closed bool
}

func (h *handle) readable() bool {
	return h.flag&vfs.O_ACCMODE != vfs.O_WRONLY
}

func (h *handle) writable() bool {
	return h.flag&vfs.O_ACCMODE != vfs.O_RDONLY
}

// check returns the error for an operation the handle doesn't permit.
// h.fs.mu must be held.
func (h *handle) check(op string, ok bool) error {
	switch {
	case h.closed || !ok:
		return pathError(op, h.name, vfs.EBADF)
	case h.ino.isDir():
		return pathError(op, h.name, vfs.EISDIR)
	}
	return nil
}

func (h *handle) readAt(p []byte, off int64) (int, error) {
	if err := h.check("read", h.readable()); err != nil {
		return 0, err
	}
	if off >= int64(len(h.ino.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.ino.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *handle) writeAt(p []byte, off int64) (int, error) {
	if err := h.check("write", h.writable()); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, pathError("write", h.name, vfs.EINVAL)
	}
	if end := off + int64(len(p)); end > int64(len(h.ino.data)) {
		if end <= int64(cap(h.ino.data)) {
			h.ino.data = h.ino.data[:end]
		} else {
			data := make([]byte, end, end+end/4)
			copy(data, h.ino.data)
			h.ino.data = data
		}
	}
	return copy(h.ino.data[off:], p), nil
}

func (h *handle) Read(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if len(p) == 0 {
		return 0, h.check("read", h.readable())
	}
	n, err := h.readAt(p, h.off)
	h.off += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()
	return h.readAt(p, off)
}

func (h *handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.flag&vfs.O_APPEND != 0 {
		h.off = int64(len(h.ino.data))
	}
	n, err := h.writeAt(p, h.off)
	h.off += int64(n)
	return n, err
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return h.writeAt(p, off)
}

func (h *handle) Stat() (vfs.Stat, error) {
	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()

	if h.closed {
		return vfs.Stat{}, pathError("stat", h.name, vfs.EBADF)
	}
	return h.ino.stat(), nil
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return pathError("close", h.name, vfs.EBADF)
	}
	h.closed = true
	return nil
}
