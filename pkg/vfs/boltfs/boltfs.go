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

// Package boltfs stores a vfs.FS in a single bolt database file.
//
// The database holds three buckets. "names" maps every absolute path to an
// inode number, so hard links are simply names sharing a number. "inodes"
// maps inode numbers to a CBOR encoded record of the file's mode and link
// count. "data" maps inode numbers to file contents; a missing value is an
// empty file.
package boltfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/fxamacker/cbor/v2"

	"github.com/kurafs/freemount/pkg/vfs"
)

var (
	namesBucket  = []byte("names")
	inodesBucket = []byte("inodes")
	dataBucket   = []byte("data")
)

// record is the stored form of an inode.
type record struct {
	Mode  uint32 `cbor:"1,keyasint"`
	Nlink uint64 `cbor:"2,keyasint"`
}

func (r record) isDir() bool {
	return r.Mode&vfs.ModeType == vfs.ModeDir
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("boltfs: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("boltfs: CBOR decoder initialization failed: " + err.Error())
	}
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// FS is a filesystem persisted in a bolt database. It is safe for
// concurrent use; every operation is its own transaction.
type FS struct {
	db *bolt.DB
}

var _ vfs.FS = (*FS)(nil)

// Open opens or creates the database at path.
func Open(path string) (*FS, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{namesBucket, inodesBucket, dataBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %s", name, err)
			}
		}

		t := buckets(tx)
		if t.names.Get([]byte("/")) != nil {
			return nil
		}
		_, err := t.create("/", record{Mode: vfs.ModeDir | 0755, Nlink: 2})
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &FS{db: db}, nil
}

// Close closes the database. Handles must not be used afterwards.
func (fs *FS) Close() error {
	return fs.db.Close()
}

// Path returns the database file's path.
func (fs *FS) Path() string {
	return fs.db.Path()
}

type txn struct {
	names, inodes, data *bolt.Bucket
}

func buckets(tx *bolt.Tx) txn {
	return txn{
		names:  tx.Bucket(namesBucket),
		inodes: tx.Bucket(inodesBucket),
		data:   tx.Bucket(dataBucket),
	}
}

func (t txn) record(id uint64) (record, error) {
	var rec record
	b := t.inodes.Get(itob(id))
	if b == nil {
		return rec, fmt.Errorf("boltfs: dangling inode %d", id)
	}
	if err := decMode.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("boltfs: inode %d: %v", id, err)
	}
	return rec, nil
}

func (t txn) putRecord(id uint64, rec record) error {
	b, err := encMode.Marshal(rec)
	if err != nil {
		return err
	}
	return t.inodes.Put(itob(id), b)
}

// create allocates an inode for rec and binds name to it.
func (t txn) create(name string, rec record) (uint64, error) {
	id, err := t.inodes.NextSequence()
	if err != nil {
		return 0, err
	}
	if err := t.putRecord(id, rec); err != nil {
		return 0, err
	}
	return id, t.names.Put([]byte(name), itob(id))
}

// lookup returns the inode bound to name. A missing name yields ENOENT, or
// ENOTDIR if an ancestor is not a directory.
func (t txn) lookup(name string) (uint64, record, error) {
	if b := t.names.Get([]byte(name)); b != nil {
		id := binary.BigEndian.Uint64(b)
		rec, err := t.record(id)
		return id, rec, err
	}
	if name == "/" {
		return 0, record{}, vfs.ENOENT
	}

	dir, _ := vfs.Split(name)
	_, parent, err := t.lookup(dir)
	if err != nil {
		return 0, record{}, err
	}
	if !parent.isDir() {
		return 0, record{}, vfs.ENOTDIR
	}
	return 0, record{}, vfs.ENOENT
}

// parent returns the directory that would hold name.
func (t txn) parent(name string) (uint64, record, error) {
	dir, base := vfs.Split(name)
	if base == "" {
		return 0, record{}, vfs.EEXIST
	}
	id, rec, err := t.lookup(dir)
	if err != nil {
		return 0, record{}, err
	}
	if !rec.isDir() {
		return 0, record{}, vfs.ENOTDIR
	}
	return id, rec, nil
}

func (t txn) stat(id uint64, rec record) vfs.Stat {
	st := vfs.Stat{Mode: rec.Mode, Nlink: rec.Nlink}
	if rec.Mode&vfs.ModeType == vfs.ModeRegular {
		st.Size = int64(len(t.data.Get(itob(id))))
	}
	return st
}

func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

// Stat implements vfs.FS.
func (fs *FS) Stat(name string) (vfs.Stat, error) {
	name = vfs.Resolve("/", name)

	var st vfs.Stat
	err := fs.db.View(func(tx *bolt.Tx) error {
		t := buckets(tx)
		id, rec, err := t.lookup(name)
		if err != nil {
			return err
		}
		st = t.stat(id, rec)
		return nil
	})
	return st, pathError("stat", name, err)
}

// List implements vfs.FS.
func (fs *FS) List(name string) ([]string, error) {
	name = vfs.Resolve("/", name)

	names := []string{}
	err := fs.db.View(func(tx *bolt.Tx) error {
		t := buckets(tx)
		_, rec, err := t.lookup(name)
		if err != nil {
			return err
		}
		if !rec.isDir() {
			return vfs.ENOTDIR
		}

		prefix := []byte(name)
		if name != "/" {
			prefix = append(prefix, '/')
		}
		c := t.names.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if rest := k[len(prefix):]; len(rest) > 0 && bytes.IndexByte(rest, '/') < 0 {
				names = append(names, string(rest))
			}
		}
		return nil
	})
	if err != nil {
		return nil, pathError("list", name, err)
	}
	return names, nil
}

// Open implements vfs.FS.
func (fs *FS) Open(name string, flag int, perm uint32) (vfs.Handle, error) {
	name = vfs.Resolve("/", name)

	h := &handle{fs: fs, name: name, flag: flag}
	err := fs.db.Update(func(tx *bolt.Tx) error {
		t := buckets(tx)
		id, rec, err := t.lookup(name)
		switch {
		case err == vfs.ENOENT && flag&vfs.O_CREAT != 0:
			if _, _, err := t.parent(name); err != nil {
				return err
			}
			h.id, err = t.create(name, record{Mode: vfs.ModeRegular | perm&vfs.ModePerm, Nlink: 1})
			return err
		case err != nil:
			return err
		case flag&(vfs.O_CREAT|vfs.O_EXCL) == vfs.O_CREAT|vfs.O_EXCL:
			return vfs.EEXIST
		case rec.isDir() && h.writable():
			return vfs.EISDIR
		case flag&vfs.O_TRUNC != 0 && h.writable():
			if err := t.data.Delete(itob(id)); err != nil {
				return err
			}
		}
		h.id, h.dir = id, rec.isDir()
		return nil
	})
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return h, nil
}

// Link implements vfs.FS.
func (fs *FS) Link(oldname, newname string) error {
	oldname = vfs.Resolve("/", oldname)
	newname = vfs.Resolve("/", newname)

	err := fs.db.Update(func(tx *bolt.Tx) error {
		t := buckets(tx)
		id, rec, err := t.lookup(oldname)
		if err != nil {
			return err
		}
		if rec.isDir() {
			return vfs.EPERM
		}
		if _, _, err := t.lookup(newname); err == nil {
			return vfs.EEXIST
		}
		if _, _, err := t.parent(newname); err != nil {
			return err
		}

		rec.Nlink++
		if err := t.putRecord(id, rec); err != nil {
			return err
		}
		return t.names.Put([]byte(newname), itob(id))
	})
	if err != nil {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: err}
	}
	return nil
}

// Mkdir creates a directory.
func (fs *FS) Mkdir(name string, perm uint32) error {
	name = vfs.Resolve("/", name)

	err := fs.db.Update(func(tx *bolt.Tx) error {
		t := buckets(tx)
		if _, _, err := t.lookup(name); err == nil {
			return vfs.EEXIST
		}
		pid, parent, err := t.parent(name)
		if err != nil {
			return err
		}

		parent.Nlink++
		if err := t.putRecord(pid, parent); err != nil {
			return err
		}
		_, err = t.create(name, record{Mode: vfs.ModeDir | perm&vfs.ModePerm, Nlink: 2})
		return err
	})
	return pathError("mkdir", name, err)
}

type handle struct {
	fs   *FS
	id   uint64
	name string
	flag int
	dir  bool

	mu     sync.Mutex
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
// h.mu must be held.
func (h *handle) check(op string, ok bool) error {
	switch {
	case h.closed || !ok:
		return pathError(op, h.name, vfs.EBADF)
	case h.dir:
		return pathError(op, h.name, vfs.EISDIR)
	}
	return nil
}

func (h *handle) readAt(p []byte, off int64) (n int, err error) {
	if err := h.check("read", h.readable()); err != nil {
		return 0, err
	}
	err = h.fs.db.View(func(tx *bolt.Tx) error {
		data := buckets(tx).data.Get(itob(h.id))
		if off >= int64(len(data)) {
			return io.EOF
		}
		n = copy(p, data[off:])
		if n < len(p) {
			return io.EOF
		}
		return nil
	})
	return n, err
}

func (h *handle) writeAt(p []byte, off int64) (n int, err error) {
	if err := h.check("write", h.writable()); err != nil {
		return 0, err
	}
	err = h.fs.db.Update(func(tx *bolt.Tx) error {
		t := buckets(tx)
		key := itob(h.id)
		old := t.data.Get(key)
		if off < 0 {
			off = int64(len(old))
		}

		size := int64(len(old))
		if end := off + int64(len(p)); end > size {
			size = end
		}
		data := make([]byte, size)
		copy(data, old)
		n = copy(data[off:], p)
		return t.data.Put(key, data)
	})
	return n, pathError("write", h.name, err)
}

func (h *handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

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
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readAt(p, off)
}

func (h *handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := h.off
	if h.flag&vfs.O_APPEND != 0 {
		off = -1
		st, err := h.stat()
		if err != nil {
			return 0, err
		}
		h.off = st.Size
	}
	n, err := h.writeAt(p, off)
	h.off += int64(n)
	return n, err
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, pathError("write", h.name, vfs.EINVAL)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeAt(p, off)
}

func (h *handle) stat() (st vfs.Stat, err error) {
	if h.closed {
		return st, pathError("stat", h.name, vfs.EBADF)
	}
	err = h.fs.db.View(func(tx *bolt.Tx) error {
		t := buckets(tx)
		rec, err := t.record(h.id)
		if err != nil {
			return err
		}
		st = t.stat(h.id, rec)
		return nil
	})
	return st, pathError("stat", h.name, err)
}

func (h *handle) Stat() (vfs.Stat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stat()
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return pathError("close", h.name, vfs.EBADF)
	}
	h.closed = true
	return nil
}
