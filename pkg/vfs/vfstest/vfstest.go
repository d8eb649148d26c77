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

// Package vfstest checks that a vfs.FS backend behaves the way the server
// expects: POSIX-like semantics and error numbers.
package vfstest

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	"github.com/kurafs/freemount/pkg/vfs"
)

// FS is a backend that can also create directories, which the protocol
// itself never does.
type FS interface {
	vfs.FS
	Mkdir(name string, perm uint32) error
}

// Run runs the conformance suite against the filesystems returned by
// newFS. Each subtest gets a fresh, empty filesystem.
func Run(t *testing.T, newFS func(t *testing.T) FS) {
	tests := []struct {
		name string
		fn   func(t *testing.T, fs FS)
	}{
		{"CreateAndStat", testCreateAndStat},
		{"ReadWrite", testReadWrite},
		{"Truncate", testTruncate},
		{"List", testList},
		{"Link", testLink},
		{"Errors", testErrors},
		{"AccessMode", testAccessMode},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fn(t, newFS(t))
		})
	}
}

// WriteFile creates or truncates name and writes data to it.
func WriteFile(t *testing.T, fs vfs.FS, name string, data []byte) {
	t.Helper()

	h, err := fs.Open(name, vfs.O_WRONLY|vfs.O_CREAT|vfs.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	if _, err := h.Write(data); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close %s: %v", name, err)
	}
}

// ReadFile returns the contents of name.
func ReadFile(t *testing.T, fs vfs.FS, name string) []byte {
	t.Helper()

	h, err := fs.Open(name, vfs.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer h.Close()

	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

func expectErrno(t *testing.T, op string, err error, want vfs.Errno) {
	t.Helper()
	if got := vfs.ErrnoOf(err); got != want {
		t.Errorf("%s: got error %v (%s), want %s", op, err, got.ErrnoName(), want.ErrnoName())
	}
}

func testCreateAndStat(t *testing.T, fs FS) {
	WriteFile(t, fs, "/hello", []byte("hello"))

	st, err := fs.Stat("/hello")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsRegular() || st.Size != 5 || st.Nlink != 1 {
		t.Errorf("stat /hello = %+v, want regular file of 5 bytes with one link", st)
	}
	if perm := st.Mode & vfs.ModePerm; perm&0600 != 0600 {
		t.Errorf("stat /hello: mode %o lacks owner read/write", st.Mode)
	}

	st, err = fs.Stat("/")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsDir() {
		t.Errorf("stat / = %+v, want a directory", st)
	}
}

func testReadWrite(t *testing.T, fs FS) {
	WriteFile(t, fs, "/f", []byte("hello world"))

	h, err := fs.Open("/f", vfs.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	buf := make([]byte, 5)
	if n, err := h.ReadAt(buf, 6); n != 5 || string(buf) != "world" {
		t.Errorf("ReadAt(6) = %d %q %v", n, buf[:n], err)
	}

	// ReadAt leaves the offset alone.
	if n, err := h.Read(buf); n != 5 || string(buf) != "hello" || err != nil {
		t.Errorf("Read() = %d %q %v", n, buf[:n], err)
	}

	if n, err := h.ReadAt(buf, 11); n != 0 || err != io.EOF {
		t.Errorf("ReadAt(end) = %d, %v; want 0, EOF", n, err)
	}

	if _, err := h.WriteAt([]byte("!!"), 13); err != nil {
		t.Fatal(err)
	}
	st, err := h.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 15 {
		t.Errorf("size after WriteAt past end = %d, want 15", st.Size)
	}

	want := []byte("hello world\x00\x00!!")
	if got := ReadFile(t, fs, "/f"); !bytes.Equal(got, want) {
		t.Errorf("contents = %q, want %q", got, want)
	}
}

func testTruncate(t *testing.T, fs FS) {
	WriteFile(t, fs, "/f", []byte("a long first version"))
	WriteFile(t, fs, "/f", []byte("short"))

	if got := ReadFile(t, fs, "/f"); string(got) != "short" {
		t.Errorf("contents after truncating write = %q, want %q", got, "short")
	}
}

func testList(t *testing.T, fs FS) {
	if err := fs.Mkdir("/d", 0755); err != nil {
		t.Fatal(err)
	}
	WriteFile(t, fs, "/d/b", nil)
	WriteFile(t, fs, "/d/a", nil)
	if err := fs.Mkdir("/d/c", 0755); err != nil {
		t.Fatal(err)
	}
	WriteFile(t, fs, "/d/c/nested", nil)
	WriteFile(t, fs, "/top", nil)

	names, err := fs.List("/d")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(names, want) {
		t.Errorf("list /d = %q, want %q", names, want)
	}

	names, err = fs.List("/")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"d", "top"}; !reflect.DeepEqual(names, want) {
		t.Errorf("list / = %q, want %q", names, want)
	}

	if err := fs.Mkdir("/empty", 0755); err != nil {
		t.Fatal(err)
	}
	names, err = fs.List("/empty")
	if err != nil || len(names) != 0 {
		t.Errorf("list /empty = %q, %v", names, err)
	}
}

func testLink(t *testing.T, fs FS) {
	WriteFile(t, fs, "/src", []byte("shared"))
	if err := fs.Mkdir("/d", 0755); err != nil {
		t.Fatal(err)
	}

	if err := fs.Link("/src", "/d/dst"); err != nil {
		t.Fatal(err)
	}
	st, err := fs.Stat("/src")
	if err != nil {
		t.Fatal(err)
	}
	if st.Nlink != 2 {
		t.Errorf("nlink after link = %d, want 2", st.Nlink)
	}

	h, err := fs.Open("/d/dst", vfs.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	h.WriteAt([]byte("SH"), 0)
	h.Close()
	if got := ReadFile(t, fs, "/src"); string(got) != "SHared" {
		t.Errorf("write through link not visible: %q", got)
	}

	expectErrno(t, "link onto existing", fs.Link("/src", "/d/dst"), vfs.EEXIST)
	expectErrno(t, "link missing source", fs.Link("/missing", "/x"), vfs.ENOENT)
	expectErrno(t, "link into missing dir", fs.Link("/src", "/nodir/x"), vfs.ENOENT)
	expectErrno(t, "link directory", fs.Link("/d", "/d2"), vfs.EPERM)
}

func testErrors(t *testing.T, fs FS) {
	WriteFile(t, fs, "/file", []byte("x"))
	if err := fs.Mkdir("/dir", 0755); err != nil {
		t.Fatal(err)
	}

	_, err := fs.Stat("/missing")
	expectErrno(t, "stat missing", err, vfs.ENOENT)

	_, err = fs.Stat("/file/sub")
	expectErrno(t, "stat below file", err, vfs.ENOTDIR)

	_, err = fs.List("/file")
	expectErrno(t, "list file", err, vfs.ENOTDIR)

	_, err = fs.List("/missing")
	expectErrno(t, "list missing", err, vfs.ENOENT)

	_, err = fs.Open("/missing", vfs.O_RDONLY, 0)
	expectErrno(t, "open missing", err, vfs.ENOENT)

	_, err = fs.Open("/nodir/file", vfs.O_WRONLY|vfs.O_CREAT, 0644)
	expectErrno(t, "create in missing dir", err, vfs.ENOENT)

	_, err = fs.Open("/dir", vfs.O_WRONLY, 0)
	expectErrno(t, "open dir for writing", err, vfs.EISDIR)

	_, err = fs.Open("/file", vfs.O_WRONLY|vfs.O_CREAT|vfs.O_EXCL, 0644)
	expectErrno(t, "exclusive create of existing", err, vfs.EEXIST)

	expectErrno(t, "mkdir existing", fs.Mkdir("/dir", 0755), vfs.EEXIST)
}

func testAccessMode(t *testing.T, fs FS) {
	WriteFile(t, fs, "/f", []byte("data"))

	r, err := fs.Open("/f", vfs.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = r.Write([]byte("x"))
	expectErrno(t, "write to read-only handle", err, vfs.EBADF)

	w, err := fs.Open("/f", vfs.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	_, err = w.Read(make([]byte, 4))
	expectErrno(t, "read from write-only handle", err, vfs.EBADF)
}
