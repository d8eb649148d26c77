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

// Package vfs defines the filesystem a Freemount server exposes. The server
// only ever talks to an FS through this interface; backends live in the
// subpackages osfs (a native directory tree), memfs (an in-memory tree) and
// boltfs (a single bolt database file).
//
// All paths handed to an FS are absolute, slash separated and already
// cleaned by Resolve, so backends never see "..", "." or empty elements.
// Errors should carry an error number, either by being a syscall.Errno or by
// implementing ErrorNumber; anything else is reported as DefaultErrno.
package vfs

import (
	"io"
	"os"
	"path"
	"strings"
)

// File mode type bits, with their traditional Unix values. Stat.Mode carries
// them unchanged on the wire.
const (
	ModeType    = 0170000
	ModeDir     = 0040000
	ModeRegular = 0100000
	ModePerm    = 0777
)

// Open flags, the os package's.
const (
	O_RDONLY = os.O_RDONLY
	O_WRONLY = os.O_WRONLY
	O_RDWR   = os.O_RDWR
	O_CREAT  = os.O_CREATE
	O_EXCL   = os.O_EXCL
	O_TRUNC  = os.O_TRUNC
	O_APPEND = os.O_APPEND

	O_ACCMODE = O_RDONLY | O_WRONLY | O_RDWR
)

// Stat describes a file.
type Stat struct {
	Mode  uint32
	Nlink uint64
	Size  int64
}

// IsDir reports whether the file is a directory.
func (s Stat) IsDir() bool {
	return s.Mode&ModeType == ModeDir
}

// IsRegular reports whether the file is a regular file.
func (s Stat) IsRegular() bool {
	return s.Mode&ModeType == ModeRegular
}

var fileModeTypes = map[uint32]os.FileMode{
	ModeDir:     os.ModeDir,
	ModeRegular: 0,
	0120000:     os.ModeSymlink,
	0020000:     os.ModeDevice | os.ModeCharDevice,
	0060000:     os.ModeDevice,
	0010000:     os.ModeNamedPipe,
	0140000:     os.ModeSocket,
}

// FileMode returns the mode as an os.FileMode, whose String method renders
// it the way ls does.
func (s Stat) FileMode() os.FileMode {
	m := os.FileMode(s.Mode & ModePerm)
	if t, ok := fileModeTypes[s.Mode&ModeType]; ok {
		m |= t
	} else {
		m |= os.ModeIrregular
	}
	if s.Mode&01000 != 0 {
		m |= os.ModeSticky
	}
	return m
}

// FS is a hierarchical filesystem.
type FS interface {
	// Stat returns the file's status, following symbolic links.
	Stat(name string) (Stat, error)

	// List returns the names of the entries of a directory in lexical
	// order, without "." and "..".
	List(name string) ([]string, error)

	// Open opens a file with the given flags, creating it with mode perm
	// if O_CREAT is set and it doesn't exist.
	Open(name string, flag int, perm uint32) (Handle, error)

	// Link creates newname as a hard link to oldname.
	Link(oldname, newname string) error
}

// Handle is an open file. Read and Write use and advance the handle's
// offset; ReadAt and WriteAt don't touch it.
type Handle interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.WriterAt
	io.Closer

	Stat() (Stat, error)
}

// Resolve returns the absolute path p names relative to the directory cwd.
// The result is cleaned and never escapes the root: "/.." is "/".
func Resolve(cwd, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join("/", cwd, p)
	}
	return path.Clean("/" + p)
}

// Split returns the parent directory and the final element of the resolved
// path name. The root splits into "/" and "".
func Split(name string) (dir, base string) {
	if name == "/" {
		return "/", ""
	}
	dir, base = path.Split(name)
	return path.Clean(dir), base
}
