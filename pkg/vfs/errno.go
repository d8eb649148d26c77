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

package vfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// An ErrorNumber is an error with a specific error number.
//
// Filesystem backends may return an error value that implements ErrorNumber
// to control what error number is reported to the peer.
type ErrorNumber interface {
	// Errno returns the error number (errno) for this error.
	Errno() Errno
}

const (
	EPERM     = Errno(syscall.EPERM)
	ENOENT    = Errno(syscall.ENOENT)
	ESRCH     = Errno(syscall.ESRCH)
	EIO       = Errno(syscall.EIO)
	EBADF     = Errno(syscall.EBADF)
	EEXIST    = Errno(syscall.EEXIST)
	EXDEV     = Errno(syscall.EXDEV)
	ENOTDIR   = Errno(syscall.ENOTDIR)
	EISDIR    = Errno(syscall.EISDIR)
	EINVAL    = Errno(syscall.EINVAL)
	EFBIG     = Errno(syscall.EFBIG)
	ENOSPC    = Errno(syscall.ENOSPC)
	ENOSYS    = Errno(syscall.ENOSYS)
	ENOTEMPTY = Errno(syscall.ENOTEMPTY)
	EPROTO    = Errno(syscall.EPROTO)

	// ECANCELED acknowledges a cancelled request.
	ECANCELED = Errno(syscall.ECANCELED)
)

// DefaultErrno is the errno used when an error does not implement
// ErrorNumber and can't be mapped otherwise.
const DefaultErrno = EIO

var errnoNames = map[Errno]string{
	EPERM:     "EPERM",
	ENOENT:    "ENOENT",
	ESRCH:     "ESRCH",
	EIO:       "EIO",
	EBADF:     "EBADF",
	EEXIST:    "EEXIST",
	EXDEV:     "EXDEV",
	ENOTDIR:   "ENOTDIR",
	EISDIR:    "EISDIR",
	EINVAL:    "EINVAL",
	EFBIG:     "EFBIG",
	ENOSPC:    "ENOSPC",
	ENOSYS:    "ENOSYS",
	ENOTEMPTY: "ENOTEMPTY",
	EPROTO:    "EPROTO",
	ECANCELED: "ECANCELED",
}

// Errno implements Error and ErrorNumber using a syscall.Errno.
type Errno syscall.Errno

var _ = ErrorNumber(Errno(0))
var _ = error(Errno(0))

func (e Errno) Errno() Errno {
	return e
}

func (e Errno) String() string {
	return syscall.Errno(e).Error()
}

func (e Errno) Error() string {
	return syscall.Errno(e).Error()
}

// Is lets errors.Is match an Errno against the equivalent syscall.Errno and
// the os package's portable error values.
func (e Errno) Is(target error) bool {
	if sys, ok := target.(syscall.Errno); ok {
		return sys == syscall.Errno(e)
	}
	return syscall.Errno(e).Is(target)
}

// ErrnoName returns the short non-numeric identifier for this errno.
// For example, "EIO".
func (e Errno) ErrnoName() string {
	s := errnoNames[e]
	if s == "" {
		s = fmt.Sprint(uint32(e))
	}
	return s
}

func (e Errno) MarshalText() ([]byte, error) {
	return []byte(e.ErrnoName()), nil
}

// ErrnoOf maps err to the error number reported to the peer. A nil error maps
// to zero.
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}

	var num ErrorNumber
	if errors.As(err, &num) {
		return num.Errno()
	}
	var sys syscall.Errno
	if errors.As(err, &sys) {
		return Errno(sys)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ECANCELED
	case errors.Is(err, os.ErrNotExist):
		return ENOENT
	case errors.Is(err, os.ErrExist):
		return EEXIST
	case errors.Is(err, os.ErrPermission):
		return EPERM
	case errors.Is(err, os.ErrClosed):
		return EBADF
	}
	return DefaultErrno
}
