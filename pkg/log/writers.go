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

// Portions of this code originated in the github.com/golang/glog package.

package log

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"
)

// Identity of the running process, recorded in log file names and
// preambles.
var (
	program  = filepath.Base(os.Args[0])
	hostname = "?"
	username = "?"
	pid      = os.Getpid()
)

func init() {
	if h, err := os.Hostname(); err == nil {
		hostname = h
	}
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
}

// DefaultWriter returns os.Stderr, synchronized.
func DefaultWriter() io.Writer {
	return SynchronizedWriter(os.Stderr)
}

// LogRotationWriter returns a writer appending to files in dirname, starting
// a new file once the current one would grow past sizeThreshold bytes. The
// symlink <program>.log in dirname points at the newest file. A single write
// larger than the threshold still goes to one file.
//
// The writer is not safe for concurrent use, wrap it with
// SynchronizedWriter.
func LogRotationWriter(dirname string, sizeThreshold int) io.Writer {
	os.MkdirAll(dirname, os.ModePerm)
	return &rotationWriter{
		dir:       dirname,
		symlink:   program + ".log",
		threshold: sizeThreshold,
	}
}

// SynchronizedWriter serializes the writes to w.
func SynchronizedWriter(w io.Writer) io.Writer {
	return &synchronizedWriter{w: w}
}

// MultiWriter copies every write to each of the writers. Unlike
// io.MultiWriter it carries on past a failing writer; it reports the
// shortest count written and the last error seen.
func MultiWriter(w io.Writer, ws ...io.Writer) io.Writer {
	return multiWriter(append([]io.Writer{w}, ws...))
}

// logFileName names a log file created at t:
// <program>.<host>.<user>.<yyyy-mm-dd.hh:mm:ss.ms>.<pid>.log, for example
// freemount.build-1.ci.2018-04-10.22:43:54.717.7989.log. A nonzero seq tells
// apart files created within the same millisecond.
func logFileName(t time.Time, seq int) string {
	name := fmt.Sprintf("%s.%s.%s.%s.%d",
		program, hostname, username, t.Format("2006-01-02.15:04:05.000"), pid)
	if seq > 0 {
		name += fmt.Sprintf(".%d", seq)
	}
	return name + ".log"
}

type rotationWriter struct {
	dir, symlink string
	threshold    int

	file *os.File
	size int
}

func (r *rotationWriter) Write(b []byte) (int, error) {
	if r.file == nil || r.size+len(b) > r.threshold {
		if err := r.rotate(time.Now()); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(b)
	r.size += n
	return n, err
}

// rotate starts a new log file beginning with a preamble identifying the
// process, and points the symlink at it.
func (r *rotationWriter) rotate(t time.Time) error {
	var (
		name string
		f    *os.File
		err  error
	)
	for seq := 0; ; seq++ {
		name = logFileName(t, seq)
		f, err = os.OpenFile(filepath.Join(r.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return err
	}
	if r.file != nil {
		r.file.Close()
	}
	r.file, r.size = f, 0

	// The symlink is best effort.
	link := filepath.Join(r.dir, r.symlink)
	os.Remove(link)
	os.Symlink(name, link)

	n, err := fmt.Fprintf(f, "Log file created at: %s\nRunning on machine: %s\nBinary: %s (pid %d)\n",
		t.Format("2006/01/02 15:04:05"), hostname, program, pid)
	r.size += n
	return err
}

type synchronizedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *synchronizedWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}

type multiWriter []io.Writer

func (m multiWriter) Write(b []byte) (n int, err error) {
	n = len(b)
	for _, w := range m {
		written, werr := w.Write(b)
		n = min(n, written)
		if werr != nil {
			err = werr
		}
	}
	return n, err
}
