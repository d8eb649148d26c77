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

// Portions of this code originated in the standard library 'log' package.

package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Logger writes leveled log statements to an io.Writer, each preceded by a
// header formatted as its flags say. Loggers derived with WithPrefix share
// the writer of their parent.
type Logger struct {
	w        io.Writer
	flag     Flag
	basePath string // Stripped from Llongfile names, optional.
	prefix   string // Emitted between the header and the message, optional.
}

// New returns a Logger writing to a synchronized os.Stderr with LstdFlags,
// which produces headers such as:
//
//	I181019 06:33:04.606396 session.go:42] message
func New(options ...option) *Logger {
	l := &Logger{
		w:    DefaultWriter(),
		flag: LstdFlags,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Discarder returns a Logger that drops everything.
func Discarder() *Logger {
	return New(Writer(io.Discard))
}

// WithPrefix returns a copy of the logger with prefix appended to its own.
// Sessions use it to tag every statement with the connection it concerns.
func (l *Logger) WithPrefix(prefix string) *Logger {
	c := *l
	c.prefix = l.prefix + prefix
	return &c
}

// Info logs at InfoMode, formatting v as fmt.Println does.
func (l *Logger) Info(v ...any) {
	l.output(InfoMode, fmt.Sprintln(v...))
}

// Infof logs at InfoMode, formatting v as fmt.Printf does.
func (l *Logger) Infof(format string, v ...any) {
	l.output(InfoMode, fmt.Sprintf(format+"\n", v...))
}

// Warn logs at WarnMode, formatting v as fmt.Println does.
func (l *Logger) Warn(v ...any) {
	l.output(WarnMode, fmt.Sprintln(v...))
}

// Warnf logs at WarnMode, formatting v as fmt.Printf does.
func (l *Logger) Warnf(format string, v ...any) {
	l.output(WarnMode, fmt.Sprintf(format+"\n", v...))
}

// Error logs at ErrorMode, formatting v as fmt.Println does.
func (l *Logger) Error(v ...any) {
	l.output(ErrorMode, fmt.Sprintln(v...))
}

// Errorf logs at ErrorMode, formatting v as fmt.Printf does.
func (l *Logger) Errorf(format string, v ...any) {
	l.output(ErrorMode, fmt.Sprintf(format+"\n", v...))
}

// Fatal logs at FatalMode, which no filter suppresses, and exits with status
// 255.
func (l *Logger) Fatal(v ...any) {
	l.output(FatalMode, fmt.Sprintln(v...))
	os.Exit(255)
}

// Fatalf is Fatal with formatting as fmt.Printf does.
func (l *Logger) Fatalf(format string, v ...any) {
	l.output(FatalMode, fmt.Sprintf(format+"\n", v...))
	os.Exit(255)
}

// Debug logs at DebugMode, formatting v as fmt.Println does. Per-frame
// protocol tracing goes here.
func (l *Logger) Debug(v ...any) {
	l.output(DebugMode, fmt.Sprintln(v...))
}

// Debugf logs at DebugMode, formatting v as fmt.Printf does.
func (l *Logger) Debugf(format string, v ...any) {
	l.output(DebugMode, fmt.Sprintf(format+"\n", v...))
}

// enabled reports whether a statement at mode m in file (a base name) is
// emitted. A file log mode replaces the global mode for that file.
func enabled(m Mode, file string) bool {
	if m&FatalMode != DisabledMode {
		return true
	}
	if fmode, ok := GetFileLogMode(file); ok {
		return fmode&m != DisabledMode
	}
	return GetGlobalLogMode()&m != DisabledMode
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// output must be called directly from one of the exported logging methods:
// the statement's call site is two frames up.
func (l *Logger) output(m Mode, msg string) {
	file, line := caller(2)
	base := filepath.Base(file)

	// Tracepoints and file modes are keyed by base name, so session.go in
	// two packages share their settings.
	if GetTracePoint(fmt.Sprintf("%s:%d", base, line)) {
		l.w.Write(stacktrace(2))
	}
	if !enabled(m, base) {
		return
	}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Write(l.appendHeader(buf.AvailableBuffer(), m, time.Now(), file, line))
	buf.WriteString(l.prefix)
	buf.WriteString(msg)
	l.w.Write(buf.Bytes())
	bufPool.Put(buf)
}

// appendHeader appends the header of a statement at mode m made at t from
// file:line to b, as l.flag says.
func (l *Logger) appendHeader(b []byte, m Mode, t time.Time, file string, line int) []byte {
	if l.flag&Lmode != 0 {
		b = append(b, m.byte())
	}
	if l.flag&LUTC != 0 {
		t = t.UTC()
	}

	date := l.flag&Ldate != 0
	clock := l.flag&(Ltime|Lmicroseconds) != 0
	if date {
		year, month, day := t.Date()
		b = appendInt(b, max(year-2000, 0), 2)
		b = appendInt(b, int(month), 2)
		b = appendInt(b, day, 2)
	}
	if date && clock {
		b = append(b, ' ')
	}
	if clock {
		hour, minute, sec := t.Clock()
		b = appendInt(b, hour, 2)
		b = append(b, ':')
		b = appendInt(b, minute, 2)
		b = append(b, ':')
		b = appendInt(b, sec, 2)
		if l.flag&Lmicroseconds != 0 {
			b = append(b, '.')
			b = appendInt(b, t.Nanosecond()/1e3, 6)
		}
	}
	b = append(b, ' ')

	if l.flag&(Lshortfile|Llongfile) == 0 {
		return b
	}
	switch {
	case l.flag&Lshortfile != 0:
		file = file[strings.LastIndexByte(file, '/')+1:]
	case l.basePath != "":
		// Files outside the base path, such as the standard library's, keep
		// their full name.
		file = strings.TrimPrefix(file, l.basePath+"/")
	}
	b = append(b, file...)
	b = append(b, ':')
	b = appendInt(b, line, 0)
	return append(b, "] "...)
}

// appendInt appends i in decimal, zero-padded to width digits.
func appendInt(b []byte, i, width int) []byte {
	var digits [20]byte
	n := len(digits)
	for i >= 10 || width > 1 {
		n--
		digits[n] = byte('0' + i%10)
		i /= 10
		width--
	}
	n--
	digits[n] = byte('0' + i)
	return append(b, digits[n:]...)
}

// stacktrace returns the stack of the calling goroutine, keeping its
// "goroutine N [running]:" line but dropping the innermost skip frames above
// its caller. With skip 0 the trace starts at the caller of stacktrace.
func stacktrace(skip int) []byte {
	lines := bytes.Split(debug.Stack(), []byte("\n"))

	// Each frame is two lines, function and location. Besides the skipped
	// frames, debug.Stack and stacktrace itself are dropped.
	drop := 2 * (skip + 2)
	if drop > len(lines)-1 {
		drop = len(lines) - 1
	}
	kept := append(lines[:1:1], lines[1+drop:]...)
	return bytes.Join(kept, []byte("\n"))
}

// caller returns the call site depth frames above the function calling it:
// with depth 0 that is the line calling caller, with 1 the line calling
// that function.
func caller(depth int) (file string, line int) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "[???]", -1
	}
	return file, line
}
