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

// Package logflags registers the logger configuration switches shared by
// every freemount command (-log-dir, -suppress-stderr, -log-mode, -log-filter
// and -log-backtrace-at) and builds the corresponding *log.Logger.
package logflags

import (
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/kurafs/freemount/pkg/log"
)

// Flags holds the parsed logger switches of a command.
type Flags struct {
	LogDir         string
	SuppressStderr bool

	mode        logMode
	filter      logFilter
	backtraces  backtracePoints
	stderr      io.Writer
	rotateLimit int
}

// Register defines the logger switches on the given flag set.
func (f *Flags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.LogDir, "log-dir", "",
		"Write log files to the specified directory")
	fs.BoolVar(&f.SuppressStderr, "suppress-stderr", false,
		"Suppress standard error logging")
	fs.Var(&f.mode, "log-mode",
		"Log mode for logs emitted globally (can be overridden using -log-filter)")
	fs.Var(&f.filter, "log-filter",
		"Comma-separated list of pattern:level settings for file-filtered logging")
	fs.Var(&f.backtraces, "log-backtrace-at",
		"Comma-separated list of filename:N settings to emit backtraces")
}

// SetMode overrides the global log mode as if -log-mode had been given,
// unless it was given explicitly.
func (f *Flags) SetMode(m log.Mode) {
	if !f.mode.set {
		f.mode = logMode{m: m, set: true}
	}
}

// Logger applies the global log state (mode, file filters, tracepoints) and
// returns a logger writing to the configured destinations.
func (f *Flags) Logger() *log.Logger {
	if f.mode.set {
		log.SetGlobalLogMode(f.mode.m)
	}
	for _, flm := range f.filter {
		log.SetFileLogMode(flm.fname, flm.fmode)
	}
	for _, tp := range f.backtraces {
		log.SetTracePoint(tp)
	}

	writer := io.Discard
	if f.LogDir != "" {
		limit := f.rotateLimit
		if limit == 0 {
			limit = 50 << 20 // 50 MiB
		}
		writer = log.LogRotationWriter(f.LogDir, limit)
	}
	if !f.SuppressStderr {
		stderr := f.stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writer = log.MultiWriter(writer, stderr)
	}
	writer = log.SynchronizedWriter(writer)
	logf := log.Ldate | log.Ltime | log.Lmicroseconds | log.Llongfile | log.LUTC | log.Lmode
	return log.New(log.Writer(writer), log.Flags(logf), log.SkipBasePath())
}

type logMode struct {
	m   log.Mode
	set bool
}

func (l *logMode) String() string {
	return l.m.String()
}

func (l *logMode) Set(value string) error {
	m, err := log.ParseMode(value)
	if err != nil {
		return err
	}
	l.m, l.set = m, true
	return nil
}

type fileLogMode struct {
	fname string
	fmode log.Mode
}

type logFilter []fileLogMode

var (
	fileNameRegex   = regexp.MustCompile(`^[\w\-]+\.go$`)
	lineNumberRegex = regexp.MustCompile(`^\d+$`)
)

func (l *logFilter) String() string {
	parts := make([]string, 0, len(*l))
	for _, flm := range *l {
		parts = append(parts, fmt.Sprintf("%s:%s", flm.fname, flm.fmode))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (l *logFilter) Set(value string) error {
	for _, f := range strings.Split(value, ",") {
		f := strings.Split(f, ":")
		if len(f) != 2 {
			return fmt.Errorf("improperly formatted filter: %s, expected fname.go:mode", f)
		}

		fname, mode := f[0], f[1]
		if !fileNameRegex.MatchString(fname) {
			return fmt.Errorf("expected filename '%s' to match the regex '%s'", fname, fileNameRegex)
		}
		fmode, err := log.ParseMode(mode)
		if err != nil {
			return err
		}
		*l = append(*l, fileLogMode{fname: fname, fmode: fmode})
	}
	return nil
}

type backtracePoints []string

func (l *backtracePoints) String() string {
	return fmt.Sprint(*l)
}

func (l *backtracePoints) Set(value string) error {
	for _, f := range strings.Split(value, ",") {
		f := strings.Split(f, ":")
		if len(f) != 2 {
			return fmt.Errorf("improperly formatted backtrace point: %s, expected fname.go:line", f)
		}

		fname, lnumber := f[0], f[1]
		if !fileNameRegex.MatchString(fname) {
			return fmt.Errorf("expected filename '%s' to match the regex '%s'", fname, fileNameRegex)
		}
		if !lineNumberRegex.MatchString(lnumber) {
			return fmt.Errorf("expected line number '%s' to match the regex '%s'", lnumber, lineNumberRegex)
		}
		*l = append(*l, fmt.Sprintf("%s:%s", fname, lnumber))
	}
	return nil
}
