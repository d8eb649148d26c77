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

package log

import (
	"io"
	"path/filepath"
	"runtime"
)

// Flag is the set of bits determining the format of the emitted log headers.
type Flag int

// These flags define which text to prefix to each log entry generated by the
// Logger. Bits are or'ed together to control what's printed.
const (
	Ldate         Flag = 1 << iota // The date in the local time zone: 181019.
	Ltime                          // The time in the local time zone: 01:23:23.
	Lmicroseconds                  // Microsecond resolution: 01:23:23.123123. Assumes Ltime.
	Llongfile                      // Full file name and line number: /a/b/c/d.go:23.
	Lshortfile                     // Final file name element and line number: d.go:23. Overrides Llongfile.
	LUTC                           // If Ldate or Ltime is set, use UTC rather than the local time zone.
	Lmode                          // The log mode of the statement: I, W, E, F or D.

	LstdFlags = Lmode | Ldate | Ltime | Lmicroseconds | Lshortfile
)

type option func(l *Logger)

// Writer configures the io.Writer logs are written out to. The writer is
// used as is, wrap it with SynchronizedWriter if the logger is to be shared
// across goroutines.
func Writer(w io.Writer) option {
	return func(l *Logger) {
		l.w = w
	}
}

// Flags configures the header format of emitted logs.
func Flags(f Flag) option {
	return func(l *Logger) {
		l.flag = f
	}
}

// Prefix configures a fixed string emitted after the header and before the
// message of every log statement, for e.g. "session 3: ".
func Prefix(p string) option {
	return func(l *Logger) {
		l.prefix = p
	}
}

// SkipBasePath configures the logger to strip the repository root from file
// names when Llongfile is set, so that headers read pkg/server/session.go:42
// instead of the fully specified path on the build machine.
func SkipBasePath() option {
	return func(l *Logger) {
		// This file lives at <root>/pkg/log/options.go.
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			return
		}
		l.basePath = filepath.Dir(filepath.Dir(filepath.Dir(file)))
	}
}
