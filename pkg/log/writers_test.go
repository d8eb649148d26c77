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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogRotationWriter(t *testing.T) {
	dir := t.TempDir()
	w := LogRotationWriter(dir, 200)

	line := strings.Repeat("x", 59) + "\n"
	for i := 0; i < 10; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, program+".*.*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 {
		t.Fatalf("got %d log files, want the writes spread over several", len(files))
	}

	var lines int
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(b, []byte("Log file created at: ")) {
			t.Errorf("%s lacks the preamble: %q", f, b)
		}
		lines += bytes.Count(b, []byte(line))
	}
	if lines != 10 {
		t.Errorf("found %d of 10 lines across the log files", lines)
	}

	target, err := os.Readlink(filepath.Join(dir, program+".log"))
	if err != nil {
		t.Fatal(err)
	}
	latest, err := os.ReadFile(filepath.Join(dir, target))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(latest, []byte(line)) {
		t.Errorf("symlink points at %s, which doesn't end with the last write", target)
	}
}

func TestLogFileName(t *testing.T) {
	at := time.Date(2018, 4, 10, 22, 43, 54, 717e6, time.UTC)
	if got := logFileName(at, 0); !strings.HasSuffix(got, ".2018-04-10.22:43:54.717."+itoaPid()+".log") {
		t.Errorf("logFileName(t, 0) = %q", got)
	}
	if got := logFileName(at, 2); !strings.HasSuffix(got, "."+itoaPid()+".2.log") {
		t.Errorf("logFileName(t, 2) = %q", got)
	}
}

func itoaPid() string {
	return string(appendInt(nil, pid, 0))
}

type failingWriter struct{}

func (failingWriter) Write(b []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := MultiWriter(&a, failingWriter{}, &b)

	n, err := w.Write([]byte("entry\n"))
	if n != 0 || err == nil {
		t.Errorf("Write = %d, %v, want 0 and the failure", n, err)
	}
	if a.String() != "entry\n" || b.String() != "entry\n" {
		t.Errorf("writers got %q and %q, want the entry in both", a.String(), b.String())
	}
}
