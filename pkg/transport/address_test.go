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

package transport

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		addr string
		want Address
	}{
		{"foo", Address{Scheme: Exec, Program: DefaultServer, Root: ".", Path: "foo"}},
		{"/tmp/a:b", Address{Scheme: Exec, Program: DefaultServer, Root: ".", Path: "/tmp/a:b"}},
		{"dir/file", Address{Scheme: Exec, Program: DefaultServer, Root: ".", Path: "dir/file"}},
		{":", Address{Scheme: Stdio}},
		{"exec:///usr/bin/freemountd", Address{Scheme: Exec, Program: "/usr/bin/freemountd", Root: "."}},
		{"mnt://example.com", Address{Scheme: TCP, Host: "example.com:4564"}},
		{"mnt://example.com:99/a/b", Address{Scheme: TCP, Host: "example.com:99", Path: "a/b"}},
		{"mnt://[::1]/x", Address{Scheme: TCP, Host: "[::1]:4564", Path: "x"}},
		{"quic://127.0.0.1:7000/", Address{Scheme: QUIC, Host: "127.0.0.1:7000"}},
		{"unix:///run/fm.sock", Address{Scheme: Unix, Host: "/run/fm.sock"}},
		{"unix:///run/fm.sock^/srv", Address{Scheme: Unix, Host: "/run/fm.sock", Path: "/srv"}},
		{"ssh://alice@host/p", Address{Scheme: SSH, User: "alice", Host: "host:22", Program: DefaultServer, Root: ".", Path: "p"}},
		{"ssh://host:2222", Address{Scheme: SSH, Host: "host:2222", Program: DefaultServer, Root: "."}},
		{"host:notes.txt", Address{Scheme: SSH, Host: "host:22", Program: DefaultServer, Root: ".", Path: "notes.txt"}},
		{"bob@host:bin/fmd!/srv//etc/motd", Address{Scheme: SSH, User: "bob", Host: "host:22", Program: "bin/fmd", Root: "/srv", Path: "/etc/motd"}},
		{"host:", Address{Scheme: SSH, Host: "host:22", Program: DefaultServer, Root: "."}},
	}
	for _, test := range tests {
		got, err := ParseAddress(test.addr)
		if err != nil {
			t.Errorf("ParseAddress(%q): %v", test.addr, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseAddress(%q) = %+v, want %+v", test.addr, got, test.want)
		}
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, addr := range []string{
		"",
		":x",
		"ftp://host",
		"mnt://",
		"mnt:///path",
		"unix://",
		"exec://",
	} {
		if _, err := ParseAddress(addr); !errors.Is(err, ErrBadAddress) {
			t.Errorf("ParseAddress(%q) = %v, want ErrBadAddress", addr, err)
		}
	}
}

func TestAddressString(t *testing.T) {
	for _, addr := range []string{
		":",
		"foo",
		"exec://prog",
		"mnt://example.com:4564/a",
		"quic://host:1",
		"unix://sock^dir",
		"ssh://u@h:22/p",
	} {
		a, err := ParseAddress(addr)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.String(); got != addr {
			t.Errorf("ParseAddress(%q).String() = %q", addr, got)
		}
	}
}

func TestRemoteCommand(t *testing.T) {
	a := Address{Scheme: SSH, Program: "bin/fmd", Root: "it's"}
	want := `'bin/fmd' 'server' '-stdio' '-q' '-root' 'it'\''s'`
	if got := remoteCommand(a); got != want {
		t.Errorf("remoteCommand = %s, want %s", got, want)
	}
}
