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

// Package transport establishes the byte streams Freemount sessions run
// over: spawned local servers, stdio, TCP, unix sockets, SSH sessions and
// QUIC streams.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// DefaultPort is the TCP and QUIC port a Freemount server listens on.
const DefaultPort = "4564"

const sshPort = "22"

// DefaultServer is the server program run by exec and ssh addresses.
const DefaultServer = "freemount"

// Scheme is how an address is reached.
type Scheme int

const (
	Exec Scheme = iota
	Stdio
	TCP
	Unix
	SSH
	QUIC
)

var schemeNames = [...]string{
	Exec:  "exec",
	Stdio: "stdio",
	TCP:   "mnt",
	Unix:  "unix",
	SSH:   "ssh",
	QUIC:  "quic",
}

func (s Scheme) String() string {
	if int(s) < len(schemeNames) {
		return schemeNames[s]
	}
	return fmt.Sprintf("scheme(%d)", int(s))
}

// ErrBadAddress is wrapped by every ParseAddress failure.
var ErrBadAddress = errors.New("invalid freemount address")

// Address is a parsed Freemount address.
type Address struct {
	Scheme Scheme

	// Host is host:port for TCP, QUIC and SSH, and the socket for Unix.
	Host string
	// User is the SSH login, empty for the current user.
	User string
	// Program is the server run by Exec and SSH addresses.
	Program string
	// Root is the directory an Exec or SSH server exports.
	Root string

	// Path names a file within the server's namespace.
	Path string
}

func (a Address) String() string {
	switch a.Scheme {
	case Stdio:
		return ":"
	case Exec:
		if a.Program == DefaultServer {
			return a.Path
		}
		return "exec://" + a.Program
	case Unix:
		if a.Path != "" {
			return "unix://" + a.Host + "^" + a.Path
		}
		return "unix://" + a.Host
	}

	s := a.Scheme.String() + "://"
	if a.User != "" {
		s += a.User + "@"
	}
	s += a.Host
	if a.Path != "" {
		s += "/" + strings.TrimPrefix(a.Path, "/")
	}
	return s
}

// ParseAddress parses the address forms
//
//	path                        spawn a local server, then use path
//	:                           this process's stdin and stdout
//	exec://program              spawn program as the server
//	mnt://host[:port][/path]    TCP, port 4564 by default
//	unix://socket[^dir]         unix-domain socket, then use dir
//	ssh://[user@]host[:port][/path]
//	host:[program!][root//]path run a server over SSH
//	quic://host[:port][/path]   one QUIC stream
//
// An empty address is an error.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrBadAddress)
	}

	colon := strings.IndexByte(s, ':')
	if slash := strings.IndexByte(s, '/'); colon < 0 || (slash >= 0 && slash < colon) {
		return Address{Scheme: Exec, Program: DefaultServer, Root: ".", Path: s}, nil
	}

	if colon == 0 {
		if s == ":" {
			return Address{Scheme: Stdio}, nil
		}
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}

	scheme, rest := s[:colon], s[colon+1:]
	if !strings.HasPrefix(rest, "//") {
		user, host := splitUser(scheme)
		return parseSSHPath(Address{Scheme: SSH, User: user, Host: withPort(host, sshPort)}, rest), nil
	}
	rest = rest[2:]

	switch scheme {
	case "mnt":
		return parseHostPath(TCP, rest, DefaultPort)
	case "quic":
		return parseHostPath(QUIC, rest, DefaultPort)
	case "ssh":
		user, rest := splitUser(rest)
		a, err := parseHostPath(SSH, rest, sshPort)
		if err != nil {
			return Address{}, err
		}
		a.User, a.Program, a.Root = user, DefaultServer, "."
		return a, nil
	case "unix":
		if rest == "" {
			return Address{}, fmt.Errorf("%w: %q has no socket", ErrBadAddress, s)
		}
		a := Address{Scheme: Unix, Host: rest}
		if caret := strings.IndexByte(rest, '^'); caret >= 0 {
			a.Host, a.Path = rest[:caret], rest[caret+1:]
		}
		return a, nil
	case "exec":
		if rest == "" {
			return Address{}, fmt.Errorf("%w: %q has no program", ErrBadAddress, s)
		}
		return Address{Scheme: Exec, Program: rest, Root: "."}, nil
	}
	return Address{}, fmt.Errorf("%w: unknown scheme %q", ErrBadAddress, scheme)
}

// parseHostPath splits host[:port][/path], defaulting the port.
func parseHostPath(scheme Scheme, s, port string) (Address, error) {
	a := Address{Scheme: scheme}
	host := s
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		host, a.Path = s[:slash], s[slash+1:]
	}
	if host == "" {
		return Address{}, fmt.Errorf("%w: %s address has no host", ErrBadAddress, scheme)
	}
	a.Host = withPort(host, port)
	return a, nil
}

func splitUser(s string) (user, rest string) {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		return s[:at], s[at+1:]
	}
	return "", s
}

// parseSSHPath parses the [program!][root//]path part of host:path.
func parseSSHPath(a Address, s string) Address {
	a.Program, a.Root = DefaultServer, "."
	if bang := strings.IndexByte(s, '!'); bang >= 0 {
		a.Program, s = s[:bang], s[bang+1:]
	}
	if slashes := strings.Index(s, "//"); slashes >= 0 {
		a.Root, s = s[:slashes], s[slashes+1:]
	}
	a.Path = s
	return a
}

// withPort adds port to host unless it already names one.
func withPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), port)
}
