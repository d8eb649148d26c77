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
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshConfig authenticates through the running ssh-agent and checks host
// keys against ~/.ssh/known_hosts.
func sshConfig(login string) (*ssh.ClientConfig, func() error, error) {
	if login == "" {
		u, err := user.Current()
		if err != nil {
			return nil, nil, err
		}
		login = u.Username
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, err
	}
	hostKeys, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		return nil, nil, fmt.Errorf("loading known hosts: %w", err)
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, fmt.Errorf("ssh: SSH_AUTH_SOCK is not set, no agent to authenticate with")
	}
	ac, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh: connecting to agent: %w", err)
	}

	return &ssh.ClientConfig{
		User:            login,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(ac).Signers)},
		HostKeyCallback: hostKeys,
	}, ac.Close, nil
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func remoteCommand(a Address) string {
	words := []string{shellQuote(a.Program)}
	for _, arg := range ServerArgs(a.Root) {
		words = append(words, shellQuote(arg))
	}
	return strings.Join(words, " ")
}

func dialSSH(ctx context.Context, a Address) (*Conn, error) {
	config, closeAgent, err := sshConfig(a.User)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", a.Host)
	if err != nil {
		return nil, err
	}
	cc, chans, reqs, err := ssh.NewClientConn(nc, a.Host, config)
	if err != nil {
		nc.Close()
		return nil, err
	}
	client := ssh.NewClient(cc, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}
	session.Stderr = os.Stderr
	stdin, err := session.StdinPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := session.Start(remoteCommand(a)); err != nil {
		client.Close()
		return nil, err
	}

	return &Conn{
		Reader:  stdout,
		Writer:  stdin,
		Address: a,
		closers: []func() error{stdin.Close, session.Close, client.Close},
	}, nil
}
