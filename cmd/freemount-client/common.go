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

package freemountclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kurafs/freemount/pkg/cli"
	"github.com/kurafs/freemount/pkg/client"
	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/logflags"
	"github.com/kurafs/freemount/pkg/transport"
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

// Commands are every client command, in the order they are listed in help.
func Commands() cli.Commands {
	return cli.Commands{
		newStatCmd(),
		newLsCmd(),
		newCatCmd(),
		newGetCmd(),
		newPutCmd(),
		newLinkCmd(),
		newPingCmd(),
		newAuthCmd(),
	}
}

// session is a connected command invocation.
type session struct {
	ctx    context.Context
	logger *log.Logger
	client *client.Client
	// path is the path the address names.
	path string
	stop func()
}

// parseArgs parses the command line of cmd, which must leave between min
// and max positional arguments.
func parseArgs(cmd *cli.Command, args []string, logFlags *logflags.Flags, min, max int) error {
	logFlags.Register(&cmd.FlagSet)
	if err := cmd.FlagSet.Parse(args); err != nil {
		return cli.CmdParseError(err)
	}
	if n := cmd.FlagSet.NArg(); n < min || n > max {
		return cli.CmdParseError(fmt.Errorf("%s takes %d to %d arguments, %d given", cmd.Name(), min, max, n))
	}
	return nil
}

// connect dials addr. Interrupting the process cancels outstanding requests.
func connect(logFlags *logflags.Flags, addr string) (*session, error) {
	logFlags.SetMode(log.ErrorMode)
	logger := logFlags.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		stop()
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	logger.Debugf("connected to %s", conn.Address)

	return &session{
		ctx:    ctx,
		logger: logger,
		client: client.New(conn, client.Logger(logger)),
		path:   conn.Address.Path,
		stop:   stop,
	}, nil
}

func (s *session) Close() {
	s.client.Close()
	s.stop()
}

// failure formats err from a request about path as "<path>: <error>".
func failure(path string, err error) error {
	var perr *client.PathError
	switch {
	case errors.As(err, &perr):
		return fmt.Errorf("%s: %w", path, perr.Errno)
	case errors.Is(err, client.ErrConnectionReset):
		return errors.New("connection to server lost")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: interrupted", path)
	}
	return fmt.Errorf("%s: %w", path, err)
}

// display names path for messages, the way the user gave it.
func display(path string) string {
	if path == "" {
		return "."
	}
	return path
}
