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

package freemountserver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kurafs/freemount/pkg/cli"
	"github.com/kurafs/freemount/pkg/config"
	"github.com/kurafs/freemount/pkg/logflags"
)

var ServerCmd = &cli.Command{
	Run:       serverCmdRun,
	UsageLine: "server [-stdio] [-listen addr] [-unix socket] [-quic addr] [-root dir] [-backend os|mem|bolt] [-config file]",
	Short:     "serve a file system over the Freemount protocol",
	Long: `
Server exports a file system to Freemount clients.

With -stdio it serves a single session over its standard input and output and
exits when the input ends; this is how client commands start a local server
or one at the far end of an SSH connection. Otherwise it accepts sessions on
every configured listener (TCP, unix socket and QUIC) until interrupted.

The exported file system is the directory -root (backend os), a fresh
in-memory tree (backend mem) or a bolt database at -bolt-path (backend bolt).

Settings may also come from a YAML file named by -config, using the flag
names as keys; flags given on the command line take precedence.

-admin serves a gRPC health service (also reachable through gRPC-Web) and a
plain-text /status page with session counters.
    `,
}

func serverCmdRun(cmd *cli.Command, args []string) error {
	var (
		file     string
		logFlags logflags.Flags
	)
	config.Default().RegisterFlags(&cmd.FlagSet, &file)
	logFlags.Register(&cmd.FlagSet)
	if err := cmd.FlagSet.Parse(args); err != nil {
		return cli.CmdParseError(err)
	}
	if cmd.FlagSet.NArg() != 0 {
		return cli.CmdParseError(fmt.Errorf("unexpected argument %q", cmd.FlagSet.Arg(0)))
	}

	cfg, err := config.Load(&cmd.FlagSet, file)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logFlags.LogDir = cfg.LogDir
	logFlags.SuppressStderr = logFlags.SuppressStderr || cfg.Quiet
	logger := logFlags.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wait, shutdown, err := Start(logger, cfg)
	if err != nil {
		return err
	}
	defer context.AfterFunc(ctx, shutdown)()

	wait()
	shutdown()

	return nil
}
