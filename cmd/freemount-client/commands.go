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
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/kurafs/freemount/pkg/cli"
	"github.com/kurafs/freemount/pkg/client"
	"github.com/kurafs/freemount/pkg/logflags"
	"github.com/kurafs/freemount/pkg/vfs"
)

func newStatCmd() *cli.Command {
	return &cli.Command{
		Run:       statCmdRun,
		UsageLine: "stat address",
		Short:     "print the status of a remote file",
		Long: `
Stat prints the mode, link count and size of the file the address names,
followed by its path. See 'help addresses' for the address forms.
    `,
	}
}

func statCmdRun(cmd *cli.Command, args []string) error {
	var logFlags logflags.Flags
	if err := parseArgs(cmd, args, &logFlags, 1, 1); err != nil {
		return err
	}
	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.client.Stat(s.ctx, s.path)
	if err != nil {
		return failure(display(s.path), err)
	}
	fmt.Fprintln(stdout, formatStat(st, display(s.path)))
	return nil
}

func formatStat(st vfs.Stat, name string) string {
	return fmt.Sprintf("%s %3d %10d  %s", st.FileMode(), st.Nlink, st.Size, name)
}

func newLsCmd() *cli.Command {
	return &cli.Command{
		Run:       lsCmdRun,
		UsageLine: "ls [-l] address",
		Short:     "list a remote directory",
		Long: `
Ls prints the names in the directory the address names, one per line. With
-l it prints each entry's status as well, stat-ing all entries concurrently.
    `,
	}
}

func lsCmdRun(cmd *cli.Command, args []string) error {
	var (
		long     bool
		logFlags logflags.Flags
	)
	cmd.FlagSet.BoolVar(&long, "l", false, "Print the status of every entry")
	if err := parseArgs(cmd, args, &logFlags, 1, 1); err != nil {
		return err
	}
	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	names, err := s.client.List(s.ctx, s.path)
	if err != nil {
		return failure(display(s.path), err)
	}
	if !long {
		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}

	lines := make([]string, len(names))
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := path.Join(s.path, name)
			st, err := s.client.Stat(s.ctx, p)
			if err != nil {
				errs[i] = failure(p, err)
				return
			}
			lines[i] = formatStat(st, name)
		}()
	}
	wg.Wait()

	var first error
	for i := range names {
		if errs[i] != nil {
			if first == nil {
				first = errs[i]
			}
			s.logger.Error(errs[i])
			continue
		}
		fmt.Fprintln(stdout, lines[i])
	}
	return first
}

func newCatCmd() *cli.Command {
	return &cli.Command{
		Run:       catCmdRun,
		UsageLine: "cat address",
		Short:     "print a remote file",
		Long: `
Cat copies the file the address names to standard output.
    `,
	}
}

func catCmdRun(cmd *cli.Command, args []string) error {
	var logFlags logflags.Flags
	if err := parseArgs(cmd, args, &logFlags, 1, 1); err != nil {
		return err
	}
	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	w := bufio.NewWriter(stdout)
	defer w.Flush()
	if _, _, err := s.client.ReadTo(s.ctx, s.path, w, client.ReadOptions{}); err != nil {
		return failure(display(s.path), err)
	}
	return nil
}

func newGetCmd() *cli.Command {
	return &cli.Command{
		Run:       getCmdRun,
		UsageLine: "get [-count n] [-offset n] address [file]",
		Short:     "download a remote file",
		Long: `
Get copies the file the address names into a local file, by default one with
the same base name in the current directory. -count and -offset select part
of the remote file.
    `,
	}
}

func getCmdRun(cmd *cli.Command, args []string) error {
	var (
		opts     client.ReadOptions
		logFlags logflags.Flags
	)
	cmd.FlagSet.Int64Var(&opts.Count, "count", 0, "Bytes to copy, 0 for all")
	cmd.FlagSet.Int64Var(&opts.Offset, "offset", 0, "Offset in the remote file to start at")
	if err := parseArgs(cmd, args, &logFlags, 1, 2); err != nil {
		return err
	}
	opts.Positioned = opts.Offset > 0

	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	local := cmd.FlagSet.Arg(1)
	if local == "" {
		local = path.Base(s.path)
		if local == "." || local == "/" {
			return fmt.Errorf("%s: no file name to save to", display(s.path))
		}
	}

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	_, size, err := s.client.ReadTo(s.ctx, s.path, w, opts)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(local)
		return failure(display(s.path), err)
	}
	s.logger.Debugf("%s: %d bytes", s.path, size)
	return nil
}

func newPutCmd() *cli.Command {
	return &cli.Command{
		Run:       putCmdRun,
		UsageLine: "put [-offset n] address [file]",
		Short:     "upload a file",
		Long: `
Put replaces the file the address names with the contents of a local file,
or of standard input if none is given, creating it if necessary. With
-offset the data is written at that offset without truncating the file.
    `,
	}
}

func putCmdRun(cmd *cli.Command, args []string) error {
	var (
		offset   int64
		logFlags logflags.Flags
	)
	cmd.FlagSet.Int64Var(&offset, "offset", -1, "Offset to write at, -1 to replace the file")
	if err := parseArgs(cmd, args, &logFlags, 1, 2); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if local := cmd.FlagSet.Arg(1); local != "" {
		data, err = os.ReadFile(local)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	if offset >= 0 {
		err = s.client.WriteAt(s.ctx, s.path, data, offset)
	} else {
		err = s.client.Put(s.ctx, s.path, data)
	}
	if err != nil {
		return failure(display(s.path), err)
	}
	return nil
}

func newLinkCmd() *cli.Command {
	return &cli.Command{
		Run:       linkCmdRun,
		UsageLine: "link address newpath",
		Short:     "create a hard link on a remote server",
		Long: `
Link creates newpath as a hard link to the file the address names. newpath
is on the same server.
    `,
	}
}

func linkCmdRun(cmd *cli.Command, args []string) error {
	var logFlags logflags.Flags
	if err := parseArgs(cmd, args, &logFlags, 2, 2); err != nil {
		return err
	}
	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.Link(s.ctx, s.path, cmd.FlagSet.Arg(1)); err != nil {
		return failure(display(s.path), err)
	}
	return nil
}

func newPingCmd() *cli.Command {
	return &cli.Command{
		Run:       pingCmdRun,
		UsageLine: "ping [-c count] [-i interval] address",
		Short:     "measure round trips to a server",
		Long: `
Ping sends pings to the server and prints the round trip time of each pong.
With -c 0 it pings until interrupted.
    `,
	}
}

func pingCmdRun(cmd *cli.Command, args []string) error {
	var (
		count    int
		interval time.Duration
		logFlags logflags.Flags
	)
	cmd.FlagSet.IntVar(&count, "c", 1, "Number of pings, 0 for no limit")
	cmd.FlagSet.DurationVar(&interval, "i", time.Second, "Time between pings")
	if err := parseArgs(cmd, args, &logFlags, 1, 1); err != nil {
		return err
	}
	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	for i := 0; count == 0 || i < count; i++ {
		if i > 0 {
			select {
			case <-time.After(interval):
			case <-s.ctx.Done():
				return nil
			}
		}

		start := time.Now()
		if err := s.client.Ping(s.ctx); err != nil {
			return failure(cmd.FlagSet.Arg(0), err)
		}
		fmt.Fprintf(stdout, "pong %d time=%s\n", i+1, time.Since(start).Round(time.Microsecond))
	}
	return nil
}

func newAuthCmd() *cli.Command {
	return &cli.Command{
		Run:       authCmdRun,
		UsageLine: "auth address",
		Short:     "authenticate with a server",
		Long: `
Auth sends an authentication request and exits 0 if the server accepts it.
    `,
	}
}

func authCmdRun(cmd *cli.Command, args []string) error {
	var logFlags logflags.Flags
	if err := parseArgs(cmd, args, &logFlags, 1, 1); err != nil {
		return err
	}
	s, err := connect(&logFlags, cmd.FlagSet.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.Auth(s.ctx); err != nil {
		return failure(cmd.FlagSet.Arg(0), err)
	}
	return nil
}
