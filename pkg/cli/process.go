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

package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// ExitUsage is the status for malformed command lines.
const ExitUsage = 2

// Process is the entry point for CLI commands. User provided arguments are captured and processed
// through the defined commands, and the appropriate one (if any), is executed.
// As is structured at the time of writing, there's no root level command or flags. Given this when
// <program> is invoked without any arguments, the full usage is printed out instead.
//
// All CLI errors are printed out to os.Stderr and follow with os.Exit(2). Command execution errors
// are propagated to the caller. All remaining printed output is directed at os.Stdout.
//
// The abstract is used in generating structured help messages. Example:
//
//      $ <program> -h
//      <abstract>
//
//      Usage of <program>:
//          ...
//
func Process(abstract string, commands Commands) error {
	code, err := run(os.Args[0], os.Args[1:], abstract, commands, os.Stdout, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
	return err
}

// run is Process with its environment made explicit. A non-zero code means the command line was
// malformed and has been reported to stderr.
func run(program string, args []string, abstract string, commands Commands, stdout, stderr io.Writer) (code int, err error) {
	// FlagSet outputs are discarded for composability with the rest of this package.
	for _, cmd := range commands {
		cmd.FlagSet.Init(cmd.Name(), flag.ContinueOnError)
		cmd.FlagSet.SetOutput(io.Discard)
	}

	// We fall back to printing out default usage when no commands are provided.
	if len(args) == 0 {
		printFullUsage(stdout, program, abstract, commands)
		return 0, nil
	}

	command := args[0]
	// We also provide an out of the box '<program> help' command that simply prints out default
	// usage. '<program> -h' is a special allowance accounted for.
	if (command == "help" || command == "-h") && len(args) == 1 {
		printFullUsage(stdout, program, abstract, commands)
		return 0, nil
	}

	if command == "help" {
		// '<program> help cmd' takes exactly one command.
		if len(args) > 2 {
			fmt.Fprintf(stderr, "Usage: %s help [command]\n\n", program)
			fmt.Fprintln(stderr, "Too many arguments given.")
			return ExitUsage, nil
		}

		cmd := commands.Lookup(args[1])
		if cmd == nil {
			fmt.Fprintf(stderr, "Unknown help topic '%s'\n\n", args[1])
			fmt.Fprintf(stderr, "Run '%s help' for available topics.\n", program)
			return ExitUsage, nil
		}
		tmpl(stdout, helpTemplate, program, "", cmd)
		return 0, nil
	}

	// A non-help command is executed, we look to find the one provided and if runnable, we run it.
	cmd := commands.Lookup(command)
	if cmd == nil || !cmd.Runnable() {
		fmt.Fprintf(stderr, "Unknown command '%s'\n\n", command)
		fmt.Fprintf(stderr, "Run '%s help' for available commands.\n", program)
		return ExitUsage, nil
	}

	err = cmd.Run(cmd, args[1:])
	var perr cmdParseError
	if !errors.As(err, &perr) {
		return 0, err
	}

	// Help requested through '-h' is a valid state, despite the flag.Parse error response. We
	// check after cmd.Run as the flags may have been defined there.
	if errors.Is(err, flag.ErrHelp) {
		printCommandHelp(stdout, program, cmd)
		return 0, nil
	}

	printCommandParsingError(stderr, program, cmd, err)
	return ExitUsage, nil
}
