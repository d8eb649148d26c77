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

// Package cli allows the construction of structured command-line interfaces with sub-commands and
// help topics. This is very similar to the interface in git where the top-level program name (git)
// is preceded by a qualifier that determines what sub-command to execute
// (git {reflog,commit,cherry-pick}).
//
// Package cli explicitly avoid init time global hooks and has a minimal binary size footprint.
//
// Example (from kurafs/freemount):
//
//	var commands cli.Commands
//	commands = append(commands, server.ServerCmd)
//	commands = append(commands, client.StatCmd, client.CatCmd)
//	commands = append(commands, doc.ProtocolCmd)
//
//	abstract := "Freemount is a multiplexed remote file access protocol."
//	if err := cli.Process(abstract, commands); err != nil {
//		os.Exit(1)
//	}
//
// This generates the following top-level behaviour:
//
//	$ freemount {,-h,help}
//	Freemount is a multiplexed remote file access protocol.
//
//	Usage:
//
//	    freemount command [arguments]
//
//	The commands are:
//
//	        server                 serve a directory over the Freemount protocol
//	        stat                   print file status
//	        cat                    print a remote file
//
//	Use 'freemount help [command]' for more information about a command.
//
//	Additional help topics:
//
//	        protocol               Freemount wire protocol overview
//
//	Use "freemount help [topic]" for more information about that topic.
//
// Using help for a listed command displays its usage line and long description, a help topic
// displays its description. Individual commands also have their own '-h' switches listing their
// flags.
package cli
