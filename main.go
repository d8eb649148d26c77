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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kurafs/freemount/doc"
	"github.com/kurafs/freemount/pkg/cli"

	freemountclient "github.com/kurafs/freemount/cmd/freemount-client"
	freemountserver "github.com/kurafs/freemount/cmd/freemount-server"
)

func main() {
	// We aggregate all the top-level commands (i.e. 'freemount <command> ...')
	// as needed: the server first, then the client tools.
	var commands cli.Commands
	commands = append(commands, freemountserver.ServerCmd)
	commands = append(commands, freemountclient.Commands()...)

	// Documentation pseudo-commands for the wire protocol and address forms.
	commands = append(commands, doc.ProtocolCmd)
	commands = append(commands, doc.AddressesCmd)

	abstract := "Freemount is a multiplexed remote file access protocol."
	if err := cli.Process(abstract, commands); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}
}
