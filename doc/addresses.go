package doc

import "github.com/kurafs/freemount/pkg/cli"

var AddressesCmd = &cli.Command{
	UsageLine: "addresses",
	Short:     "How client commands locate a server",
	Long: `
Client commands take an address naming both a server and a path on it.

    path                         start a local 'freemount server -stdio' in
                                 the current directory and use path
    :                            speak over this process's stdin and stdout
    exec://program               start program as the local server
    mnt://host[:port][/path]     connect over TCP (port 4564 by default)
    unix://socket[^dir]          connect to a unix-domain socket, use dir
    quic://host[:port][/path]    open a QUIC stream (port 4564 by default)
    ssh://[user@]host[:port][/path]
    host:[program!][root//]path  run a stdio server over SSH, exporting root

SSH connections authenticate with the keys of the running ssh-agent and
verify the server against ~/.ssh/known_hosts.

Examples:

    freemount cat notes.txt
    freemount ls -l mnt://fileserver/projects
    freemount get build:bin/freemount!/srv//logs/today.log today.log
`,
}
