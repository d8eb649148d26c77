package doc

import "github.com/kurafs/freemount/pkg/cli"

var ProtocolCmd = &cli.Command{
	UsageLine: "protocol",
	Short:     "Freemount wire protocol overview",
	Long: `
Freemount carries file system requests over any byte stream. Everything sent
in either direction is a frame: an 8-byte header followed by a payload padded
with zeros to a multiple of 4 bytes.

    offset  size  field
    0       1     reserved (0)
    1       1     frame type
    2       2     payload length, big-endian, excluding padding
    4       1     chain (0)
    5       1     request id
    6       1     reserved (0)
    7       1     data (request type of a request frame)

A client starts a request by sending a request frame with a free id (0-255)
and the request type, then argument frames carrying the same id, and finally
a submit frame. The server answers with zero or more response frames and
exactly one result frame whose value is 0 or an errno. Requests with
different ids may be in flight at once and their responses interleave.

Integers travel as payloads of 0, 4 or 8 big-endian bytes.

Request types and the arguments they accept:

    auth   (2)
    stat   (3)  path                      -> stat mode, stat nlink, stat size
    list   (4)  path                      -> dentry name...
    read   (5)  path|fd, count, offset    -> stat size, received data...
    write  (6)  path|fd, data, count, offset
    open   (7)  path, fd
    close  (8)  fd
    link   (9)  path, path

Control frames: ping (1) is answered with pong (2); cancel (10) abandons a
request, which is answered with result ECANCELED unless it already finished.
Fatal (3) carries a message and precedes the server closing the connection
after a protocol violation, such as a duplicate request id or an argument
the request type does not take.

A server started with -window sends at most that many bytes of read data
before the client acknowledges them with ack read frames (48).
`,
}
