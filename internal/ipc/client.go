package ipc

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
)

// SocketPath derives the unix-socket path a Server built with the same
// socketDir/endpointName pair would listen on.
func SocketPath(socketDir, endpointName string) string {
	return socketDir + string(os.PathSeparator) + SanitiseEndpointName(endpointName) + ".sock"
}

// Dial connects to a Server's endpoint.
func Dial(ctx context.Context, socketDir, endpointName string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", SocketPath(socketDir, endpointName))
	if err != nil {
		return nil, errors.Wrap(err, "ipc: dial")
	}
	return &Conn{Conn: conn}, nil
}

// Call writes req and reads back one response message over conn —
// the request/response cycle the supervisor uses to send "reload" and
// other control messages to a worker.
func Call(conn *Conn, req []byte) ([]byte, error) {
	if err := conn.WriteMessage(req); err != nil {
		return nil, err
	}
	return conn.ReadMessage()
}
