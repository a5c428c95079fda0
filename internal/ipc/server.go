package ipc

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Conn wraps a unix-domain net.Conn with the framed read/write
// operations of spec.md §4.9.
type Conn struct {
	net.Conn
}

// ReadMessage reads one length-prefixed message.
func (c *Conn) ReadMessage() ([]byte, error) {
	return ReadMessage(c.Conn)
}

// WriteMessage writes one length-prefixed message.
func (c *Conn) WriteMessage(payload []byte) error {
	return WriteMessage(c.Conn, payload)
}

// Server listens on a single sanitised unix-domain endpoint and serves
// clients sequentially, one at a time, reopening the endpoint whenever
// the current client disconnects, per spec.md §4.9.
type Server struct {
	socketPath string
	log        zerolog.Logger
}

// NewServer builds a Server bound to the unix-socket path derived from
// a sanitised endpoint name. socketDir is typically a per-tenant
// runtime directory the supervisor owns.
func NewServer(socketDir, endpointName string, log zerolog.Logger) *Server {
	name := SanitiseEndpointName(endpointName)
	return &Server{socketPath: socketDir + string(os.PathSeparator) + name + ".sock", log: log}
}

// Handler processes one received message and returns the response to
// write back, or an error to close the connection.
type Handler func(ctx context.Context, msg []byte) ([]byte, error)

// Serve accepts and handles clients sequentially until ctx is
// cancelled. Each accepted connection is read in a loop: one message
// in, one message out, until the client disconnects or sends a
// malformed frame, at which point the endpoint is reopened for the
// next client.
func (s *Server) Serve(ctx context.Context, handle Handler) error {
	_ = os.Remove(s.socketPath)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		return errors.Wrap(err, "ipc: listen")
	}
	defer ln.Close()
	defer os.Remove(s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "ipc: accept")
		}
		s.serveOne(ctx, &Conn{Conn: conn}, handle)
	}
}

func (s *Server) serveOne(ctx context.Context, conn *Conn, handle Handler) {
	defer conn.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		resp, err := handle(ctx, msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("ipc: handler failed, closing connection")
			return
		}
		if err := conn.WriteMessage(resp); err != nil {
			s.log.Warn().Err(err).Msg("ipc: write response failed, closing connection")
			return
		}
	}
}
