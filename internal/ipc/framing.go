// Package ipc implements the local IPC fabric of spec.md §4.9: a
// single bidirectional stream per endpoint, length-prefixed framing,
// and a sanitised endpoint naming scheme used by the supervisor to
// talk to its worker children. Built on net.Listen("unix", ...) /
// net.Dial("unix", ...) — stdlib net, not a pack dependency; see
// DESIGN.md for why no example in the retrieval pack ships a
// cross-platform local-stream library and the teacher's own
// kardianos/service usage already accepts OS-specific primitives at
// this layer.
package ipc

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/tamsilcms/agent/pkg/models"
)

// MaxMessageBytes is the hard per-message limit of spec.md §4.9.
const MaxMessageBytes = 16 * 1024 * 1024

// DefaultEndpointName is used when a sanitised endpoint name would
// otherwise be empty.
const DefaultEndpointName = "agent-ipc"

// WriteMessage frames payload as a 4-byte little-endian length prefix
// followed by the bytes themselves, and writes it to w.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageBytes {
		return errors.Wrap(models.ErrIPCProtocolViolation, "message exceeds 16 MiB limit")
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, "ipc: write length prefix")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "ipc: write payload")
	}
	return nil
}

// ReadMessage reads one length-prefixed message from r, refusing
// anything declaring a length over MaxMessageBytes.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxMessageBytes {
		return nil, errors.Wrap(models.ErrIPCProtocolViolation, "declared message size exceeds 16 MiB limit")
	}
	if n == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "ipc: read payload")
	}
	return buf, nil
}

// SanitiseEndpointName replaces every character outside
// [A-Za-z0-9_-] with '_', defaulting an empty name to
// DefaultEndpointName, per spec.md §4.9.
func SanitiseEndpointName(name string) string {
	if name == "" {
		return DefaultEndpointName
	}

	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
