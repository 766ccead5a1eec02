// Package socket implements a JSON-over-Unix-socket protocol for the parley daemon.
// The protocol uses newline-delimited JSON: each message is one JSON object + \n.
//
// A call uses one connection: the client writes a Request and reads one
// Response. A subscription keeps its connection open: the client writes a
// "subscribe" Request, reads the acknowledging Response, then reads Event
// lines until either side closes the connection.
package socket

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// SocketPath returns the Unix socket path for a given data directory.
// Format: /tmp/parley-{first12hex}.sock
func SocketPath(dataDir string) string {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		abs = dataDir
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/parley-%x.sock", h[:6])
}

// MethodSubscribe turns the connection into an event subscription.
// Every other method name is a backend command (see ports.Cmd*).
const MethodSubscribe = "subscribe"

// Request is the wire format for client-to-server messages.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire format for server-to-client replies.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is a pushed event on a subscription connection.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RemoteError is a failure reported by the daemon. Error returns the
// daemon's message unchanged.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
