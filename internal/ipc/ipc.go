// Package ipc locates and opens the local endpoint that "clipnotify serve"
// listens on, so "clipnotify tail" and "clipnotify status" on the same host
// can reach it without TCP.
//
// The endpoint is a Unix domain socket, or a named pipe on Windows. Both
// carry plain gRPC; access control is left to the OS (socket file mode,
// pipe ACL).
package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// ErrInUse is returned by Listen when another server already accepts
// connections on the endpoint.
var ErrInUse = errors.New("ipc: endpoint already in use")

// EnvSocket overrides the endpoint path on every platform.
const EnvSocket = "CLIPNOTIFY_SOCKET"

// SocketPath returns the platform-appropriate endpoint path.
//
//   - $CLIPNOTIFY_SOCKET when set
//   - Linux / macOS: $XDG_RUNTIME_DIR/clipnotify.sock, else $TMPDIR/clipnotify.sock
//   - Windows:       \\.\pipe\clipnotify
func SocketPath() string {
	if s := os.Getenv(EnvSocket); s != "" {
		return s
	}
	return defaultPath()
}

// Listen opens the endpoint, replacing a stale socket left by a crashed run.
// It fails with ErrInUse while another server is live on it.
func Listen() (net.Listener, error) {
	return listen(SocketPath())
}

// Dial connects to the endpoint.
func Dial(ctx context.Context) (net.Conn, error) {
	return dial(ctx, SocketPath())
}

// IsRunning reports whether something accepts connections on the endpoint.
// It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	c, err := Dial(ctx)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
