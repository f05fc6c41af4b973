// Package ipc provides the local socket the clipxfer daemon listens on and
// that the ipc medium dials. It is a Unix domain socket everywhere except
// Windows, where it is a named pipe.
package ipc

import (
	"context"
	"net"
	"os"
	"time"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/clipxfer.sock, else $TMPDIR/clipxfer.sock
//   - macOS:   $TMPDIR/clipxfer.sock
//   - Windows: \\.\pipe\clipxfer
//
// $CLIPXFER_SOCKET overrides all of them.
func SocketPath() string {
	if s := os.Getenv("CLIPXFER_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a daemon appears to be listening on path. It
// does a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := dialIPC(ctx, path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a net.Listener on path, removing any stale socket left by
// a crashed daemon first.
func Listen(path string) (net.Listener, error) {
	return listenIPC(path)
}

// Dial connects to the daemon listening on path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return dialIPC(ctx, path)
}
