//go:build !windows

package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
)

func socketPath() string {
	// Linux: prefer XDG_RUNTIME_DIR
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipxfer.sock")
	}
	// macOS / fallback
	return filepath.Join(os.TempDir(), "clipxfer.sock")
}

func listenIPC(path string) (net.Listener, error) {
	if IsRunning(path) {
		return nil, &net.OpError{Op: "listen", Net: "unix", Err: os.ErrExist}
	}
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

func dialIPC(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
