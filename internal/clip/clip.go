// Package clip exposes the system clipboard as a transfer medium. Build
// constraints select the backend:
//
//	clip_darwin.go   macOS via golang.design/x/clipboard + cgo changeCount
//	clip_windows.go  Windows via golang.design/x/clipboard + AddClipboardFormatListener
//	clip_linux.go    Linux via golang.design/x/clipboard, polling only
//	clip_other.go    headless / container stub
//
// The system clipboard carries two natives: UTF-8 text and PNG images.
package clip

import "go.klb.dev/clipxfer/internal/medium"

// Natives carried by the system clipboard.
const (
	NativeText  = "UTF8_STRING"
	NativeImage = "image/png"
)

// Supported reports whether the system clipboard can hold native name.
func Supported(name string) bool {
	return name == NativeText || name == NativeImage
}

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents, text before image.
	// Returns nil, nil if the clipboard is empty or holds only unsupported
	// types.
	Read() ([]medium.Item, error)

	// Write replaces the clipboard contents with the first item whose native
	// the clipboard supports.
	Write(items []medium.Item) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. On platforms without native change
	// notification (Linux X11/Wayland) this is implemented via polling.
	// The caller should call Read() when it receives from the channel.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
