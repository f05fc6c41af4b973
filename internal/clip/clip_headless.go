package clip

import "go.klb.dev/clipxfer/internal/medium"

// headlessBackend is a no-op clipboard backend for environments without a
// display server (headless Linux servers, containers, etc.).
// It never produces Watch events and silently discards writes.
type headlessBackend struct {
	watchCh chan struct{}
}

func newHeadless() *headlessBackend { return &headlessBackend{watchCh: make(chan struct{})} }

func (b *headlessBackend) Name() string                 { return "headless (no-op)" }
func (b *headlessBackend) Read() ([]medium.Item, error) { return nil, nil }
func (b *headlessBackend) Write(_ []medium.Item) error  { return nil }
func (b *headlessBackend) Watch() <-chan struct{}       { return b.watchCh }
func (b *headlessBackend) Close()                       {}
