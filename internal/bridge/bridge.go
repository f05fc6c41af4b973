// Package bridge mirrors the contents of two transfer media, such as the
// system clipboard and a daemon clipboard, in both directions.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipxfer/internal/medium"
)

// Endpoint is one side of a bridge. The medium must report its changes.
type Endpoint struct {
	Name   string
	Medium interface {
		medium.Medium
		medium.Watcher
	}
}

// Bridge copies whatever appears on one endpoint to the other. The payloads
// last written are remembered so a write does not echo back as a change.
type Bridge struct {
	a, b Endpoint

	mu       sync.Mutex
	last     []medium.Item
	lastSeen time.Time
}

func New(a, b Endpoint) *Bridge {
	return &Bridge{a: a, b: b}
}

// Run mirrors changes until ctx is done.
func (br *Bridge) Run(ctx context.Context) error {
	slog.Info("bridge started", "a", br.a.Name, "b", br.b.Name)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return br.pump(ctx, br.a, br.b) })
	g.Go(func() error { return br.pump(ctx, br.b, br.a) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LastSeen returns when contents last crossed the bridge.
func (br *Bridge) LastSeen() time.Time {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.lastSeen
}

func (br *Bridge) pump(ctx context.Context, from, to Endpoint) error {
	changes, err := from.Medium.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", from.Name, err)
	}
	for range changes {
		if err := br.forward(ctx, from, to); err != nil {
			slog.Error("bridge copy failed", "from", from.Name, "to", to.Name, "err", err)
		}
	}
	return ctx.Err()
}

func (br *Bridge) forward(ctx context.Context, from, to Endpoint) error {
	items, err := medium.ReadAll(ctx, from.Medium, "bridge")
	if err != nil {
		return fmt.Errorf("read %s: %w", from.Name, err)
	}
	if len(items) == 0 {
		return nil
	}

	// The lock is held across the write and read-back so the echo from to
	// is compared against what to actually kept.
	br.mu.Lock()
	defer br.mu.Unlock()
	if medium.SameItems(items, br.last) {
		return nil
	}
	if err := to.Medium.Publish(ctx, medium.Static(items)); err != nil {
		return fmt.Errorf("write %s: %w", to.Name, err)
	}
	kept, err := medium.ReadAll(ctx, to.Medium, "bridge")
	if err != nil {
		kept = items
	}
	br.last = kept
	br.lastSeen = time.Now()
	slog.Debug("bridge copied", "from", from.Name, "to", to.Name, "items", len(items), "kept", len(kept))
	return nil
}
