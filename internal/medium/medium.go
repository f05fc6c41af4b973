// Package medium defines the transfer medium contract and an in-process
// implementation.
//
// A Medium is the shared resource producers publish to and consumers read
// from: the system clipboard, a Redis-backed network clipboard, or the
// clipxfer daemon. Reading happens inside a Session, the open/close bracket
// of the medium. Sessions are exclusive and not reentrant: a requestor that
// opens a second session while holding one blocks until its context expires.
//
// Payloads are addressed by native format name; translating names to
// format.Native identifiers is left to the caller.
package medium

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// Medium is a lockable store of native payloads.
type Medium interface {
	// Open acquires the medium for requestor. It fails with an error
	// matching xferr.ErrResourceUnavailable if the medium cannot be
	// acquired before ctx is done. A failed Open leaves nothing to close.
	Open(ctx context.Context, requestor string) (Session, error)

	// Publish replaces the contents of the medium with the formats of r.
	// Lazy media call r.Render when a consumer fetches a format; eager
	// media render every format before Publish returns.
	Publish(ctx context.Context, r Renderer) error
}

// Session is one open bracket on a medium. Close is idempotent.
type Session interface {
	Formats() ([]string, error)
	Fetch(name string) ([]byte, error)
	Close() error
}

// Renderer produces native payloads on request.
type Renderer interface {
	// Formats lists the natives the renderer can produce, most preferred
	// first.
	Formats() []string
	Render(ctx context.Context, name string) ([]byte, error)
}

// Watcher is implemented by media that report content changes. Each value
// received is the format list of the new contents. The channel is closed
// when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan []string, error)
}

// Item is one rendered native payload.
type Item struct {
	Name string
	Data []byte
}

// Static is a Renderer over fixed payloads.
type Static []Item

func (s Static) Formats() []string {
	out := make([]string, len(s))
	for i, it := range s {
		out[i] = it.Name
	}
	return out
}

func (s Static) Render(_ context.Context, name string) ([]byte, error) {
	for _, it := range s {
		if it.Name == name {
			return slices.Clone(it.Data), nil
		}
	}
	return nil, fmt.Errorf("format %s not offered", name)
}

// RenderAll renders every format of r in preference order. Formats that fail
// to render are left out and logged; eager media publish whatever succeeded.
func RenderAll(ctx context.Context, r Renderer) []Item {
	var out []Item
	for _, name := range r.Formats() {
		data, err := r.Render(ctx, name)
		if err != nil {
			slog.Warn("render failed", "format", name, "err", err)
			continue
		}
		out = append(out, Item{Name: name, Data: data})
	}
	return out
}

// ReadAll opens m and fetches every format it holds. Formats that fail to
// fetch are left out and logged.
func ReadAll(ctx context.Context, m Medium, requestor string) ([]Item, error) {
	sess, err := m.Open(ctx, requestor)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	names, err := sess.Formats()
	if err != nil {
		return nil, fmt.Errorf("list formats: %w", err)
	}
	out := make([]Item, 0, len(names))
	for _, name := range names {
		data, err := sess.Fetch(name)
		if err != nil {
			slog.Warn("fetch failed", "format", name, "err", err)
			continue
		}
		out = append(out, Item{Name: name, Data: data})
	}
	return out, nil
}

// SameItems reports whether a and b carry the same payloads in the same
// order.
func SameItems(a, b []Item) bool {
	return slices.EqualFunc(a, b, func(x, y Item) bool {
		return x.Name == y.Name && bytes.Equal(x.Data, y.Data)
	})
}
