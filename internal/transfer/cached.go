package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.klb.dev/clipxfer/internal/codec"
	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/flavormap"
	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/resolve"
	"go.klb.dev/clipxfer/internal/xferr"
)

// Deps are the collaborators a snapshot resolves and renders with.
type Deps struct {
	Registry *format.Registry
	Table    flavormap.Table
	Codec    *codec.Codec
}

// Cached is a consumer's snapshot of a medium. Every native payload is
// fetched once while the medium is open; flavors are rendered from the
// captured bytes on first request and the result, value or error, is kept.
//
// Reader and Stream flavors are rendered afresh on each Get, from the same
// captured bytes, because a consumed stream cannot be handed out twice.
type Cached struct {
	codec   *codec.Codec
	natives []string
	flavors []flavor.Flavor
	entries map[flavor.Flavor]*entry
}

type entry struct {
	format   format.Native
	name     string
	data     []byte
	fetchErr error

	once  sync.Once
	value any
	err   error
}

type fetched struct {
	data []byte
	err  error
}

// Snapshot opens m for requestor, captures its contents and closes it again.
// Fetch failures do not abort the snapshot; they are recorded and replayed
// by Get for every flavor that depends on the failed format.
func Snapshot(ctx context.Context, m medium.Medium, requestor string, d Deps) (*Cached, error) {
	sess, err := m.Open(ctx, requestor)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	names, err := sess.Formats()
	if err != nil {
		return nil, &xferr.Error{Kind: xferr.ErrTransferFailed, Err: fmt.Errorf("list formats: %w", err)}
	}
	formats := make([]format.Native, len(names))
	for i, name := range names {
		formats[i] = d.Registry.FormatFor(name)
	}

	resolved := resolve.FlavorsForFormats(formats, d.Table, d.Registry)
	c := &Cached{
		codec:   d.Codec,
		natives: slices.Clone(names),
		flavors: make([]flavor.Flavor, 0, len(resolved)),
		entries: make(map[flavor.Flavor]*entry, len(resolved)),
	}
	for f := range resolved {
		c.flavors = append(c.flavors, f)
	}
	slices.SortFunc(c.flavors, flavor.Compare)

	raw := make(map[format.Native]fetched)
	for _, f := range c.flavors {
		n := resolved[f]
		r, ok := raw[n]
		if !ok {
			r = fetch(sess, d.Registry.Describe(n))
			raw[n] = r
		}
		c.entries[f] = &entry{format: n, name: d.Registry.Describe(n), data: r.data, fetchErr: r.err}
	}
	return c, nil
}

// fetch reads one native payload. A panicking medium is treated like a
// failing one so that the remaining formats are still captured. The error
// is the bare cause; Get wraps it for the flavor asked for.
func fetch(sess medium.Session, name string) (r fetched) {
	defer func() {
		if p := recover(); p != nil {
			r = fetched{err: fmt.Errorf("panic: %v", p)}
			slog.Error("native fetch panicked", "format", name, "panic", p)
		}
	}()
	data, err := sess.Fetch(name)
	if err != nil {
		slog.Warn("native fetch failed", "format", name, "err", err)
		return fetched{err: err}
	}
	return fetched{data: data}
}

// Natives returns the native format names the medium offered, in the
// medium's order.
func (c *Cached) Natives() []string { return slices.Clone(c.natives) }

// Flavors returns every flavor the snapshot resolved. Flavors whose payload
// could not be fetched stay listed; Get reports the fetch error for them.
func (c *Cached) Flavors() []flavor.Flavor { return slices.Clone(c.flavors) }

func (c *Cached) IsSupported(f flavor.Flavor) bool {
	_, ok := c.entries[f]
	return ok
}

// FormatOf returns the native format f is rendered from.
func (c *Cached) FormatOf(f flavor.Flavor) (format.Native, bool) {
	e, ok := c.entries[f]
	if !ok {
		return 0, false
	}
	return e.format, true
}

func (c *Cached) Get(f flavor.Flavor) (any, error) {
	e, ok := c.entries[f]
	if !ok {
		return nil, xferr.Unsupported(f.String())
	}
	if e.fetchErr != nil {
		return nil, xferr.Transfer(f.String(), e.name, e.fetchErr)
	}
	switch f.Repr() {
	case flavor.Reader, flavor.Stream:
		return c.codec.Decode(e.data, f, e.format, c)
	}
	e.once.Do(func() {
		e.value, e.err = c.codec.Decode(e.data, f, e.format, c)
	})
	return e.value, e.err
}
