// Package clipboard ties a transfer medium to the translation core.
//
// Producers publish a Transferable with SetContents; the medium sees a lazy
// renderer that encodes each native format on demand, on the producer's own
// execution context. Consumers read with Contents, which hands a requestor
// that owns the medium its own value back and snapshots the medium for
// everyone else.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/owner"
	"go.klb.dev/clipxfer/internal/resolve"
	"go.klb.dev/clipxfer/internal/transfer"
	"go.klb.dev/clipxfer/internal/xferr"
)

// ErrNotWatchable is returned by Watch for media that do not report changes.
var ErrNotWatchable = errors.New("medium does not report changes")

// Clipboard is one named medium with ownership tracking.
type Clipboard struct {
	name     string
	m        medium.Medium
	deps     transfer.Deps
	copier   transfer.Copier
	coord    *owner.Coordinator
	notifier *owner.Notifier
}

// New returns a clipboard over m. copier backs the defensive copy of object
// flavors handed back to the owner; it may be nil when no object flavors are
// published.
func New(name string, m medium.Medium, d transfer.Deps, copier transfer.Copier) *Clipboard {
	return &Clipboard{
		name:     name,
		m:        m,
		deps:     d,
		copier:   copier,
		coord:    owner.NewCoordinator(),
		notifier: owner.NewNotifier(),
	}
}

func (c *Clipboard) Name() string { return c.name }

// Medium returns the underlying medium.
func (c *Clipboard) Medium() medium.Medium { return c.m }

// preferrer is implemented by transferables that know the order in which
// their flavors should be offered.
type preferrer interface {
	Preferred() []flavor.Flavor
}

// SetContents makes producer the owner of t and publishes it. onLost is told,
// on producer's queue, when something else replaces t or producer is
// disposed. If the medium rejects the contents, ownership is dropped again.
func (c *Clipboard) SetContents(ctx context.Context, producer *owner.Context, t transfer.Transferable, onLost owner.LostFunc) error {
	flavors := t.Flavors()
	if p, ok := t.(preferrer); ok {
		flavors = p.Preferred()
	}
	fm := resolve.FormatsForFlavors(flavors, c.deps.Table, c.deps.Registry)

	proxy := transfer.NewProxy(t, true, c.copier)
	c.coord.Publish(producer, proxy, onLost)

	r := &lazyRenderer{producer: producer, src: proxy, fm: fm, deps: c.deps}
	slog.Debug("publishing contents", "clipboard", c.name, "owner", producer.ID(), "formats", r.Formats())
	if err := c.m.Publish(ctx, r); err != nil {
		c.coord.ClearIfOwnedBy(producer, err)
		return &xferr.Error{Kind: xferr.ErrTransferFailed, Err: fmt.Errorf("publish to %s: %w", c.name, err)}
	}
	return nil
}

// Contents returns what the medium holds for requestor. When requestor owns
// the medium its published value is returned without a round trip through
// native formats; object flavors are still copied. requestor may be nil.
func (c *Clipboard) Contents(ctx context.Context, requestor *owner.Context) (transfer.Transferable, error) {
	if requestor != nil {
		if v, ok := c.coord.CurrentValueIfOwnedBy(requestor); ok {
			return v.(transfer.Transferable), nil
		}
	}
	return transfer.Snapshot(ctx, c.m, requestorName(requestor), c.deps)
}

// Data is Contents followed by Get(f).
func (c *Clipboard) Data(ctx context.Context, requestor *owner.Context, f flavor.Flavor) (any, error) {
	t, err := c.Contents(ctx, requestor)
	if err != nil {
		return nil, err
	}
	if !t.IsSupported(f) {
		return nil, xferr.Unsupported(f.String())
	}
	return t.Get(f)
}

// AvailableFlavors lists the flavors the current contents can be read as
// without fetching any payload.
func (c *Clipboard) AvailableFlavors(ctx context.Context) ([]flavor.Flavor, error) {
	formats, err := c.formats(ctx)
	if err != nil {
		return nil, err
	}
	return resolve.FlavorsForFormatsAsSlice(formats, c.deps.Table, c.deps.Registry), nil
}

// IsFlavorAvailable reports whether the current contents can be read as f.
func (c *Clipboard) IsFlavorAvailable(ctx context.Context, f flavor.Flavor) (bool, error) {
	formats, err := c.formats(ctx)
	if err != nil {
		return false, err
	}
	_, ok := resolve.FlavorsForFormatsAsSet(formats, c.deps.Table, c.deps.Registry)[f]
	return ok, nil
}

func (c *Clipboard) formats(ctx context.Context) ([]format.Native, error) {
	sess, err := c.m.Open(ctx, c.name)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	names, err := sess.Formats()
	if err != nil {
		return nil, &xferr.Error{Kind: xferr.ErrTransferFailed, Err: fmt.Errorf("list formats: %w", err)}
	}
	return c.natives(names), nil
}

func (c *Clipboard) natives(names []string) []format.Native {
	out := make([]format.Native, len(names))
	for i, name := range names {
		out[i] = c.deps.Registry.FormatFor(name)
	}
	return out
}

// Owner returns the context that owns the medium, if any.
func (c *Clipboard) Owner() (*owner.Context, bool) { return c.coord.Owner() }

// Clear drops ownership; the owner is notified with cause.
func (c *Clipboard) Clear(cause error) bool { return c.coord.Clear(cause) }

// AddFlavorListener registers fn to be called on ctx when the set of native
// formats on the medium changes. Changes are only observed while Watch runs.
func (c *Clipboard) AddFlavorListener(ctx *owner.Context, fn func(owner.FlavorEvent)) owner.ListenerID {
	return c.notifier.AddListener(ctx, fn)
}

func (c *Clipboard) RemoveFlavorListener(id owner.ListenerID) { c.notifier.RemoveListener(id) }

// Watch feeds medium changes to the flavor listeners until ctx is done. The
// current format set is checked once before the first change arrives.
func (c *Clipboard) Watch(ctx context.Context) error {
	w, ok := c.m.(medium.Watcher)
	if !ok {
		return ErrNotWatchable
	}
	ch, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", c.name, err)
	}
	if formats, err := c.formats(ctx); err == nil {
		c.notifier.CheckAndNotify(formats)
	} else {
		slog.Warn("initial format check failed", "clipboard", c.name, "err", err)
	}
	for names := range ch {
		if c.notifier.CheckAndNotify(c.natives(names)) {
			slog.Debug("clipboard formats changed", "clipboard", c.name, "formats", names)
		}
	}
	return ctx.Err()
}

func requestorName(ctx *owner.Context) string {
	if ctx == nil {
		return "anonymous"
	}
	return ctx.ID()
}
