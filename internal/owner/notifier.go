package owner

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"go.klb.dev/clipxfer/internal/format"
)

// FlavorEvent reports that the set of native formats on a medium changed.
type FlavorEvent struct {
	Formats []format.Native
}

// ListenerID identifies a registered listener.
type ListenerID uint64

type listener struct {
	ctx *Context
	fn  func(FlavorEvent)
}

// Notifier delivers FlavorEvents to listeners on their own contexts. Delivery
// never blocks the caller of CheckAndNotify; listeners whose context has
// been disposed are dropped.
type Notifier struct {
	mu        sync.Mutex
	listeners map[ListenerID]listener
	next      ListenerID
	last      []format.Native
	seen      bool
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[ListenerID]listener)}
}

// AddListener registers fn to run on ctx whenever the format set changes.
func (n *Notifier) AddListener(ctx *Context, fn func(FlavorEvent)) ListenerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.listeners[n.next] = listener{ctx: ctx, fn: fn}
	slog.Debug("flavor listener added", "listener", n.next, "context", ctx.ID(), "total", len(n.listeners))
	return n.next
}

// RemoveListener unregisters id. Unknown ids are ignored.
func (n *Notifier) RemoveListener(id ListenerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, id)
}

// Listeners returns the number of registered listeners.
func (n *Notifier) Listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// CheckAndNotify compares formats with the set seen on the previous call and
// notifies every listener if it differs. The first call always notifies. It
// reports whether a change was detected.
func (n *Notifier) CheckAndNotify(formats []format.Native) bool {
	current := slices.Sorted(slices.Values(formats))
	current = slices.Compact(current)

	n.mu.Lock()
	if n.seen && slices.Equal(n.last, current) {
		n.mu.Unlock()
		return false
	}
	n.last, n.seen = current, true
	targets := make(map[ListenerID]listener, len(n.listeners))
	for id, l := range n.listeners {
		targets[id] = l
	}
	n.mu.Unlock()

	for id, l := range targets {
		ev := FlavorEvent{Formats: slices.Clone(current)}
		fn := l.fn
		if !l.ctx.Exec(func(context.Context) { fn(ev) }) {
			slog.Debug("dropping flavor event for disposed context", "listener", id, "context", l.ctx.ID())
			n.RemoveListener(id)
		}
	}
	return true
}
