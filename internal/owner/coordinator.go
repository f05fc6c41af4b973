package owner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrOwnershipReplaced is the cause reported to an owner whose contents were
// replaced by another context.
var ErrOwnershipReplaced = errors.New("contents replaced by another owner")

// LostFunc is told that value is no longer on the medium.
type LostFunc func(value any, cause error)

// Coordinator records the owner of one medium. Lost-ownership callbacks run
// on the old owner's task queue, never on the goroutine that caused the
// loss, and never under the coordinator's lock. A callback whose context is
// already gone runs on a fresh goroutine instead.
type Coordinator struct {
	mu     sync.Mutex
	owner  *Context
	value  any
	onLost LostFunc
	gen    uint64
	stop   func()
}

func NewCoordinator() *Coordinator { return &Coordinator{} }

// Publish makes ctx the owner of value. A previous owner other than ctx is
// told asynchronously that it lost ownership. If ctx is disposed before
// anything else is published, ownership is cleared with
// ErrContextDisposed as the cause.
func (co *Coordinator) Publish(ctx *Context, value any, onLost LostFunc) {
	co.mu.Lock()
	prev, prevValue, prevLost, prevStop := co.owner, co.value, co.onLost, co.stop
	co.owner, co.value, co.onLost = ctx, value, onLost
	co.gen++
	co.stop = co.watch(ctx, co.gen)
	co.mu.Unlock()

	if prevStop != nil {
		prevStop()
	}
	if prev != nil && prev != ctx {
		notifyLost(prev, prevLost, prevValue, ErrOwnershipReplaced)
	}
}

// CurrentValueIfOwnedBy returns the published value when ctx is the owner.
func (co *Coordinator) CurrentValueIfOwnedBy(ctx *Context) (any, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.owner == nil || co.owner != ctx {
		return nil, false
	}
	return co.value, true
}

// Owner returns the owning context, if any.
func (co *Coordinator) Owner() (*Context, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.owner, co.owner != nil
}

// Clear drops ownership and notifies the owner with cause. It reports
// whether there was an owner; of several concurrent calls only one does.
func (co *Coordinator) Clear(cause error) bool {
	co.mu.Lock()
	return co.clearLocked(cause)
}

// ClearIfOwnedBy is Clear restricted to the case where ctx is the owner.
func (co *Coordinator) ClearIfOwnedBy(ctx *Context, cause error) bool {
	co.mu.Lock()
	if co.owner != ctx {
		co.mu.Unlock()
		return false
	}
	return co.clearLocked(cause)
}

// clearLocked is entered with co.mu held and releases it.
func (co *Coordinator) clearLocked(cause error) bool {
	prev, prevValue, prevLost, prevStop := co.owner, co.value, co.onLost, co.stop
	if prev == nil {
		co.mu.Unlock()
		return false
	}
	co.owner, co.value, co.onLost, co.stop = nil, nil, nil, nil
	co.gen++
	co.mu.Unlock()

	if prevStop != nil {
		prevStop()
	}
	notifyLost(prev, prevLost, prevValue, cause)
	return true
}

func (co *Coordinator) watch(ctx *Context, gen uint64) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			co.mu.Lock()
			if co.gen != gen {
				co.mu.Unlock()
				return
			}
			slog.Debug("owner disposed, clearing ownership", "owner", ctx.ID())
			co.clearLocked(ErrContextDisposed)
		case <-stop:
		}
	}()
	return sync.OnceFunc(func() { close(stop) })
}

func notifyLost(owner *Context, fn LostFunc, value any, cause error) {
	if fn == nil {
		return
	}
	if owner.Exec(func(context.Context) { fn(value, cause) }) {
		return
	}
	go fn(value, cause)
}
