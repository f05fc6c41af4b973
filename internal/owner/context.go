// Package owner tracks which execution context owns the contents of a
// transfer medium and delivers ownership and flavor-change notifications to
// the contexts that asked for them.
package owner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrContextDisposed is the cause reported when an owning context is torn
// down, and the error returned for work handed to a disposed context.
var ErrContextDisposed = errors.New("execution context disposed")

type ctxKey struct{}

// Context is a logical execution context: an identity and a serial task
// queue. Tasks run one at a time on the context's own goroutine, in the
// order they were queued. Tasks still queued at Dispose are dropped.
//
// Render requests from RenderOn travel on a separate channel. They are served
// between tasks, and by any RenderOn call made from this context while it
// waits on another one.
type Context struct {
	id     string
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []func(context.Context)
	disposed bool
	wake     chan struct{}

	renders chan func(context.Context)
	busy    atomic.Bool
}

// NewContext starts a context whose lifetime is bounded by parent.
func NewContext(parent context.Context) *Context {
	c := &Context{
		id:      uuid.NewString(),
		wake:    make(chan struct{}, 1),
		renders: make(chan func(context.Context)),
	}
	c.base, c.cancel = context.WithCancel(context.WithValue(parent, ctxKey{}, c))
	go c.run()
	return c
}

// FromContext returns the Context whose queue is running ctx's task.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}

func (c *Context) ID() string { return c.id }

func (c *Context) String() string { return c.id }

// Done is closed when the context is disposed.
func (c *Context) Done() <-chan struct{} { return c.base.Done() }

// Exec queues fn. It reports false, and drops fn, if the context has been
// disposed. fn receives a context.Context carrying this Context.
func (c *Context) Exec(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Dispose tears the context down. It is safe to call more than once.
func (c *Context) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.queue = nil
	c.mu.Unlock()
	c.cancel()
}

func (c *Context) next() func(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 || c.disposed {
		return nil
	}
	fn := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return fn
}

func (c *Context) run() {
	for {
		select {
		case <-c.base.Done():
			return
		case fn := <-c.renders:
			c.do(fn)
		case <-c.wake:
			for fn := c.next(); fn != nil; fn = c.next() {
				c.do(fn)
				c.serveRenders()
			}
		}
	}
}

// do runs fn on the context's goroutine with busy set.
func (c *Context) do(fn func(context.Context)) {
	c.busy.Store(true)
	defer c.busy.Store(false)
	fn(c.base)
}

// serveRenders runs the render requests already waiting, without blocking.
func (c *Context) serveRenders() {
	for {
		select {
		case fn := <-c.renders:
			c.do(fn)
		default:
			return
		}
	}
}
