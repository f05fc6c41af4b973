package medium

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.klb.dev/clipxfer/internal/xferr"
)

var errSessionClosed = errors.New("medium session closed")

// Memory is an in-process medium with lazy rendering. Each published
// renderer is asked for a format at most once; later fetches of the same
// contents reuse the result.
type Memory struct {
	lock chan struct{}

	mu      sync.Mutex
	current *contents
	holder  string
	subs    map[int]chan []string
	nextSub int
}

type contents struct {
	r       Renderer
	formats []string

	mu    sync.Mutex
	cache map[string][]byte
}

// NewMemory returns an empty medium.
func NewMemory() *Memory {
	return &Memory{
		lock: make(chan struct{}, 1),
		subs: make(map[int]chan []string),
	}
}

func (m *Memory) Open(ctx context.Context, requestor string) (Session, error) {
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: ctx.Err()}
	}
	m.mu.Lock()
	c := m.current
	m.holder = requestor
	m.mu.Unlock()
	return &memSession{m: m, c: c, ctx: ctx}, nil
}

// Holder returns the requestor of the open session, if any.
func (m *Memory) Holder() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder, m.holder != ""
}

func (m *Memory) Publish(_ context.Context, r Renderer) error {
	c := &contents{r: r, formats: r.Formats(), cache: make(map[string][]byte)}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = c
	for _, ch := range m.subs {
		offer(ch, slices.Clone(c.formats))
	}
	return nil
}

// Formats returns the format list of the current contents without opening
// a session.
func (m *Memory) Formats() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return slices.Clone(m.current.formats)
}

// Clear empties the medium.
func (m *Memory) Clear() {
	_ = m.Publish(context.Background(), Static(nil))
}

// offer delivers formats without blocking, replacing an undelivered value.
func offer(ch chan []string, formats []string) {
	select {
	case ch <- formats:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- formats:
	default:
	}
}

func (m *Memory) Watch(ctx context.Context) (<-chan []string, error) {
	ch := make(chan []string, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

type memSession struct {
	m    *Memory
	c    *contents
	ctx  context.Context
	once sync.Once

	mu     sync.Mutex
	closed bool
}

func (s *memSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memSession) Formats() ([]string, error) {
	if s.isClosed() {
		return nil, errSessionClosed
	}
	if s.c == nil {
		return nil, nil
	}
	return slices.Clone(s.c.formats), nil
}

func (s *memSession) Fetch(name string) ([]byte, error) {
	if s.isClosed() {
		return nil, errSessionClosed
	}
	if s.c == nil || !slices.Contains(s.c.formats, name) {
		return nil, fmt.Errorf("format %s not available", name)
	}
	return s.c.fetch(s.ctx, name)
}

func (c *contents) fetch(ctx context.Context, name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.cache[name]; ok {
		return slices.Clone(b), nil
	}
	b, err := c.r.Render(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	c.cache[name] = b
	return slices.Clone(b), nil
}

func (s *memSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.m.mu.Lock()
		s.m.holder = ""
		s.m.mu.Unlock()
		<-s.m.lock
	})
	return nil
}
