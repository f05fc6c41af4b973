package clip

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/xferr"
)

// Medium adapts a Backend to medium.Medium. A session reads the clipboard
// once when it opens; publishing renders eagerly because the system
// clipboard cannot call back into this process.
type Medium struct {
	b    Backend
	lock chan struct{}
}

func NewMedium(b Backend) *Medium {
	return &Medium{b: b, lock: make(chan struct{}, 1)}
}

// Backend returns the underlying clipboard backend.
func (m *Medium) Backend() Backend { return m.b }

// Open snapshots the clipboard. The snapshot is what the session serves
// until it is closed.
func (m *Medium) Open(ctx context.Context, _ string) (medium.Session, error) {
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: ctx.Err()}
	}
	items, err := m.b.Read()
	if err != nil {
		<-m.lock
		return nil, &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: fmt.Errorf("read %s: %w", m.b.Name(), err)}
	}
	return &session{m: m, items: items}, nil
}

func (m *Medium) Publish(ctx context.Context, r medium.Renderer) error {
	items := medium.RenderAll(ctx, supportedOnly{r})
	if len(items) == 0 && len(r.Formats()) > 0 {
		return fmt.Errorf("%s accepts none of %v", m.b.Name(), r.Formats())
	}
	medium.LogItems("publishing to system clipboard", m.b.Name(), items)
	return m.b.Write(items)
}

// supportedOnly narrows a renderer to the natives the clipboard holds.
type supportedOnly struct{ medium.Renderer }

func (s supportedOnly) Formats() []string {
	return slices.DeleteFunc(s.Renderer.Formats(), func(n string) bool { return !Supported(n) })
}

// Watch forwards backend change signals as format lists.
func (m *Medium) Watch(ctx context.Context) (<-chan []string, error) {
	out := make(chan []string, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.b.Watch():
			}
			items, err := m.b.Read()
			if err != nil {
				continue
			}
			select {
			case out <- names(items):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func names(items []medium.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

var errClosed = errors.New("clipboard session closed")

type session struct {
	m     *Medium
	items []medium.Item

	mu     sync.Mutex
	closed bool
}

func (s *session) Formats() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	return names(s.items), nil
}

func (s *session) Fetch(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	for _, it := range s.items {
		if it.Name == name {
			return slices.Clone(it.Data), nil
		}
	}
	return nil, fmt.Errorf("format %s not on the clipboard", name)
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		<-s.m.lock
	}
	return nil
}
