package clip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/xferr"
)

type fakeBackend struct {
	mu      sync.Mutex
	items   []medium.Item
	readErr error
	watchCh chan struct{}
}

func newFake(items ...medium.Item) *fakeBackend {
	return &fakeBackend{items: items, watchCh: make(chan struct{}, 1)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Read() ([]medium.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]medium.Item(nil), b.items...), b.readErr
}

func (b *fakeBackend) Write(items []medium.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(items) > 0 {
		b.items = items[:1]
	}
	return nil
}

func (b *fakeBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *fakeBackend) Close()                 {}

func (b *fakeBackend) set(items ...medium.Item) {
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	b.watchCh <- struct{}{}
}

func TestMedium_SessionServesSnapshot(t *testing.T) {
	b := newFake(medium.Item{Name: NativeText, Data: []byte("first")})
	m := NewMedium(b)

	s, err := m.Open(t.Context(), "reader")
	require.NoError(t, err)
	b.items = []medium.Item{{Name: NativeText, Data: []byte("second")}}

	formats, err := s.Formats()
	require.NoError(t, err)
	assert.Equal(t, []string{NativeText}, formats)
	data, err := s.Fetch(NativeText)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	_, err = s.Fetch(NativeImage)
	assert.Error(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Formats()
	assert.Error(t, err)
}

func TestMedium_OpenIsExclusive(t *testing.T) {
	m := NewMedium(newFake())
	s, err := m.Open(t.Context(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Open(ctx, "b")
	assert.ErrorIs(t, err, xferr.ErrResourceUnavailable)

	require.NoError(t, s.Close())
	s, err = m.Open(t.Context(), "b")
	require.NoError(t, err)
	s.Close()
}

func TestMedium_ReadFailureReleasesLock(t *testing.T) {
	b := newFake()
	b.readErr = errors.New("display gone")
	m := NewMedium(b)

	_, err := m.Open(t.Context(), "a")
	assert.ErrorIs(t, err, xferr.ErrResourceUnavailable)

	b.readErr = nil
	s, err := m.Open(t.Context(), "a")
	require.NoError(t, err)
	s.Close()
}

func TestMedium_PublishKeepsSupportedNatives(t *testing.T) {
	b := newFake()
	m := NewMedium(b)

	err := m.Publish(t.Context(), medium.Static{
		{Name: "text/html", Data: []byte("<b>x</b>")},
		{Name: NativeText, Data: []byte("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, []medium.Item{{Name: NativeText, Data: []byte("x")}}, b.items)

	err = m.Publish(t.Context(), medium.Static{{Name: "text/html", Data: []byte("<b>x</b>")}})
	assert.Error(t, err)
}

func TestMedium_Watch(t *testing.T) {
	b := newFake()
	m := NewMedium(b)
	ctx, cancel := context.WithCancel(t.Context())
	ch, err := m.Watch(ctx)
	require.NoError(t, err)

	b.set(medium.Item{Name: NativeImage, Data: []byte{0x89}})
	select {
	case formats := <-ch:
		assert.Equal(t, []string{NativeImage}, formats)
	case <-time.After(time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(NativeText))
	assert.True(t, Supported(NativeImage))
	assert.False(t, Supported("text/html"))
}
