package bridge

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/medium"
)

// narrow keeps only the first format it is given, like the system clipboard.
type narrow struct{ *medium.Memory }

func (n narrow) Publish(ctx context.Context, r medium.Renderer) error {
	items := medium.RenderAll(ctx, r)
	return n.Memory.Publish(ctx, medium.Static(items[:min(1, len(items))]))
}

func contents(t *testing.T, m medium.Medium) []medium.Item {
	t.Helper()
	items, err := medium.ReadAll(t.Context(), m, "test")
	require.NoError(t, err)
	return items
}

func TestBridge_MirrorsBothWays(t *testing.T) {
	a, b := medium.NewMemory(), medium.NewMemory()
	br := New(Endpoint{Name: "a", Medium: a}, Endpoint{Name: "b", Medium: b})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	first := medium.Static{{Name: "UTF8_STRING", Data: []byte("from a")}}
	// Watches register asynchronously; republish until the copy lands.
	require.Eventually(t, func() bool {
		_ = a.Publish(t.Context(), first)
		return medium.SameItems(first, contents(t, b))
	}, 2*time.Second, 20*time.Millisecond)

	second := medium.Static{{Name: "UTF8_STRING", Data: []byte("from b")}}
	require.NoError(t, b.Publish(t.Context(), second))
	assert.Eventually(t, func() bool { return medium.SameItems(second, contents(t, a)) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, br.LastSeen().IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_NarrowSideDoesNotEchoBack(t *testing.T) {
	rich, system := medium.NewMemory(), narrow{medium.NewMemory()}
	br := New(Endpoint{Name: "daemon", Medium: rich}, Endpoint{Name: "system", Medium: system})
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = br.Run(ctx) }()

	full := medium.Static{
		{Name: "UTF8_STRING", Data: []byte("x")},
		{Name: "text/html", Data: []byte("<b>x</b>")},
	}
	require.Eventually(t, func() bool {
		if len(contents(t, system)) == 0 {
			_ = rich.Publish(t.Context(), full)
		}
		return len(contents(t, system)) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// The system side's narrower copy must not replace the richer original.
	time.Sleep(100 * time.Millisecond)
	got := contents(t, rich)
	assert.True(t, slices.ContainsFunc(got, func(it medium.Item) bool { return it.Name == "text/html" }))
}
