package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/objser"
	"go.klb.dev/clipxfer/internal/xferr"
)

type point struct {
	X, Y  int
	Label string
}

func copier(t *testing.T) *objser.Registry {
	t.Helper()
	r, err := objser.NewRegistry()
	require.NoError(t, err)
	objser.Register[*point](r.Default(), "demo.Point")
	return r
}

func TestProxy_LocalObjectCopiesAreIsolated(t *testing.T) {
	f := flavor.ObjectFlavor("demo.Point")
	orig := &point{X: 1, Y: 2, Label: "p"}
	p := NewProxy(Object("demo.Point", orig), true, copier(t))

	a, err := p.Get(f)
	require.NoError(t, err)
	b, err := p.Get(f)
	require.NoError(t, err)

	pa, pb := a.(*point), b.(*point)
	assert.Equal(t, pa, pb)
	assert.NotSame(t, pa, pb)
	assert.NotSame(t, orig, pa)

	pa.Label = "changed"
	assert.Equal(t, "p", pb.Label)
	assert.Equal(t, "p", orig.Label)
}

func TestProxy_NonLocalAndNonObjectPassThrough(t *testing.T) {
	f := flavor.ObjectFlavor("demo.Point")
	orig := &point{X: 1}

	v, err := NewProxy(Object("demo.Point", orig), false, nil).Get(f)
	require.NoError(t, err)
	assert.Same(t, orig, v)

	src := Text("hi")
	v, err = NewProxy(src, true, copier(t)).Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestProxy_CopyFailure(t *testing.T) {
	type unregistered struct{ A int }
	f := flavor.ObjectFlavor("demo.Unknown")
	p := NewProxy(NewValues().Add(f, &unregistered{A: 1}), true, copier(t))

	_, err := p.Get(f)
	assert.ErrorIs(t, err, objser.ErrUnresolvedType)

	_, err = p.Get(flavor.PlainString)
	assert.ErrorIs(t, err, xferr.ErrUnsupportedFlavor)
}

func TestValues(t *testing.T) {
	v := Text("hi").Add(flavor.Files, []string{"/a"}).Add(flavor.PlainString, "again")

	assert.Equal(t, []flavor.Flavor{flavor.PlainString, flavor.Files}, v.Preferred())
	assert.Equal(t, []flavor.Flavor{flavor.Files, flavor.PlainString}, v.Flavors())

	s, err := v.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "again", s)
	assert.False(t, v.IsSupported(flavor.Picture))
}
