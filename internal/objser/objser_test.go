package objser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/clipxfer/internal/flavor"
)

type point struct {
	X, Y int
	Tags []string
}

type legacyPoint struct {
	X, Y int
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestCopy_PointerValueIsDistinct(t *testing.T) {
	r := newRegistry(t)
	Register[*point](r.Default(), "demo.Point")
	f := flavor.ObjectFlavor("demo.Point")

	orig := &point{X: 1, Y: 2, Tags: []string{"a"}}
	v, err := r.Copy(orig, f)
	require.NoError(t, err)

	cp, ok := v.(*point)
	require.True(t, ok)
	assert.Equal(t, orig, cp)
	assert.NotSame(t, orig, cp)

	cp.Tags[0] = "changed"
	assert.Equal(t, "a", orig.Tags[0])
}

func TestCopy_ValueType(t *testing.T) {
	r := newRegistry(t)
	Register[point](r.Default(), "demo.Point")

	v, err := r.Copy(point{X: 3}, flavor.ObjectFlavor("demo.Point"))
	require.NoError(t, err)
	assert.Equal(t, point{X: 3}, v)
}

func TestCopy_Unregistered(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Copy(&point{}, flavor.ObjectFlavor("demo.Point"))
	assert.ErrorIs(t, err, ErrUnresolvedType)
}

func TestDeserialize_UnknownClass(t *testing.T) {
	r := newRegistry(t)
	Register[*point](r.Default(), "demo.Point")
	b, err := r.Serialize(&point{}, flavor.ObjectFlavor("demo.Point"))
	require.NoError(t, err)

	other := newRegistry(t)
	_, err = other.Deserialize(b, flavor.ObjectFlavor("demo.Point"))
	assert.ErrorIs(t, err, ErrUnresolvedType)

	_, err = other.Deserialize([]byte{0xff}, flavor.ObjectFlavor("demo.Point"))
	assert.Error(t, err)
}

func TestDomains_OriginIsSticky(t *testing.T) {
	r := newRegistry(t)
	plugin := r.Domain("plugin")
	Register[*point](plugin, "plugin.Point")
	Register[*legacyPoint](r.Default(), "demo.Point")
	Register[*point](r.Default(), "demo.Point2")

	// The class hint selects the plugin registration on first use.
	b, err := r.Serialize(&point{X: 1}, flavor.ObjectFlavor("plugin.Point"))
	require.NoError(t, err)
	v, err := r.Deserialize(b, flavor.Flavor{})
	require.NoError(t, err)
	assert.IsType(t, &point{}, v)

	// Later serializations of the type stay in the plugin domain, even with a
	// hint naming the default domain's registration.
	b, err = r.Serialize(&point{X: 2}, flavor.ObjectFlavor("demo.Point2"))
	require.NoError(t, err)
	var env envelope
	require.NoError(t, r.dec.Unmarshal(b, &env))
	assert.Equal(t, "plugin", env.Domain)
	assert.Equal(t, "plugin.Point", env.Class)
}

func TestCopy_ProtoMessage(t *testing.T) {
	r := newRegistry(t)
	Register[*wrapperspb.StringValue](r.Default(), "google.protobuf.StringValue")
	orig := wrapperspb.String("hello")

	v, err := r.Copy(orig, flavor.ObjectFlavor("google.protobuf.StringValue"))
	require.NoError(t, err)
	cp, ok := v.(*wrapperspb.StringValue)
	require.True(t, ok)
	assert.True(t, proto.Equal(orig, cp))
	assert.NotSame(t, orig, cp)
}
