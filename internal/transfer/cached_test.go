package transfer

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/codec"
	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/flavormap"
	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/xferr"
)

type mockMedium struct{ mock.Mock }

func (m *mockMedium) Open(ctx context.Context, requestor string) (medium.Session, error) {
	args := m.Called(ctx, requestor)
	s, _ := args.Get(0).(medium.Session)
	return s, args.Error(1)
}

func (m *mockMedium) Publish(ctx context.Context, r medium.Renderer) error {
	return m.Called(ctx, r).Error(0)
}

type mockSession struct{ mock.Mock }

func (s *mockSession) Formats() ([]string, error) {
	args := s.Called()
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (s *mockSession) Fetch(name string) ([]byte, error) {
	args := s.Called(name)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (s *mockSession) Close() error { return s.Called().Error(0) }

func testDeps(t *testing.T) Deps {
	t.Helper()
	reg := format.NewRegistry()
	table, err := flavormap.LoadDefault(reg)
	require.NoError(t, err)
	return Deps{Registry: reg, Table: table, Codec: codec.New(reg)}
}

func openWith(t *testing.T, sess *mockSession) *mockMedium {
	t.Helper()
	m := &mockMedium{}
	m.On("Open", mock.Anything, "reader").Return(sess, nil).Once()
	sess.On("Close").Return(nil).Once()
	t.Cleanup(func() {
		m.AssertExpectations(t)
		sess.AssertExpectations(t)
	})
	return m
}

func TestSnapshot_FetchesSharedFormatOnce(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"UTF8_STRING"}, nil)
	sess.On("Fetch", "UTF8_STRING").Return([]byte("hi"), nil)
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)
	sess.AssertNumberOfCalls(t, "Fetch", 1)

	// Several flavors render from the single payload.
	s, err := c.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	runes, err := c.Get(flavor.PlainString.WithRepr(flavor.Runes))
	require.NoError(t, err)
	assert.Equal(t, []rune("hi"), runes)
	assert.Equal(t, []string{"UTF8_STRING"}, c.Natives())
}

func TestSnapshot_CachedFetchFailure(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"UTF8_STRING", "image/png"}, nil)
	sess.On("Fetch", "UTF8_STRING").Return([]byte("hi"), nil)
	sess.On("Fetch", "image/png").Return(nil, errors.New("owner went away"))
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)

	assert.True(t, c.IsSupported(flavor.Picture))
	assert.Contains(t, c.Flavors(), flavor.Picture)
	for range 3 {
		v, err := c.Get(flavor.Picture)
		assert.Nil(t, v)
		assert.Equal(t, xferr.ErrTransferFailed, xferr.KindOf(err))
		assert.ErrorContains(t, err, "owner went away")
	}
	sess.AssertNumberOfCalls(t, "Fetch", 2)

	s, err := c.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
}

func TestSnapshot_FetchFailureNamesRequestedFlavor(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"UTF8_STRING"}, nil)
	sess.On("Fetch", "UTF8_STRING").Return(nil, errors.New("owner went away"))
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)

	flavors := c.Flavors()
	require.Greater(t, len(flavors), 1)
	require.Contains(t, flavors, flavor.PlainString)
	for _, f := range flavors {
		_, err := c.Get(f)
		var xe *xferr.Error
		require.ErrorAs(t, err, &xe)
		assert.Equal(t, f.String(), xe.Flavor)
		assert.Equal(t, "UTF8_STRING", xe.Format)
		assert.ErrorContains(t, err, "owner went away")
	}
	sess.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestSnapshot_PanickingFetchIsCaptured(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"image/png", "UTF8_STRING"}, nil)
	sess.On("Fetch", "image/png").Run(func(mock.Arguments) { panic("driver bug") })
	sess.On("Fetch", "UTF8_STRING").Return([]byte("ok"), nil)
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)

	_, err = c.Get(flavor.Picture)
	assert.ErrorIs(t, err, xferr.ErrTransferFailed)
	s, err := c.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}

func TestCached_UnsupportedFlavor(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"UTF8_STRING"}, nil)
	sess.On("Fetch", "UTF8_STRING").Return([]byte("hi"), nil)
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)

	for _, f := range []flavor.Flavor{flavor.Picture, flavor.Files, flavor.ObjectFlavor("demo.Point")} {
		require.NotContains(t, c.Flavors(), f)
		assert.False(t, c.IsSupported(f))
		v, err := c.Get(f)
		assert.Nil(t, v)
		assert.Equal(t, xferr.ErrUnsupportedFlavor, xferr.KindOf(err))
	}
}

func TestCached_MemoizesAndRerendersStreams(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"UTF8_STRING"}, nil)
	sess.On("Fetch", "UTF8_STRING").Return([]byte("hi"), nil)
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)

	runes := flavor.PlainString.WithRepr(flavor.Runes)
	a, err := c.Get(runes)
	require.NoError(t, err)
	b, err := c.Get(runes)
	require.NoError(t, err)
	assert.True(t, &a.([]rune)[0] == &b.([]rune)[0], "rendered value not memoized")

	reader := flavor.PlainString.WithRepr(flavor.Reader)
	for range 2 {
		v, err := c.Get(reader)
		require.NoError(t, err)
		out, err := io.ReadAll(v.(io.Reader))
		require.NoError(t, err)
		assert.Equal(t, "hi", string(out))
	}
}

func TestCached_LocaleDependentText(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return([]string{"CF_TEXT", "CLIPXFER_TEXT_ENCODING"}, nil)
	sess.On("Fetch", "CF_TEXT").Return([]byte{0xb9, 0}, nil)
	sess.On("Fetch", "CLIPXFER_TEXT_ENCODING").Return([]byte("iso-8859-2"), nil)
	m := openWith(t, sess)

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)

	s, err := c.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "š", s)
}

func TestSnapshot_OpenFailure(t *testing.T) {
	m := &mockMedium{}
	m.On("Open", mock.Anything, "reader").Return(nil, &xferr.Error{Kind: xferr.ErrResourceUnavailable})

	_, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	assert.ErrorIs(t, err, xferr.ErrResourceUnavailable)
	m.AssertExpectations(t)
}

func TestSnapshot_ListFailure(t *testing.T) {
	sess := &mockSession{}
	sess.On("Formats").Return(nil, errors.New("locked out"))
	m := openWith(t, sess)

	_, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	assert.ErrorIs(t, err, xferr.ErrTransferFailed)
}

func TestSnapshot_OverMemoryMedium(t *testing.T) {
	m := medium.NewMemory()
	require.NoError(t, m.Publish(t.Context(), medium.Static{
		{Name: "UTF8_STRING", Data: []byte("from memory")},
	}))

	c, err := Snapshot(t.Context(), m, "reader", testDeps(t))
	require.NoError(t, err)
	s, err := c.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "from memory", s)

	// The medium was released.
	_, held := m.Holder()
	assert.False(t, held)
}
