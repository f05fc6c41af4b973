package redismedium

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/codec"
	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/flavormap"
	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/transfer"
	"go.klb.dev/clipxfer/internal/xferr"
)

func newMedium(t *testing.T, opts ...Option) (*Medium, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, opts...), mr
}

var sample = medium.Static{
	{Name: "UTF8_STRING", Data: []byte("hello")},
	{Name: "text/html", Data: []byte("<p>hello</p>")},
}

func TestMedium_PublishAndFetch(t *testing.T) {
	m, mr := newMedium(t)
	require.NoError(t, m.Publish(t.Context(), sample))

	s, err := m.Open(t.Context(), "reader")
	require.NoError(t, err)
	defer s.Close()

	formats, err := s.Formats()
	require.NoError(t, err)
	assert.Equal(t, []string{"UTF8_STRING", "text/html"}, formats)

	b, err := s.Fetch("text/html")
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", string(b))

	_, err = s.Fetch("image/png")
	assert.Error(t, err)

	assert.True(t, mr.Exists("clipxfer:lock"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, mr.Exists("clipxfer:lock"))
}

func TestMedium_RepublishReplacesContents(t *testing.T) {
	m, _ := newMedium(t)
	require.NoError(t, m.Publish(t.Context(), sample))
	require.NoError(t, m.Publish(t.Context(), medium.Static{{Name: "image/png", Data: []byte{1}}}))

	s, err := m.Open(t.Context(), "reader")
	require.NoError(t, err)
	defer s.Close()
	formats, err := s.Formats()
	require.NoError(t, err)
	assert.Equal(t, []string{"image/png"}, formats)
	_, err = s.Fetch("UTF8_STRING")
	assert.Error(t, err)
}

func TestMedium_OpenIsExclusive(t *testing.T) {
	m, _ := newMedium(t, WithRetryInterval(5*time.Millisecond))
	s, err := m.Open(t.Context(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err = m.Open(ctx, "b")
	assert.ErrorIs(t, err, xferr.ErrResourceUnavailable)

	require.NoError(t, s.Close())
	s, err = m.Open(t.Context(), "b")
	require.NoError(t, err)
	s.Close()
}

func TestMedium_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	m, mr := newMedium(t, WithLockTTL(time.Second))
	old, err := m.Open(t.Context(), "slow")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	current, err := m.Open(t.Context(), "fast")
	require.NoError(t, err)

	require.NoError(t, old.Close())
	assert.True(t, mr.Exists("clipxfer:lock"), "old holder released the new holder's lock")
	require.NoError(t, current.Close())
	assert.False(t, mr.Exists("clipxfer:lock"))
}

func TestMedium_PrefixesAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	a, b := New(rdb, WithPrefix("a")), New(rdb, WithPrefix("b"))

	require.NoError(t, a.Publish(t.Context(), sample))
	s, err := b.Open(t.Context(), "reader")
	require.NoError(t, err)
	defer s.Close()
	formats, err := s.Formats()
	require.NoError(t, err)
	assert.Empty(t, formats)
}

func TestMedium_Watch(t *testing.T) {
	m, _ := newMedium(t)
	ctx, cancel := context.WithCancel(t.Context())
	ch, err := m.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Publish(t.Context(), sample))
	select {
	case formats := <-ch:
		assert.Equal(t, []string{"UTF8_STRING", "text/html"}, formats)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMedium_SnapshotTranslates(t *testing.T) {
	m, _ := newMedium(t)
	require.NoError(t, m.Publish(t.Context(), sample))

	reg := format.NewRegistry()
	table, err := flavormap.LoadDefault(reg)
	require.NoError(t, err)
	c, err := transfer.Snapshot(t.Context(), m, "reader", transfer.Deps{Registry: reg, Table: table, Codec: codec.New(reg)})
	require.NoError(t, err)

	v, err := c.Get(flavor.PlainString)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}
