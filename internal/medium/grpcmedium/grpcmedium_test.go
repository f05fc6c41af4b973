package grpcmedium

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipxfer/internal/daemon"
	"go.klb.dev/clipxfer/internal/grpcservice"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/medium/ipcmedium"
	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/tlsconf"
	"go.klb.dev/clipxfer/internal/xferr"
)

// startDaemon serves a daemon's wire and gRPC protocols on one loopback
// listener and returns the daemon and the address to dial.
func startDaemon(t *testing.T, token string, wrap func(net.Listener) net.Listener) (*daemon.Server, string) {
	t.Helper()
	srv, err := daemon.New(token)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	if wrap != nil {
		ln = wrap(ln)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- grpcservice.Serve(ctx, ln, srv, token) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return srv, addr
}

func newMedium(t *testing.T, addr string, cfg *tls.Config, token string) *Medium {
	t.Helper()
	conn, err := Dial(addr, cfg, token, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, WithSource(t.Name()))
}

func TestMedium_PublishAndFetch(t *testing.T) {
	srv, addr := startDaemon(t, "", nil)
	m := newMedium(t, addr, nil, "")

	require.NoError(t, m.Publish(t.Context(), medium.Static{
		{Name: "UTF8_STRING", Data: []byte("hi")},
		{Name: "text/html", Data: []byte("<b>hi</b>")},
	}))

	sess, err := m.Open(t.Context(), "reader")
	require.NoError(t, err)
	formats, err := sess.Formats()
	require.NoError(t, err)
	assert.Equal(t, []string{"UTF8_STRING", "text/html"}, formats)

	b, err := sess.Fetch("text/html")
	require.NoError(t, err)
	assert.Equal(t, "<b>hi</b>", string(b))

	_, err = sess.Fetch("image/png")
	assert.Error(t, err)

	holder, held := srv.Medium(message.DefaultClipboard).Holder()
	assert.True(t, held)
	assert.Equal(t, "reader", holder)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	_, held = srv.Medium(message.DefaultClipboard).Holder()
	assert.False(t, held)

	_, err = sess.Fetch("UTF8_STRING")
	assert.Error(t, err)
}

func TestMedium_SessionIsExclusive(t *testing.T) {
	_, addr := startDaemon(t, "", nil)
	m := newMedium(t, addr, nil, "")

	first, err := m.Open(t.Context(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	_, err = m.Open(ctx, "second")
	assert.ErrorIs(t, err, xferr.ErrResourceUnavailable)

	require.NoError(t, first.Close())
	again, err := m.Open(t.Context(), "second")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestMedium_WrongTokenRejected(t *testing.T) {
	_, addr := startDaemon(t, "right", nil)
	m := newMedium(t, addr, nil, "wrong")

	err := m.Publish(t.Context(), medium.Static{{Name: "UTF8_STRING", Data: []byte("x")}})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestMedium_Watch(t *testing.T) {
	_, addr := startDaemon(t, "", nil)
	m := newMedium(t, addr, nil, "")

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := m.Watch(ctx)
	require.NoError(t, err)

	// The watch stream is registered asynchronously; publish until it shows.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for got := false; !got; {
		select {
		case formats := <-ch:
			assert.Equal(t, []string{"UTF8_STRING"}, formats)
			got = true
		case <-tick.C:
			require.NoError(t, m.Publish(t.Context(), medium.Static{{Name: "UTF8_STRING", Data: []byte("w")}}))
		case <-deadline:
			t.Fatal("no change delivered")
		}
	}

	cancel()
	for range ch {
	}
}

func TestServe_WireAndGRPCShareOnePort(t *testing.T) {
	const token = "s3cret"
	srv, addr := startDaemon(t, token, nil)

	wire, err := ipcmedium.New(
		ipcmedium.WithSocket(addr),
		ipcmedium.WithToken(token),
		ipcmedium.WithDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}),
	)
	require.NoError(t, err)
	require.NoError(t, wire.Publish(t.Context(), medium.Static{{Name: "UTF8_STRING", Data: []byte("over wire")}}))

	rpc := newMedium(t, addr, nil, token)
	items, err := medium.ReadAll(t.Context(), rpc, "reader")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "over wire", string(items[0].Data))

	resp, err := rpc.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, message.TypeStatusResponse, resp.Type)
	assert.Equal(t, srv.Clipboards(), resp.Clipboards)
}

func TestServe_OverTLS(t *testing.T) {
	serverCfg, clientCfg, err := tlsconf.Configs("tls-token")
	require.NoError(t, err)
	_, addr := startDaemon(t, "tls-token", func(ln net.Listener) net.Listener {
		return tls.NewListener(ln, serverCfg)
	})

	rpc := newMedium(t, addr, clientCfg, "tls-token")
	require.NoError(t, rpc.Publish(t.Context(), medium.Static{{Name: "UTF8_STRING", Data: []byte("sealed")}}))

	wire, err := ipcmedium.New(ipcmedium.WithToken("tls-token"), ipcmedium.WithTCP(addr, clientCfg))
	require.NoError(t, err)
	items, err := medium.ReadAll(t.Context(), wire, "reader")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sealed", string(items[0].Data))
}
