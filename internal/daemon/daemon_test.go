package daemon

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/wire"
)

func serve(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string, key *[32]byte) *wire.Conn {
	t.Helper()
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c := wire.New(raw, key)
	t.Cleanup(func() { c.Close() })
	return c
}

func auth(token string) *message.Message {
	return &message.Message{
		Type:    message.TypeAuth,
		Source:  "test",
		Payload: base64.StdEncoding.EncodeToString([]byte(token)),
	}
}

func TestServer_MediumCreatedOnce(t *testing.T) {
	srv, err := New("")
	require.NoError(t, err)
	a := srv.Medium("work")
	assert.Same(t, a, srv.Medium("work"))
	srv.Medium("home")

	var names []string
	for _, cb := range srv.Clipboards() {
		names = append(names, cb.Name)
	}
	assert.Equal(t, []string{"home", "work"}, names)
}

func TestServer_RequiresAuthFirst(t *testing.T) {
	srv, err := New("")
	require.NoError(t, err)
	c := dial(t, serve(t, srv), nil)

	resp, err := c.Call(&message.Message{Type: message.TypePing})
	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestServer_WrongToken(t *testing.T) {
	srv, err := New("right")
	require.NoError(t, err)
	c := dial(t, serve(t, srv), srv.key)

	_, err = c.Call(auth("wrong"))
	assert.Error(t, err)
}

func TestServer_SameLengthWrongTokenRejected(t *testing.T) {
	srv, err := New("right")
	require.NoError(t, err)
	c := dial(t, serve(t, srv), srv.key)

	_, err = c.Call(auth("rigid"))
	assert.Error(t, err)
}

func TestServer_RightTokenAccepted(t *testing.T) {
	srv, err := New("right")
	require.NoError(t, err)
	c := dial(t, serve(t, srv), srv.key)

	_, err = c.Expect(auth("right"), message.TypeOK)
	assert.NoError(t, err)
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches([]byte("s3cret"), "s3cret"))
	assert.False(t, TokenMatches([]byte("s3creT"), "s3cret"))
	assert.False(t, TokenMatches([]byte("s3cre"), "s3cret"))
	assert.False(t, TokenMatches(nil, "s3cret"))
}

func TestServer_SessionVerbs(t *testing.T) {
	srv, err := New("")
	require.NoError(t, err)
	c := dial(t, serve(t, srv), nil)
	_, err = c.Expect(auth(""), message.TypeOK)
	require.NoError(t, err)

	_, err = c.Expect(&message.Message{Type: message.TypePing}, message.TypePong)
	require.NoError(t, err)

	// FORMATS outside a session is refused.
	_, err = c.Expect(&message.Message{Type: message.TypeFormats}, message.TypeFormats)
	assert.Error(t, err)

	_, err = c.Expect(&message.Message{
		Type:  message.TypePublish,
		Items: []message.Item{message.NewItem("UTF8_STRING", []byte("hi"))},
	}, message.TypeOK)
	require.NoError(t, err)

	_, err = c.Expect(&message.Message{Type: message.TypeOpen, Requestor: "me"}, message.TypeOK)
	require.NoError(t, err)
	_, err = c.Expect(&message.Message{Type: message.TypeOpen}, message.TypeOK)
	assert.Error(t, err, "second OPEN on one connection")

	resp, err := c.Expect(&message.Message{Type: message.TypeFormats}, message.TypeFormats)
	require.NoError(t, err)
	assert.Equal(t, []string{"UTF8_STRING"}, resp.Formats)

	resp, err = c.Expect(&message.Message{Type: message.TypeFetch, Name: "UTF8_STRING"}, message.TypeData)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	b, err := resp.Items[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))

	holder, held := srv.Medium(message.DefaultClipboard).Holder()
	assert.True(t, held)
	assert.Equal(t, "me", holder)

	_, err = c.Expect(&message.Message{Type: message.TypeClose}, message.TypeOK)
	require.NoError(t, err)
	_, held = srv.Medium(message.DefaultClipboard).Holder()
	assert.False(t, held)
}

func TestServer_UnknownVerb(t *testing.T) {
	srv, err := New("")
	require.NoError(t, err)
	c := dial(t, serve(t, srv), nil)
	_, err = c.Expect(auth(""), message.TypeOK)
	require.NoError(t, err)

	_, err = c.Call(&message.Message{Type: "BOGUS"})
	assert.ErrorContains(t, err, "unexpected message type")
}
