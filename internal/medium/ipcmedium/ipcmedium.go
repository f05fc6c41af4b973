// Package ipcmedium is a transfer medium served by a running clipxfer
// daemon. Every session, publish and watch uses its own connection, so the
// daemon sees an abandoned session end when the connection drops.
package ipcmedium

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.klb.dev/clipxfer/internal/crypto"
	"go.klb.dev/clipxfer/internal/ipc"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/wire"
)

// Medium talks to the daemon at a socket path.
type Medium struct {
	path      string
	token     string
	key       *[32]byte
	source    string
	clipboard string
	dial      func(ctx context.Context, path string) (net.Conn, error)
}

type Option func(*Medium)

func WithSocket(path string) Option { return func(m *Medium) { m.path = path } }

// WithToken sets the shared token; it authenticates and encrypts.
func WithToken(token string) Option { return func(m *Medium) { m.token = token } }

// WithSource names this client in the daemon's status output.
func WithSource(name string) Option { return func(m *Medium) { m.source = name } }

// WithClipboard selects one of the daemon's named clipboards.
func WithClipboard(name string) Option { return func(m *Medium) { m.clipboard = name } }

// WithDialer replaces the IPC dialer, for tests and custom transports.
func WithDialer(d func(ctx context.Context, path string) (net.Conn, error)) Option {
	return func(m *Medium) { m.dial = d }
}

// WithTCP reaches a daemon listening on a TCP address with TLS, as started
// by "clipxfer serve --listen".
func WithTCP(addr string, cfg *tls.Config) Option {
	return func(m *Medium) {
		m.path = addr
		m.dial = func(ctx context.Context, addr string) (net.Conn, error) {
			d := tls.Dialer{Config: cfg}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
}

func New(opts ...Option) (*Medium, error) {
	host, _ := os.Hostname()
	m := &Medium{
		path:      ipc.SocketPath(),
		source:    host,
		clipboard: message.DefaultClipboard,
		dial:      ipc.Dial,
	}
	for _, o := range opts {
		o(m)
	}
	key, err := crypto.KeyFromToken(m.token)
	if err != nil {
		return nil, err
	}
	m.key = key
	return m, nil
}

func (m *Medium) connect(ctx context.Context) (*wire.Conn, error) {
	raw, err := m.dial(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("dial daemon at %s: %w", m.path, err)
	}
	c := wire.New(raw, m.key)
	_, err = c.Expect(&message.Message{
		Type:      message.TypeAuth,
		Source:    m.source,
		Clipboard: m.clipboard,
		Payload:   base64.StdEncoding.EncodeToString([]byte(m.token)),
	}, message.TypeOK)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	return c, nil
}

// Open asks the daemon for the clipboard lock. The daemon waits until ctx's
// deadline, or its own default when ctx has none.
func (m *Medium) Open(ctx context.Context, requestor string) (medium.Session, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	req := &message.Message{Type: message.TypeOpen, Requestor: requestor}
	if dl, ok := ctx.Deadline(); ok {
		req.TimeoutMS = max(time.Until(dl).Milliseconds(), 1)
		c.SetReadDeadline(time.Until(dl) + time.Second)
	}
	_, err = c.Expect(req, message.TypeOK)
	c.SetReadDeadline(0)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &session{c: c}, nil
}

// Publish renders every format of r and hands the payloads to the daemon.
func (m *Medium) Publish(ctx context.Context, r medium.Renderer) error {
	items := medium.RenderAll(ctx, r)
	c, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Expect(&message.Message{Type: message.TypePublish, Items: message.FromMedium(items)}, message.TypeOK); err != nil {
		return err
	}
	medium.LogItems("published to daemon", m.clipboard, items)
	return nil
}

// Watch streams the daemon's change notifications.
func (m *Medium) Watch(ctx context.Context) (<-chan []string, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.WriteMsg(&message.Message{Type: message.TypeWatch}); err != nil {
		c.Close()
		return nil, fmt.Errorf("watch: %w", err)
	}

	out := make(chan []string, 1)
	stop := context.AfterFunc(ctx, func() { c.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer c.Close()
		for {
			msg, err := c.ReadMsg()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					slog.Warn("daemon watch ended", "err", err)
				}
				return
			}
			switch msg.Type {
			case message.TypeOK:
			case message.TypeChanged:
				select {
				case out <- msg.Formats:
				case <-ctx.Done():
					return
				}
			case message.TypeError:
				slog.Warn("daemon refused watch", "err", msg.Err())
				return
			}
		}
	}()
	return out, nil
}

// Status returns the daemon's view of its clients and clipboards.
func (m *Medium) Status(ctx context.Context) (*message.Message, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Expect(&message.Message{Type: message.TypeStatus}, message.TypeStatusResponse)
}

var errClosed = errors.New("daemon session closed")

type session struct {
	mu     sync.Mutex
	c      *wire.Conn
	closed bool
}

func (s *session) Formats() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	resp, err := s.c.Expect(&message.Message{Type: message.TypeFormats}, message.TypeFormats)
	if err != nil {
		return nil, err
	}
	return resp.Formats, nil
}

func (s *session) Fetch(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	resp, err := s.c.Expect(&message.Message{Type: message.TypeFetch, Name: name}, message.TypeData)
	if err != nil {
		return nil, err
	}
	if len(resp.Items) != 1 {
		return nil, fmt.Errorf("fetch %s: %d items in reply", name, len(resp.Items))
	}
	return resp.Items[0].Decode()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, err := s.c.Expect(&message.Message{Type: message.TypeClose}, message.TypeOK)
	if cerr := s.c.Close(); err == nil {
		err = cerr
	}
	return err
}
