package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/wire"
)

const authTimeout = 10 * time.Second

// DefaultOpenTimeout bounds an OPEN that names no timeout of its own.
const DefaultOpenTimeout = 5 * time.Second

var (
	errNoSession   = errors.New("no session open")
	errSessionOpen = errors.New("session already open")
	errAuth        = errors.New("auth_failed")
)

// client is one connection. Requests are answered in order on the reading
// goroutine; CHANGED messages from a watch are written from another, so
// writes are serialised by wmu.
type client struct {
	s        *Server
	id       string
	conn     *wire.Conn
	lastSeen atomic.Int64 // UnixNano

	wmu sync.Mutex

	mu          sync.RWMutex
	source      string
	clipboard   string
	connectedAt time.Time
	sess        medium.Session
	endSess     context.CancelFunc
	watching    bool
}

func newClient(s *Server, conn net.Conn, id string) *client {
	c := &client{
		s:           s,
		id:          id,
		conn:        wire.New(conn, s.key),
		clipboard:   message.DefaultClipboard,
		connectedAt: time.Now(),
	}
	c.lastSeen.Store(c.connectedAt.UnixNano())
	return c
}

func (c *client) info() message.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return message.ClientInfo{
		ID:          c.id,
		Source:      c.source,
		Clipboard:   c.clipboard,
		Session:     c.sess != nil,
		Watching:    c.watching,
		ConnectedAt: c.connectedAt,
		LastSeen:    time.Unix(0, c.lastSeen.Load()),
	}
}

func (c *client) medium() *medium.Memory {
	c.mu.RLock()
	name := c.clipboard
	c.mu.RUnlock()
	return c.s.Medium(name)
}

func (c *client) write(msg *message.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMsg(msg)
}

// serve authenticates, registers with the server, and answers requests until
// the connection drops or ctx is done. A session left open is closed.
func (c *client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()
	log := slog.With("client", c.id)

	if err := c.auth(); err != nil {
		log.Warn("auth failed", "err", err)
		_ = c.write(message.ErrorMessage(errAuth))
		return
	}

	c.s.register(c)
	defer c.s.unregister(c)
	defer c.closeSession()

	for {
		msg, err := c.conn.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				log.Info("connection closed", "err", err)
			}
			return
		}
		c.lastSeen.Store(time.Now().UnixNano())

		reply := c.handle(ctx, msg)
		if err := c.write(reply); err != nil {
			log.Error("write failed", "err", err)
			return
		}
	}
}

func (c *client) auth() error {
	c.conn.SetReadDeadline(authTimeout)
	msg, err := c.conn.ReadMsg()
	if err != nil {
		return err
	}
	c.conn.SetReadDeadline(0)
	if msg.Type != message.TypeAuth {
		return errors.New("expected AUTH, got " + string(msg.Type))
	}
	if c.s.token != "" {
		token, _ := base64.StdEncoding.DecodeString(msg.Payload)
		if !TokenMatches(token, c.s.token) {
			return errors.New("token mismatch")
		}
	}

	c.mu.Lock()
	c.source = msg.Source
	c.clipboard = msg.ClipboardOf()
	c.mu.Unlock()
	slog.Info("authenticated", "client", c.id, "source", msg.Source)
	return c.write(&message.Message{Type: message.TypeOK})
}

func (c *client) handle(ctx context.Context, msg *message.Message) *message.Message {
	ok := &message.Message{Type: message.TypeOK}
	switch msg.Type {
	case message.TypeOpen:
		if err := c.openSession(ctx, msg); err != nil {
			return message.ErrorMessage(err)
		}
		return ok

	case message.TypeClose:
		c.closeSession()
		return ok

	case message.TypeFormats:
		sess, err := c.session()
		if err != nil {
			return message.ErrorMessage(err)
		}
		names, err := sess.Formats()
		if err != nil {
			return message.ErrorMessage(err)
		}
		return &message.Message{Type: message.TypeFormats, Formats: names}

	case message.TypeFetch:
		sess, err := c.session()
		if err != nil {
			return message.ErrorMessage(err)
		}
		data, err := sess.Fetch(msg.Name)
		if err != nil {
			return message.ErrorMessage(err)
		}
		return &message.Message{Type: message.TypeData, Items: []message.Item{message.NewItem(msg.Name, data)}}

	case message.TypePublish:
		items, err := message.ToMedium(msg.Items)
		if err != nil {
			return message.ErrorMessage(err)
		}
		if err := c.medium().Publish(ctx, medium.Static(items)); err != nil {
			return message.ErrorMessage(err)
		}
		medium.LogItems("clipboard published", c.info().Source, items)
		return ok

	case message.TypeWatch:
		if err := c.watch(ctx); err != nil {
			return message.ErrorMessage(err)
		}
		return ok

	case message.TypeStatus:
		return &message.Message{
			Type:       message.TypeStatusResponse,
			Clients:    c.s.Clients(),
			Clipboards: c.s.Clipboards(),
		}

	case message.TypePing:
		return &message.Message{Type: message.TypePong}

	default:
		slog.Warn("unexpected message type", "client", c.id, "type", msg.Type)
		return message.ErrorMessage(errors.New("unexpected message type " + string(msg.Type)))
	}
}

func (c *client) session() (medium.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, errNoSession
	}
	return c.sess, nil
}

// openSession waits for the clipboard lock for at most the timeout the
// client asked for. The session keeps the wait's context until it is closed.
func (c *client) openSession(ctx context.Context, msg *message.Message) error {
	if _, err := c.session(); err == nil {
		return errSessionOpen
	}
	requestor := msg.Requestor
	if requestor == "" {
		requestor = c.info().Source
	}
	octx, cancel := context.WithTimeout(ctx, msg.Timeout(DefaultOpenTimeout))
	sess, err := c.medium().Open(octx, requestor)
	if err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.sess, c.endSess = sess, cancel
	c.mu.Unlock()
	slog.Debug("session opened", "client", c.id, "requestor", requestor)
	return nil
}

func (c *client) closeSession() {
	c.mu.Lock()
	sess, end := c.sess, c.endSess
	c.sess, c.endSess = nil, nil
	c.mu.Unlock()
	if sess == nil {
		return
	}
	_ = sess.Close()
	end()
	slog.Debug("session closed", "client", c.id)
}

func (c *client) watch(ctx context.Context) error {
	ch, err := c.medium().Watch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.watching = true
	c.mu.Unlock()

	go func() {
		for formats := range ch {
			if err := c.write(&message.Message{Type: message.TypeChanged, Formats: formats}); err != nil {
				slog.Debug("watch write failed", "client", c.id, "err", err)
				c.conn.Close()
				return
			}
		}
	}()
	return nil
}

// TokenMatches reports whether got is the daemon token want, comparing in
// constant time.
func TokenMatches(got []byte, want string) bool {
	return subtle.ConstantTimeCompare(got, []byte(want)) == 1
}
