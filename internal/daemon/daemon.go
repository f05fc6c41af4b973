// Package daemon hosts named in-memory clipboards on the local IPC socket.
// Each connection is one client; see package message for the protocol.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipxfer/internal/crypto"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/message"
)

// Server brokers sessions on its clipboards. The zero value is not usable;
// call New.
type Server struct {
	token string
	key   *[32]byte

	mu         sync.RWMutex
	clipboards map[string]*medium.Memory
	clients    map[string]*client
	nextID     atomic.Uint64
}

// New returns a server. A non-empty token is required from every client and
// also keys the wire encryption.
func New(token string) (*Server, error) {
	key, err := crypto.KeyFromToken(token)
	if err != nil {
		return nil, err
	}
	return &Server{
		token:      token,
		key:        key,
		clipboards: make(map[string]*medium.Memory),
		clients:    make(map[string]*client),
	}, nil
}

// Medium returns the clipboard called name, creating it on first use.
func (s *Server) Medium(name string) *medium.Memory {
	s.mu.RLock()
	m, ok := s.clipboards[name]
	s.mu.RUnlock()
	if ok {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok = s.clipboards[name]; !ok {
		m = medium.NewMemory()
		s.clipboards[name] = m
		slog.Debug("clipboard created", "clipboard", name)
	}
	return m
}

// Serve accepts clients on ln until ctx is done, then closes ln and waits
// for every connection to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		slog.Info("daemon listening", "addr", ln.Addr().String(), "encrypted", s.key != nil)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			c := s.newClient(conn)
			g.Go(func() error {
				c.serve(ctx)
				return nil
			})
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) newClient(conn net.Conn) *client {
	return newClient(s, conn, "c"+strconv.FormatUint(s.nextID.Add(1), 10))
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	total := len(s.clients)
	s.mu.Unlock()

	info := c.info()
	slog.Info("client registered", "client", c.id, "source", info.Source, "clipboard", info.Clipboard, "total", total)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	total := len(s.clients)
	s.mu.Unlock()
	slog.Info("client unregistered", "client", c.id, "total", total)
}

// Clients returns a snapshot of all connected clients, ordered by id.
func (s *Server) Clients() []message.ClientInfo {
	s.mu.RLock()
	out := make([]message.ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.info())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b message.ClientInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Clipboards describes every clipboard, ordered by name.
func (s *Server) Clipboards() []message.ClipboardInfo {
	s.mu.RLock()
	out := make([]message.ClipboardInfo, 0, len(s.clipboards))
	for name, m := range s.clipboards {
		holder, _ := m.Holder()
		out = append(out, message.ClipboardInfo{Name: name, Formats: m.Formats(), Holder: holder})
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b message.ClipboardInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}
