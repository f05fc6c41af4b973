// Package grpcmedium is a transfer medium served by a clipxfer daemon's gRPC
// endpoint. A session is one Session stream, so the daemon holds the
// clipboard lock exactly as long as the stream is open.
package grpcmedium

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/clipxfer/internal/grpcservice"
	"go.klb.dev/clipxfer/internal/ipc"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/xferr"
)

// Medium talks to one named clipboard of a daemon.
type Medium struct {
	conn      grpc.ClientConnInterface
	clipboard string
	source    string
}

type Option func(*Medium)

// WithClipboard selects one of the daemon's named clipboards.
func WithClipboard(name string) Option { return func(m *Medium) { m.clipboard = name } }

// WithSource names this client in the daemon's logs.
func WithSource(name string) Option { return func(m *Medium) { m.source = name } }

// New returns a medium over an established connection.
func New(conn grpc.ClientConnInterface, opts ...Option) *Medium {
	host, _ := os.Hostname()
	m := &Medium{conn: conn, clipboard: message.DefaultClipboard, source: host}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dial connects to a daemon's gRPC endpoint. cfg nil means plaintext, for
// the local socket. token and source travel as per-RPC metadata.
func Dial(addr string, cfg *tls.Config, token, source string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if cfg != nil {
		creds = credentials.NewTLS(cfg)
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, extra...)
	if token != "" || source != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&clientCreds{token: token, source: source, secure: cfg != nil}))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// DialSocket connects to the daemon on its local IPC socket or pipe.
func DialSocket(path, token, source string) (*grpc.ClientConn, error) {
	return Dial("passthrough:///"+path, nil, token, source,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ipc.Dial(ctx, path)
		}),
	)
}

type clientCreds struct {
	token  string
	source string
	secure bool
}

func (c *clientCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.token != "" {
		md[grpcservice.AuthHeader] = "Bearer " + c.token
	}
	if c.source != "" {
		md[grpcservice.SourceHeader] = c.source
	}
	return md, nil
}

func (c *clientCreds) RequireTransportSecurity() bool { return c.secure }

// Open starts a Session stream and waits for the daemon to grant the lock.
// The wait is bounded by ctx; the session itself outlives it until Close.
func (m *Medium) Open(ctx context.Context, requestor string) (medium.Session, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := m.conn.NewStream(sctx, &grpcservice.SessionStream, grpcservice.SessionMethod)
	if err != nil {
		cancel()
		return nil, grpcservice.FromStatus(err)
	}
	s := &session{
		stream: &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream},
		cancel: cancel,
	}

	open := &message.Message{Type: message.TypeOpen, Requestor: requestor, Clipboard: m.clipboard, Source: m.source}
	if dl, ok := ctx.Deadline(); ok {
		open.TimeoutMS = max(time.Until(dl).Milliseconds(), 1)
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := s.send(open); err != nil {
		cancel()
		return nil, openErr(ctx, err)
	}
	reply, err := s.recv()
	if err != nil {
		cancel()
		return nil, openErr(ctx, err)
	}
	s.formats = reply.Formats
	return s, nil
}

func openErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: fmt.Errorf("open: %w", ctx.Err())}
	}
	return err
}

// Publish renders every format of r and hands the payloads to the daemon.
func (m *Medium) Publish(ctx context.Context, r medium.Renderer) error {
	items := medium.RenderAll(ctx, r)
	req, err := grpcservice.ToStruct(&message.Message{
		Type:      message.TypePublish,
		Source:    m.source,
		Clipboard: m.clipboard,
		Items:     message.FromMedium(items),
	})
	if err != nil {
		return err
	}
	if err := m.conn.Invoke(ctx, grpcservice.PublishMethod, req, new(emptypb.Empty)); err != nil {
		return grpcservice.FromStatus(err)
	}
	medium.LogItems("published over grpc", m.clipboard, items)
	return nil
}

// Watch streams the daemon's change notifications.
func (m *Medium) Watch(ctx context.Context) (<-chan []string, error) {
	stream, err := m.conn.NewStream(ctx, &grpcservice.WatchStream, grpcservice.WatchMethod)
	if err != nil {
		return nil, grpcservice.FromStatus(err)
	}
	ws := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := ws.Send(wrapperspb.String(m.clipboard)); err != nil {
		return nil, grpcservice.FromStatus(err)
	}
	if err := ws.CloseSend(); err != nil {
		return nil, grpcservice.FromStatus(err)
	}

	out := make(chan []string, 1)
	go func() {
		defer close(out)
		for {
			st, err := ws.Recv()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					slog.Warn("grpc watch ended", "err", err)
				}
				return
			}
			msg, err := grpcservice.FromStruct(st)
			if err != nil {
				slog.Warn("bad watch message", "err", err)
				continue
			}
			select {
			case out <- msg.Formats:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Status returns the daemon's view of its clients and clipboards.
func (m *Medium) Status(ctx context.Context) (*message.Message, error) {
	out := new(structpb.Struct)
	if err := m.conn.Invoke(ctx, grpcservice.StatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, grpcservice.FromStatus(err)
	}
	return grpcservice.FromStruct(out)
}

var errClosed = errors.New("grpc session closed")

type session struct {
	mu      sync.Mutex
	stream  grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
	cancel  context.CancelFunc
	formats []string
	closed  bool
}

func (s *session) send(m *message.Message) error {
	st, err := grpcservice.ToStruct(m)
	if err != nil {
		return err
	}
	return grpcservice.FromStatus(s.stream.Send(st))
}

func (s *session) recv() (*message.Message, error) {
	st, err := s.stream.Recv()
	if err != nil {
		return nil, grpcservice.FromStatus(err)
	}
	m, err := grpcservice.FromStruct(st)
	if err != nil {
		return nil, err
	}
	if err := m.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Formats are the ones the daemon listed when the session opened; the lock
// keeps them current.
func (s *session) Formats() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	return s.formats, nil
}

func (s *session) Fetch(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if err := s.send(&message.Message{Type: message.TypeFetch, Name: name}); err != nil {
		return nil, err
	}
	resp, err := s.recv()
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
	err := s.stream.CloseSend()
	// Wait for the daemon to end the stream so the lock is released before
	// Close returns.
	if _, rerr := s.stream.Recv(); rerr != nil && !errors.Is(rerr, io.EOF) && err == nil {
		err = grpcservice.FromStatus(rerr)
	}
	s.cancel()
	return err
}

var (
	_ medium.Medium  = (*Medium)(nil)
	_ medium.Watcher = (*Medium)(nil)
)
