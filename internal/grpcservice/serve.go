package grpcservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"go.klb.dev/clipxfer/internal/daemon"
)

// Serve accepts clients of both protocols on ln until ctx is done. gRPC
// calls reach a gRPC server carrying the Service; every other connection
// speaks the daemon's JSON wire protocol.
func Serve(ctx context.Context, ln net.Listener, d *daemon.Server, token string, opts ...grpc.ServerOption) error {
	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	wireL := m.Match(cmux.Any())

	gs := grpc.NewServer(opts...)
	New(d, token).Register(gs)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		gs.Stop()
		return ln.Close()
	})
	g.Go(func() error { return d.Serve(ctx, wireL) })
	g.Go(func() error {
		slog.Info("grpc listening", "addr", ln.Addr().String())
		err := gs.Serve(grpcL)
		if err == nil || ctx.Err() != nil || errors.Is(err, cmux.ErrListenerClosed) {
			return nil
		}
		return fmt.Errorf("grpc: %w", err)
	})
	g.Go(func() error {
		err := m.Serve()
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("mux: %w", err)
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
