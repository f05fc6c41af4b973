package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipxfer/internal/bridge"
	"go.klb.dev/clipxfer/internal/clip"
	"go.klb.dev/clipxfer/internal/daemon"
	"go.klb.dev/clipxfer/internal/grpcservice"
	"go.klb.dev/clipxfer/internal/ipc"
	"go.klb.dev/clipxfer/internal/medium/redismedium"
	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/tlsconf"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard daemon (+ system clipboard bridge)",
		Long: `Starts the clipxfer daemon on the local IPC socket. Clients open sessions
on its named clipboards with --medium ipc, or --medium grpc; both protocols
share every listener.

The default clipboard is mirrored to the system clipboard unless --no-local
is given. With --listen, clients on other hosts reach the daemon over TLS
keyed by --token (clipxfer copy --remote host:port). With --redis-addr it is also mirrored to a Redis-backed clipboard,
which every host pointing at the same server shares.

Config file search order:
  /etc/clipxfer/clipxfer.toml
  $HOME/.config/clipxfer/clipxfer.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPXFER_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.String("listen", "", "also accept TLS clients on this TCP address (e.g. 0.0.0.0:8752)")
	f.Bool("no-local", false, "do not mirror the system clipboard")
	f.String("redis-addr", "", "mirror the default clipboard to this Redis server")
	f.String("redis-prefix", redismedium.DefaultPrefix, "redis key prefix")
	addDaemonFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	socket := v.GetString("socket")
	noLocal := v.GetBool("no-local")
	redisAddr := v.GetString("redis-addr")

	srv, err := daemon.New(v.GetString("token"))
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	slog.Info("clipxfer daemon starting",
		"version", Version,
		"socket", socket,
		"source", v.GetString("source"),
		"local_clip", !noLocal,
		"redis", redisAddr,
	)

	ln, err := ipc.Listen(socket)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socket, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := v.GetString("token")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcservice.Serve(ctx, ln, srv, token) })

	if addr := v.GetString("listen"); addr != "" {
		serverCfg, _, err := tlsconf.Configs(token)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		tcpLn, err := tls.Listen("tcp", addr, serverCfg)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		g.Go(func() error { return grpcservice.Serve(ctx, tcpLn, srv, token) })
	}

	shared := bridge.Endpoint{Name: "daemon:" + message.DefaultClipboard, Medium: srv.Medium(message.DefaultClipboard)}

	if !noLocal {
		backend := clip.New()
		defer backend.Close()
		local := bridge.New(bridge.Endpoint{Name: "system:" + backend.Name(), Medium: clip.NewMedium(backend)}, shared)
		g.Go(func() error { return local.Run(ctx) })
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("redis %s: %w", redisAddr, err)
		}
		remote := redismedium.New(rdb, redismedium.WithPrefix(v.GetString("redis-prefix")))
		mirror := bridge.New(bridge.Endpoint{Name: "redis:" + redisAddr, Medium: remote}, shared)
		g.Go(func() error { return mirror.Run(ctx) })
	}

	err = g.Wait()
	slog.Info("clipxfer daemon stopped")
	return err
}
