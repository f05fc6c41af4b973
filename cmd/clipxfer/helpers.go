package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"go.klb.dev/clipxfer/internal/clip"
	"go.klb.dev/clipxfer/internal/clipboard"
	"go.klb.dev/clipxfer/internal/codec"
	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/flavormap"
	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/ipc"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/medium/grpcmedium"
	"go.klb.dev/clipxfer/internal/medium/ipcmedium"
	"go.klb.dev/clipxfer/internal/medium/redismedium"
	"go.klb.dev/clipxfer/internal/objser"
	"go.klb.dev/clipxfer/internal/tlsconf"
	"go.klb.dev/clipxfer/internal/transfer"
)

func getenv(key string) string  { return os.Getenv(key) }
func hostname() (string, error) { return os.Hostname() }

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this host.
func defaultSource() string {
	for _, env := range []string{
		"CLIPXFER_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := getenv(env); v != "" {
			return v
		}
	}
	h, err := hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}

// env is the translation stack every medium command shares.
type env struct {
	reg     *format.Registry
	table   *flavormap.Map
	codec   *codec.Codec
	objects *objser.Registry
	images  *codec.StandardImages
}

func newEnv(v *viper.Viper) (*env, error) {
	reg := format.NewRegistry()
	var (
		table *flavormap.Map
		err   error
	)
	if path := v.GetString("flavormap"); path != "" {
		table, err = flavormap.LoadFile(path, reg)
	} else {
		table, err = flavormap.LoadDefault(reg)
	}
	if err != nil {
		return nil, fmt.Errorf("flavor table: %w", err)
	}

	objects, err := objser.NewRegistry()
	if err != nil {
		return nil, err
	}

	access := codec.ReadableOnly
	if roots := v.GetStringSlice("allow-root"); len(roots) > 0 {
		access = codec.WithinRoots(roots...)
	}
	return &env{
		reg:     reg,
		table:   table,
		objects: objects,
		images:  codec.NewStandardImages(),
		codec: codec.New(reg,
			codec.WithObjectService(objects),
			codec.WithAccessCheck(access),
		),
	}, nil
}

func (e *env) deps() transfer.Deps {
	return transfer.Deps{Registry: e.reg, Table: e.table, Codec: e.codec}
}

// watchable is a medium that also reports changes; every medium the CLI
// opens is one.
type watchable interface {
	medium.Medium
	medium.Watcher
}

// openMedium builds the medium selected by --medium. The returned func
// releases its resources.
func openMedium(v *viper.Viper) (watchable, string, func(), error) {
	kind := v.GetString("medium")
	remote := v.GetString("remote")
	if kind == "auto" {
		kind = "system"
		if remote != "" || ipc.IsRunning(v.GetString("socket")) {
			kind = "ipc"
		}
	}

	switch kind {
	case "system":
		b := clip.New()
		return clip.NewMedium(b), "system (" + b.Name() + ")", b.Close, nil

	case "ipc":
		m, desc, err := daemonMedium(v, ipcmedium.WithClipboard(v.GetString("clipboard")))
		if err != nil {
			return nil, "", nil, err
		}
		return m, desc, func() {}, nil

	case "grpc":
		m, desc, closeFn, err := grpcDaemon(v)
		if err != nil {
			return nil, "", nil, err
		}
		return m, desc, closeFn, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: v.GetString("redis-addr")})
		m := redismedium.New(rdb, redismedium.WithPrefix(v.GetString("redis-prefix")))
		return m, "redis (" + v.GetString("redis-addr") + ")", func() { _ = rdb.Close() }, nil

	default:
		return nil, "", nil, fmt.Errorf("unknown medium %q (want auto, system, ipc, grpc or redis)", kind)
	}
}

// daemonMedium reaches the daemon on the local socket, or over TLS when
// --remote is set.
func daemonMedium(v *viper.Viper, opts ...ipcmedium.Option) (*ipcmedium.Medium, string, error) {
	token := v.GetString("token")
	opts = append(opts,
		ipcmedium.WithToken(token),
		ipcmedium.WithSource(v.GetString("source")),
	)
	desc := "ipc (" + v.GetString("socket") + ")"
	if remote := v.GetString("remote"); remote != "" {
		_, clientCfg, err := tlsconf.Configs(token)
		if err != nil {
			return nil, "", err
		}
		opts = append(opts, ipcmedium.WithTCP(remote, clientCfg))
		desc = "tcp+tls (" + remote + ")"
	} else {
		opts = append(opts, ipcmedium.WithSocket(v.GetString("socket")))
	}
	m, err := ipcmedium.New(opts...)
	return m, desc, err
}

// grpcDaemon reaches the daemon's gRPC service on the local socket, or over
// TLS when --remote is set.
func grpcDaemon(v *viper.Viper) (*grpcmedium.Medium, string, func(), error) {
	token, source := v.GetString("token"), v.GetString("source")
	var (
		conn *grpc.ClientConn
		desc string
		err  error
	)
	if remote := v.GetString("remote"); remote != "" {
		_, clientCfg, cerr := tlsconf.Configs(token)
		if cerr != nil {
			return nil, "", nil, cerr
		}
		conn, err = grpcmedium.Dial(remote, clientCfg, token, source)
		desc = "grpc+tls (" + remote + ")"
	} else {
		conn, err = grpcmedium.DialSocket(v.GetString("socket"), token, source)
		desc = "grpc (" + v.GetString("socket") + ")"
	}
	if err != nil {
		return nil, "", nil, err
	}
	m := grpcmedium.New(conn,
		grpcmedium.WithClipboard(v.GetString("clipboard")),
		grpcmedium.WithSource(source),
	)
	return m, desc, func() { _ = conn.Close() }, nil
}

// flavorShortcuts are the --as names that need no MIME type.
var flavorShortcuts = map[string]flavor.Flavor{
	"text":  flavor.PlainString,
	"html":  flavor.MustNew("text/html; charset=utf-8", flavor.String),
	"files": flavor.Files,
	"image": flavor.Picture,
}

// parseFlavorArg reads an --as value: a shortcut or a full flavor string
// such as "text/rtf; repr=bytes".
func parseFlavorArg(s string) (flavor.Flavor, error) {
	if f, ok := flavorShortcuts[strings.ToLower(s)]; ok {
		return f, nil
	}
	return flavor.Parse(s)
}

// valueFromInput turns raw stdin into a value of flavor f.
func (e *env) valueFromInput(data []byte, f flavor.Flavor, mimeType string) (any, error) {
	switch f.Repr() {
	case flavor.String, flavor.Reader:
		return string(data), nil
	case flavor.Runes:
		return []rune(string(data)), nil
	case flavor.Bytes:
		return data, nil
	case flavor.Stream:
		return bytes.NewReader(data), nil
	case flavor.FileList:
		var paths []string
		for line := range strings.Lines(string(data)) {
			if p := strings.TrimSpace(line); p != "" {
				paths = append(paths, p)
			}
		}
		return paths, nil
	case flavor.Image:
		return e.images.DecodeImage(data, mimeType)
	default:
		return nil, fmt.Errorf("cannot read %s values from stdin", f.Repr())
	}
}

// writeValue prints a value produced by a transferable.
func (e *env) writeValue(w io.Writer, v any, mimeType string) error {
	switch x := v.(type) {
	case string:
		_, err := io.WriteString(w, x)
		return err
	case []rune:
		_, err := io.WriteString(w, string(x))
		return err
	case []byte:
		_, err := w.Write(x)
		return err
	case io.Reader:
		_, err := io.Copy(w, x)
		if c, ok := x.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	case []string:
		for _, p := range x {
			if _, err := fmt.Fprintln(w, p); err != nil {
				return err
			}
		}
		return nil
	case image.Image:
		b, err := e.images.EncodeImage(x, mimeType)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		_, err := fmt.Fprintf(w, "%+v\n", x)
		return err
	}
}

// newClipboard assembles a clipboard over the selected medium.
func newClipboard(v *viper.Viper) (*clipboard.Clipboard, *env, func(), error) {
	e, err := newEnv(v)
	if err != nil {
		return nil, nil, nil, err
	}
	m, desc, closeFn, err := openMedium(v)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Debug("medium selected", "medium", desc)
	return clipboard.New(desc, m, e.deps(), e.objects), e, closeFn, nil
}

func timeoutContext(v *viper.Viper) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), v.GetDuration("timeout"))
}
