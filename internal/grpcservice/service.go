// Package grpcservice exposes the daemon's clipboards over gRPC.
//
// The service is described by hand over protobuf well-known types. Every
// request and reply is a message.Message carried in a structpb.Struct, so the
// gRPC surface speaks the same verbs as the JSON wire protocol:
//
//	Publish  unary          PUBLISH                 → Empty
//	Session  bidi stream    OPEN, then FETCH...     → OK(formats), then DATA or ERROR
//	Watch    server stream  StringValue(clipboard)  → CHANGED...
//	Status   unary          Empty                   → STATUS_RESPONSE
package grpcservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/clipxfer/internal/daemon"
	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/message"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clipxfer.v1.Clipboard"

// Full method names, as passed to grpc.ClientConn.Invoke and NewStream.
const (
	PublishMethod = "/" + ServiceName + "/Publish"
	SessionMethod = "/" + ServiceName + "/Session"
	WatchMethod   = "/" + ServiceName + "/Watch"
	StatusMethod  = "/" + ServiceName + "/Status"
)

// Metadata keys read by the service.
const (
	AuthHeader   = "authorization"
	SourceHeader = "x-clipxfer-source"
)

// SessionStream and WatchStream describe the streaming methods for
// grpc.ClientConn.NewStream.
var (
	SessionStream = grpc.StreamDesc{StreamName: "Session", ServerStreams: true, ClientStreams: true}
	WatchStream   = grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}
)

type clipboardServer interface {
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Session(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
	Watch(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*clipboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Session", Handler: sessionHandler, ServerStreams: true, ClientStreams: true},
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "clipxfer/v1/clipboard",
}

// Service serves a daemon's clipboards.
type Service struct {
	d     *daemon.Server
	token string // empty = no auth
}

// New returns a Service backed by d. token may be empty to disable auth.
func New(d *daemon.Server, token string) *Service {
	return &Service{d: d, token: token}
}

// Register adds the service to r.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Publish replaces a clipboard's contents with the request's items.
func (s *Service) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	msg, err := FromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	items, err := message.ToMedium(msg.Items)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.d.Medium(msg.ClipboardOf()).Publish(ctx, medium.Static(items)); err != nil {
		return nil, StatusError(err)
	}
	medium.LogItems("clipboard published over grpc", sourceFromCtx(ctx, msg.Source), items)
	return &emptypb.Empty{}, nil
}

// Session holds one clipboard open for the life of the stream. The first
// request is an OPEN; the reply lists the formats. Each FETCH after that
// gets a DATA or ERROR reply.
func (s *Service) Session(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	open, err := FromStruct(first)
	if err != nil || open.Type != message.TypeOpen {
		return status.Error(codes.InvalidArgument, "session must start with OPEN")
	}
	requestor := open.Requestor
	if requestor == "" {
		requestor = sourceFromCtx(ctx, open.Source)
	}

	octx, cancel := context.WithTimeout(ctx, open.Timeout(daemon.DefaultOpenTimeout))
	defer cancel()
	sess, err := s.d.Medium(open.ClipboardOf()).Open(octx, requestor)
	if err != nil {
		return StatusError(err)
	}
	defer sess.Close()
	slog.Debug("grpc session opened", "requestor", requestor, "clipboard", open.ClipboardOf())

	formats, err := sess.Formats()
	if err != nil {
		return StatusError(err)
	}
	if err := send(stream, &message.Message{Type: message.TypeOK, Formats: formats}); err != nil {
		return err
	}

	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		req, err := FromStruct(in)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		reply := fetchReply(sess, req)
		if err := send(stream, reply); err != nil {
			return err
		}
	}
}

func fetchReply(sess medium.Session, req *message.Message) *message.Message {
	if req.Type != message.TypeFetch {
		return message.ErrorMessage(errors.New("unexpected message type " + string(req.Type)))
	}
	data, err := sess.Fetch(req.Name)
	if err != nil {
		return message.ErrorMessage(err)
	}
	return &message.Message{Type: message.TypeData, Items: []message.Item{message.NewItem(req.Name, data)}}
}

// Watch streams a CHANGED message each time the clipboard's contents change.
func (s *Service) Watch(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}
	cb := req.GetValue()
	if cb == "" {
		cb = message.DefaultClipboard
	}
	ch, err := s.d.Medium(cb).Watch(ctx)
	if err != nil {
		return StatusError(err)
	}
	slog.Info("grpc watch started", "peer", addrFromCtx(ctx), "clipboard", cb)
	for formats := range ch {
		if err := send(stream, &message.Message{Type: message.TypeChanged, Clipboard: cb, Formats: formats}); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the daemon's clients and clipboards.
func (s *Service) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	return ToStruct(&message.Message{
		Type:       message.TypeStatusResponse,
		Clients:    s.d.Clients(),
		Clipboards: s.d.Clipboards(),
	})
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is empty.
func (s *Service) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(AuthHeader)
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	tok := strings.TrimPrefix(vals[0], "Bearer ")
	if !daemon.TokenMatches([]byte(tok), s.token) {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

type sender interface {
	Send(*structpb.Struct) error
}

func send(stream sender, m *message.Message) error {
	st, err := ToStruct(m)
	if err != nil {
		return err
	}
	return stream.Send(st)
}

func sourceFromCtx(ctx context.Context, fallback string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(SourceHeader); len(vals) > 0 {
			return vals[0]
		}
	}
	if fallback != "" {
		return fallback
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(clipboardServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(clipboardServer).Publish(ctx, req.(*structpb.Struct))
	})
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(clipboardServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(clipboardServer).Status(ctx, req.(*emptypb.Empty))
	})
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(clipboardServer).Session(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(clipboardServer).Watch(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}
