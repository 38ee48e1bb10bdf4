// Package relay exposes a clipnotify.Service to other processes.
//
// The gRPC service clipnotify.v1.Notifications is described by hand with a
// grpc.ServiceDesc over protobuf well-known types, so no generated code is
// needed:
//
//	rpc Status(google.protobuf.Empty) returns (google.protobuf.Struct);
//	rpc Watch(google.protobuf.Empty) returns (stream google.protobuf.Struct);
//
// Watch streams are fed from a subscriber callback that keeps only the
// latest undelivered event, so a slow client never blocks the pump thread
// and sees the newest state rather than a backlog.
package relay

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/clipnotify"
)

const (
	ServiceName = "clipnotify.v1.Notifications"

	statusMethod = "/" + ServiceName + "/Status"
	watchMethod  = "/" + ServiceName + "/Watch"
)

// Source is the part of clipnotify.Service the relay needs.
type Source interface {
	Subscribe(clipnotify.Callback) clipnotify.Token
	Unsubscribe(clipnotify.Token) bool
	Stats() clipnotify.Stats
}

// Server implements the Notifications service.
type Server struct {
	src     Source
	token   string // empty = no auth
	version string

	watchers atomic.Int64
}

// New returns a Server relaying src. token may be empty to disable auth.
func New(src Source, token, version string) *Server {
	return &Server{src: src, token: token, version: version}
}

// Register adds the service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Status implements Notifications.Status.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	return s.status()
}

func (s *Server) status() (*structpb.Struct, error) {
	st, err := encodeStatus(s.src.Stats(), s.watchers.Load(), s.version)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return st, nil
}

// Watch implements Notifications.Watch.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}

	box := newLatest()
	tok := s.src.Subscribe(box.offer)
	defer s.src.Unsubscribe(tok)

	n := s.watchers.Add(1)
	defer s.watchers.Add(-1)
	addr := addrFromCtx(ctx)
	slog.Info("watch started", "peer", addr, "watchers", n)
	defer slog.Info("watch ended", "peer", addr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-box.ch:
			msg, err := encodeEvent(ev)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Watchers reports the number of open Watch streams.
func (s *Server) Watchers() int64 { return s.watchers.Load() }

// auth validates the bearer token in ctx metadata. Skipped when s.token is empty.
func (s *Server) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	return s.checkBearer(vals[0])
}

func (s *Server) checkBearer(header string) error {
	if s.token == "" {
		return nil
	}
	tok := strings.TrimPrefix(header, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

// latest is a one-slot mailbox: offer replaces any undelivered event and
// never blocks, so it is safe to call on the pump thread.
type latest struct {
	ch chan clipnotify.Event
}

func newLatest() *latest {
	return &latest{ch: make(chan clipnotify.Event, 1)}
}

// offer has a single caller (the pump thread), so the loop ends after at
// most one drain.
func (l *latest) offer(ev clipnotify.Event) {
	for {
		select {
		case l.ch <- ev:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// ── service description ────────────────────────────────────────────────────

type notificationsServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*notificationsServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Status",
		Handler:    statusHandler,
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "clipnotify/v1/notifications.proto",
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(notificationsServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(notificationsServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(notificationsServer).Watch(in, stream)
}
