package relay

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/clipnotify"
)

// Client calls a remote Notifications service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Status fetches the server's counters.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (Status, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return Status{}, err
	}
	return DecodeStatus(out)
}

// Watch opens a notification stream. Cancel ctx to close it.
func (c *Client) Watch(ctx context.Context, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// EventStream is the receiving side of Watch.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks until the next notification. It returns io.EOF when the
// server ends the stream.
func (s *EventStream) Recv() (clipnotify.Event, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return clipnotify.Event{}, err
	}
	ev, err := decodeEvent(m)
	if err != nil {
		return clipnotify.Event{}, fmt.Errorf("relay: decode event: %w", err)
	}
	return ev, nil
}
