package gateway

import (
	"context"

	"github.com/gkkary3/Netless/internal/events"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Names of the gateway service on the wire.
const (
	ServiceName   = "presence.v1.Gateway"
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// Stream is the server side of one Connect call.
type Stream interface {
	Send(*events.Envelope) error
	Recv() (*events.Envelope, error)
	Context() context.Context
}

// StreamServer handles Connect calls.
type StreamServer interface {
	Connect(Stream) error
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(env *events.Envelope) error { return s.ServerStream.SendMsg(env) }

func (s *serverStream) Recv() (*events.Envelope, error) {
	env := new(events.Envelope)
	if err := s.ServerStream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(StreamServer).Connect(&serverStream{stream})
}

// ServiceDesc describes the gateway for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "presence/v1/gateway",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv StreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is the client side of one Connect call. Send and Recv may be used
// from two goroutines, but each only from one.
type Client struct {
	stream grpc.ClientStream
}

// Dial opens a gateway stream on conn authenticated with token. An
// authentication failure surfaces on the first Recv.
func Dial(ctx context.Context, conn grpc.ClientConnInterface, token string) (*Client, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return &Client{stream: cs}, nil
}

// Send encodes and sends a command.
func (c *Client) Send(cmd events.Command) error {
	env, err := events.Encode(cmd)
	if err != nil {
		return err
	}
	return c.stream.SendMsg(env)
}

// Recv blocks for the next server event.
func (c *Client) Recv() (*events.Envelope, error) {
	env := new(events.Envelope)
	if err := c.stream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Close half-closes the stream; the server then disconnects the user.
func (c *Client) Close() error {
	return c.stream.CloseSend()
}
