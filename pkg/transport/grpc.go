package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"swarm/pkg/protocol"
	"swarm/pkg/shared"
	"swarm/pkg/types"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	meshServiceName = "swarm.transport.Mesh"
	deliverMethod   = "/" + meshServiceName + "/Deliver"
)

// codec carries envelopes as msgpack instead of protobuf, so the service
// needs no generated stubs.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (codec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (codec) Name() string                       { return "msgpack" }

// DeliverAck confirms that a message was queued at its destination.
type DeliverAck struct {
	Accepted bool `msgpack:"accepted"`
}

// MeshServer receives messages addressed to the local node.
type MeshServer interface {
	Deliver(ctx context.Context, msg *Message) (*DeliverAck, error)
}

var meshServiceDesc = grpc.ServiceDesc{
	ServiceName: meshServiceName,
	HandlerType: (*MeshServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "swarm/transport",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServer).Deliver(ctx, req.(*Message))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCTransport runs one swarm node per process. addrs lists every node's
// address indexed by rank; the entry at the node's own rank is where it
// listens.
type GRPCTransport struct {
	rank   types.NodeID
	addrs  []string
	logger *zap.Logger

	box  *Mailbox
	pool *shared.ConnectionPool

	server   *grpc.Server
	listener net.Listener
	mu       sync.Mutex

	closeOnce sync.Once
}

// NewGRPC creates the endpoint for rank. It does not listen until Start or
// ServeListener is called.
func NewGRPC(rank types.NodeID, addrs []string, logger *zap.Logger) (*GRPCTransport, error) {
	if rank < 0 || int(rank) >= len(addrs) {
		return nil, fmt.Errorf("%w: rank %d with %d addresses", ErrUnknownNode, int(rank), len(addrs))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCTransport{
		rank:   rank,
		addrs:  append([]string(nil), addrs...),
		logger: logger.With(zap.Int("rank", int(rank))),
		box:    NewMailbox(),
		pool:   shared.NewConnectionPool(grpc.WithDefaultCallOptions(grpc.ForceCodec(codec{}))),
	}, nil
}

// Start listens on the node's own address and serves in the background.
func (g *GRPCTransport) Start() error {
	bindAddr := g.addrs[g.rank]
	// If there's a hostname, bind to all interfaces on the same port
	if host, port, err := net.SplitHostPort(bindAddr); err == nil && host != "" {
		bindAddr = ":" + port
	}

	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
	}
	g.ServeListener(listener)
	return nil
}

// ServeListener serves incoming deliveries on an existing listener.
func (g *GRPCTransport) ServeListener(listener net.Listener) {
	server := grpc.NewServer(grpc.ForceServerCodec(codec{}))
	server.RegisterService(&meshServiceDesc, g)

	g.mu.Lock()
	g.server = server
	g.listener = listener
	g.mu.Unlock()

	g.logger.Info("Transport listening", zap.String("address", listener.Addr().String()))

	go func() {
		if err := server.Serve(listener); err != nil {
			g.logger.Error("Transport server failed", zap.Error(err))
		}
	}()
}

// Addr returns the listening address, or nil before Start.
func (g *GRPCTransport) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Deliver implements MeshServer.
func (g *GRPCTransport) Deliver(ctx context.Context, msg *Message) (*DeliverAck, error) {
	if msg.Source < 0 || int(msg.Source) >= len(g.addrs) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown source %d", int(msg.Source))
	}
	if err := g.box.Put(*msg); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &DeliverAck{Accepted: true}, nil
}

func (g *GRPCTransport) Rank() types.NodeID { return g.rank }

func (g *GRPCTransport) Size() int { return len(g.addrs) }

// Send blocks until the destination has queued the message, waiting for
// the destination to come up if it is not listening yet.
func (g *GRPCTransport) Send(ctx context.Context, to types.NodeID, tag protocol.Tag, payload []byte) error {
	if err := checkDestination(g, to); err != nil {
		return err
	}
	msg := &Message{Source: g.rank, Tag: tag, Payload: payload}
	if to == g.rank {
		return g.box.Put(*msg)
	}

	conn, err := g.pool.GetConnection(g.addrs[to])
	if err != nil {
		return err
	}

	var ack DeliverAck
	if err := conn.Invoke(ctx, deliverMethod, msg, &ack, grpc.WaitForReady(true)); err != nil {
		if status.Code(err) == codes.Unavailable && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return err
	}

	g.logger.Debug("Delivered message",
		zap.Int("to", int(to)),
		zap.Stringer("tag", tag),
		zap.Int("bytes", len(payload)))
	return nil
}

func (g *GRPCTransport) Recv(ctx context.Context, from types.NodeID, tags ...protocol.Tag) (Message, error) {
	return g.box.Take(ctx, from, tags...)
}

// Close stops serving and drops all connections.
func (g *GRPCTransport) Close() error {
	g.closeOnce.Do(func() {
		g.box.Close()

		g.mu.Lock()
		server := g.server
		g.mu.Unlock()
		if server != nil {
			server.Stop()
		}

		g.pool.CloseAll()
		g.logger.Info("Transport closed")
	})
	return nil
}
