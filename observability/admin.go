package observability

import (
	"context"
	"fmt"
	"io"
	"net"

	"google.golang.org/grpc"

	"github.com/oceanbase/obkv-table-client-go/obkvgrpc"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// watchRequest is the empty request message for the Watch streaming RPC.
// Hand-built rather than protoc-generated (see obkvgrpc's package doc):
// gRPC's server-streaming wire protocol still expects the client to send
// one request message before the server starts streaming responses.
type watchRequest struct{}

func (watchRequest) ChannelID() wire.ChannelID { return wire.ChannelObservabilityEvent }
func (watchRequest) Encode(io.Writer) error    { return nil }
func (*watchRequest) Decode(io.Reader) error   { return nil }

const adminWatchMethod = "/obkv.observability.v1.Admin/Watch"

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "obkv.observability.v1.Admin",
	// HandlerType left nil: grpc.Server.RegisterService only runs its
	// reflect.Type.Implements check when HandlerType is non-nil, and there
	// is no protoc-generated interface to assert against here.
	HandlerType: nil,
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Watch",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(*adminService).watch(stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "obkvgrpc/admin",
}

type adminService struct {
	broker *Broker
}

func (s *adminService) watch(stream grpc.ServerStream) error {
	req := &watchRequest{}
	if err := stream.RecvMsg(req); err != nil {
		return fmt.Errorf("observability: watch recv: %w", err)
	}

	ch, unsub := s.broker.Subscribe()
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("observability: watch: %w", ctx.Err())
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&ev); err != nil {
				return fmt.Errorf("observability: watch send: %w", err)
			}
		}
	}
}

// AdminServer exposes the Broker over a custom-codec gRPC streaming RPC
// (Watch), adapted from the teacher's server.Server/tapService.Watch,
// with protobuf messages replaced by wire.Payload types carried over the
// obkvgrpc "obkvframe" codec (spec §13).
type AdminServer struct {
	grpcServer *grpc.Server
}

// NewAdminServer creates an AdminServer backed by b.
func NewAdminServer(b *Broker) *AdminServer {
	gs := grpc.NewServer()
	gs.RegisterService(&adminServiceDesc, &adminService{broker: b})
	return &AdminServer{grpcServer: gs}
}

// Serve starts the gRPC server on lis.
func (s *AdminServer) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("observability: serve: %w", err)
	}
	return nil
}

// Stop immediately stops the server, closing all active connections.
func (s *AdminServer) Stop() { s.grpcServer.Stop() }

// GracefulStop gracefully stops the server.
func (s *AdminServer) GracefulStop() { s.grpcServer.GracefulStop() }

// WatchAdmin opens a Watch stream against an AdminServer over cc and
// returns a channel of DispatchEvents. There is no protoc-generated
// client stub to call, so the stream is opened directly through
// grpc.ClientConn.NewStream with the obkvgrpc codec selected via
// CallContentSubtype.
func WatchAdmin(ctx context.Context, cc *grpc.ClientConn) (<-chan *DispatchEvent, error) {
	desc := &grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}
	stream, err := cc.NewStream(ctx, desc, adminWatchMethod, grpc.CallContentSubtype(obkvgrpc.Name))
	if err != nil {
		return nil, fmt.Errorf("observability: open watch stream: %w", err)
	}
	if err := stream.SendMsg(&watchRequest{}); err != nil {
		return nil, fmt.Errorf("observability: watch send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("observability: watch close send: %w", err)
	}

	out := make(chan *DispatchEvent)
	go func() {
		defer close(out)
		for {
			ev := &DispatchEvent{}
			if err := stream.RecvMsg(ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
