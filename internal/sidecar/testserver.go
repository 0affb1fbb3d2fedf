package sidecar

import (
	"context"
	"net"

	"google.golang.org/grpc"
)

// serviceDesc describes the single-method LogAgent service without a
// protoc-generated stub, since the handler just needs to satisfy grpc's
// unary-call wiring against our JSON codec.
func serviceDesc(handler func(ctx context.Context, req *LogRequest) (*LogReply, error)) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "LogAgent",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "SendLog",
				Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
					req := new(LogRequest)
					if err := dec(req); err != nil {
						return nil, err
					}
					return handler(ctx, req)
				},
			},
		},
		Streams: []grpc.StreamDesc{},
	}
}

// TestServer is an in-process fake sidecar listening on a UNIX socket,
// used by the package's own tests in place of the externally-distributed
// echopost binary.
type TestServer struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewTestServer starts a fake sidecar at socketPath that answers SendLog
// with handler's result.
func NewTestServer(socketPath string, handler func(ctx context.Context, req *LogRequest) (*LogReply, error)) (*TestServer, error) {
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	desc := serviceDesc(handler)
	srv.RegisterService(&desc, nil)

	ts := &TestServer{grpcServer: srv, listener: lis}
	go srv.Serve(lis)
	return ts, nil
}

// Stop shuts the fake sidecar down and removes its socket.
func (ts *TestServer) Stop() {
	ts.grpcServer.Stop()
}
