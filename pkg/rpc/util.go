package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// fullMethod reproduces the "/service/method" path protoc-gen-go-grpc bakes
// into each generated client call and server FullMethod.
func fullMethod(serviceName, method string) string {
	return "/" + serviceName + "/" + method
}

// unaryMethod builds a grpc.MethodDesc for one RPC, the hand-written
// equivalent of what protoc-gen-go-grpc emits per unary method: decode the
// request, run it through the interceptor chain if present, and dispatch to
// call.
func unaryMethod(serviceName, name string, newReq func() interface{}, call func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(serviceName, name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv, ctx, req)
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStreamDesc builds a grpc.StreamDesc for one server-streaming RPC.
func serverStreamDesc(name string, handler func(srv interface{}, stream grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		Handler:       handler,
		ServerStreams: true,
	}
}
