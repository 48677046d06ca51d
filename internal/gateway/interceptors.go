package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsUnaryInterceptor times every unary RPC and records it against the
// gateway's metrics recorder, labeled by method and by status: "ok" on
// success, otherwise the error's gRPC code name ("error" when it has none).
func (g *Gateway) MetricsUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	started := time.Now()
	resp, err := handler(ctx, req)
	g.mx.RecordRPC(info.FullMethod, rpcStatusLabel(err), time.Since(started).Seconds())
	return resp, err
}

// MetricsStreamInterceptor is the streaming-RPC counterpart of
// MetricsUnaryInterceptor: it times the entire lifetime of the stream,
// since AgentControl.Stream and PackService.Register run for as long as
// their peer stays connected.
func (g *Gateway) MetricsStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	started := time.Now()
	err := handler(srv, ss)
	g.mx.RecordRPC(info.FullMethod, rpcStatusLabel(err), time.Since(started).Seconds())
	return err
}

func rpcStatusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if st, ok := status.FromError(err); ok && st.Code().String() != "" {
		return st.Code().String()
	}
	return "error"
}
