package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// NewServer returns a gRPC server with the flight service registered and
// every call logged.
func NewServer(ctl Controller, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logCalls)}, opts...)
	s := grpc.NewServer(opts...)
	NewService(ctl).Register(s)
	return s
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	monitoring.Logf("[gRPC] %s %s %.3fms", info.FullMethod, status.Code(err), float64(time.Since(start).Nanoseconds())/1e6)
	return resp, err
}

// ListenAndServe serves s on addr until ctx is done, then stops it
// gracefully.
func ListenAndServe(ctx context.Context, s *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return Serve(ctx, s, lis)
}

// Serve serves s on lis until ctx is done.
func Serve(ctx context.Context, s *grpc.Server, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[gRPC] flight control listening on %s", lis.Addr())
		errc <- s.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.GracefulStop()
		<-errc
		monitoring.Logf("[gRPC] server stopped")
		return nil
	}
}
