package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor records every unary RPC as a server request. The
// full method is the URL and the gRPC code is mapped to its HTTP equivalent.
func UnaryServerInterceptor(rec ServerRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		rec.RecordHTTPServer(info.FullMethod, http.MethodPost, httpStatus(err), time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor records every streaming RPC once it finishes
func StreamServerInterceptor(rec ServerRecorder) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		rec.RecordHTTPServer(info.FullMethod, http.MethodPost, httpStatus(err), time.Since(start))
		return err
	}
}

func httpStatus(err error) uint16 {
	return uint16(runtime.HTTPStatusFromCode(status.Code(err)))
}
