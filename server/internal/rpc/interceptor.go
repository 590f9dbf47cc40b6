package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor returns a gRPC UnaryServerInterceptor that logs every
// call with its method, status code and duration.
//
// Successful calls and NotFound are logged at debug level, since a miss is a
// normal result. Server-side failures (Internal, Unavailable, Unknown) are
// logged at error level and everything else at warn.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		attrs := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
		switch code {
		case codes.OK, codes.NotFound:
			slog.Debug("rpc: call", attrs...)
		case codes.Internal, codes.Unavailable, codes.Unknown:
			slog.Error("rpc: call failed", append(attrs, "err", err)...)
		default:
			slog.Warn("rpc: call rejected", append(attrs, "err", err)...)
		}
		return resp, err
	}
}
