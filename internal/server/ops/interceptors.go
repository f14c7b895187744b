package ops

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// probeFields describes a health probe: who asked, about which service, and
// what was answered. Payloads other than health messages are never logged.
func probeFields(ctx context.Context, method string, req, resp any, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("code", status.Code(err).String()),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, zap.String("peer", p.Addr.String()))
	}
	if r, ok := req.(*healthpb.HealthCheckRequest); ok {
		svc := r.GetService()
		if svc == "" {
			svc = "(server)"
		}
		fields = append(fields, zap.String("probed", svc))
	}
	if r, ok := resp.(*healthpb.HealthCheckResponse); ok {
		fields = append(fields, zap.String("answer", r.GetStatus().String()))
	}
	return fields
}

// ProbeLogging logs every unary probe at debug level. Unknown services are a
// normal probe answer; any other failure is logged as a warning.
func ProbeLogging(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := append(probeFields(ctx, info.FullMethod, req, resp, err), zap.Duration("dur", time.Since(start)))
		switch status.Code(err) {
		case codes.OK, codes.NotFound:
			log.Debug("probe", fields...)
		default:
			log.Warn("probe failed", fields...)
		}
		return resp, err
	}
}

// WatchLogging logs when a health watch stream opens and closes.
func WatchLogging(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		start := time.Now()
		log.Debug("watch opened", probeFields(ss.Context(), info.FullMethod, nil, nil, nil)...)
		err := next(srv, ss)
		log.Debug("watch closed", append(probeFields(ss.Context(), info.FullMethod, nil, nil, err),
			zap.Duration("dur", time.Since(start)))...)
		return err
	}
}

// ProbeRecover turns a panic in a handler into codes.Internal.
func ProbeRecover(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("probe panic",
					append(probeFields(ctx, info.FullMethod, req, nil, nil),
						zap.Any("reason", r),
						zap.ByteString("stack", debug.Stack()),
					)...,
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}
