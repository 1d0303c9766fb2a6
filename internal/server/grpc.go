package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServiceName is the service name reported by the gRPC health server
// alongside the overall ("") status.
const HealthServiceName = "ctxconf.v1.ConfigService"

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the health service and reflection, and returns both ready to serve. The
// health server starts NOT_SERVING until WatchHealth reports a good ping.
func NewGRPCServer(authToken string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
	)

	hs := health.NewServer()
	setServing(hs, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// WatchHealth pings p every interval and mirrors the result into hs until
// ctx is cancelled, then marks the server as shutting down.
func WatchHealth(ctx context.Context, hs *health.Server, p Pinger, interval time.Duration) {
	checkHealth(ctx, hs, p)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			checkHealth(ctx, hs, p)
		}
	}
}

func checkHealth(ctx context.Context, hs *health.Server, p Pinger) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		if ctx.Err() == nil {
			slog.Warn("store ping failed", "err", err)
		}
		setServing(hs, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	setServing(hs, healthpb.HealthCheckResponse_SERVING)
}

func setServing(hs *health.Server, st healthpb.HealthCheckResponse_ServingStatus) {
	hs.SetServingStatus("", st)
	hs.SetServingStatus(HealthServiceName, st)
}
