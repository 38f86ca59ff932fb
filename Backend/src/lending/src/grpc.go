package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer exposes the standard health service for orchestrators.
func NewGRPCServer(serviceName string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

// watchDB flips the service status when the database stops answering pings.
func watchDB(ctx context.Context, hs *health.Server, serviceName string, ping func(context.Context) error, every time.Duration, log zerolog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	last := healthpb.HealthCheckResponse_SERVING
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, every/2)
			err := ping(pctx)
			cancel()
			status := healthpb.HealthCheckResponse_SERVING
			if err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			if status != last {
				log.Warn().Err(err).Str("status", status.String()).Msg("health status changed")
				last = status
			}
			hs.SetServingStatus(serviceName, status)
		}
	}
}
