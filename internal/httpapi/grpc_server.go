package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"nasmusic.dev/internal/obs"
)

// ServiceName is the gRPC health service name reported alongside the overall "" entry.
const ServiceName = "nasmusic.api"

// GRPCServer exposes the standard gRPC health protocol and mirrors the
// readiness probe into it.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness ReadinessChecker
	log       *zap.Logger
}

// NewGRPCServer registers the health service on a fresh grpc.Server. Status
// starts as NOT_SERVING until the first probe.
func NewGRPCServer(r ReadinessChecker, opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		server:    grpc.NewServer(opts...),
		health:    health.NewServer(),
		readiness: r,
		log:       obs.Logger(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Server returns the underlying grpc.Server for Serve/GracefulStop.
func (s *GRPCServer) Server() *grpc.Server {
	return s.server
}

// Probe runs the readiness check once and publishes the result.
func (s *GRPCServer) Probe(ctx context.Context) bool {
	ok := true
	if s.readiness != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.readiness.Check(ctx); err != nil {
			s.log.Warn("readiness probe failed", zap.Error(err))
			ok = false
		}
	}
	obs.SetReady(ok)
	if ok {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Watch probes every interval until ctx is done, then marks the service as
// shutting down.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
