// Package grpcapi serves the standard gRPC health service for the
// transcription backend.
package grpcapi

import (
	"errors"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voicetotext-service/internal/observability"
	"voicetotext-service/internal/observability/logging"
	"voicetotext-service/internal/observability/metrics"
)

// ServiceName is the health-checked service name besides the overall "".
const ServiceName = "voicetotext.TranscriptionService"

// Server wraps a gRPC server exposing health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New creates a server whose services start out NOT_SERVING until
// SetServing is called.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	// Register gRPC health check service
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs, logger: logging.WithComponent("grpc")}
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing marks the service healthy.
func (s *Server) SetServing() {
	s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetNotServing marks the service unhealthy, typically at shutdown start.
func (s *Server) SetNotServing() {
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) setStatus(st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop flips health to NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.SetNotServing()
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info().Msg("gRPC server stopped")
}
