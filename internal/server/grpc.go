package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"vaultrouter/internal/ingestion"
	"vaultrouter/internal/observability"
	"vaultrouter/internal/query"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// RebuildFunc replays the event log into the projections and returns the
// last replayed sequence
type RebuildFunc func(ctx context.Context) (int64, error)

// Deps holds everything the servers expose.
type Deps struct {
	Query   *query.QueryService
	Ingest  *ingestion.AdminIngestService
	Rebuild RebuildFunc // optional

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics // optional
	Gatherer prometheus.Gatherer    // defaults to prometheus.DefaultGatherer
	Logger   zerolog.Logger
}

// Server runs the gRPC health endpoint and the HTTP/JSON API.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	checker    *observability.HealthChecker
	log        zerolog.Logger
}

func NewServer(grpcAddr, httpAddr string, deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           NewHandler(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		checker:  deps.Health,
		log:      deps.Logger,
	}
}

// SetReady flips readiness on /readyz and the gRPC health service together
func (s *Server) SetReady(ready bool) {
	s.checker.SetReady(ready)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// StartGRPC serves gRPC until ctx is done.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP API until ctx is done.
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
