package grpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"

	"github.com/emmett/flux/internal/dispatch"
)

// Server wraps the gRPC server and the analysis service.
type Server struct {
	grpcServer *grpc.Server
	manager    *dispatch.Manager
	host       string
	port       int
}

// Config holds server configuration.
type Config struct {
	Host     string
	Port     int
	Dispatch dispatch.Config
}

// NewServer creates a new gRPC server with its own processing dispatcher.
func NewServer(cfg Config) (*Server, error) {
	manager := dispatch.NewManager(cfg.Dispatch, nil)
	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dispatcher: %w", err)
	}

	s := &Server{
		grpcServer: grpc.NewServer(),
		manager:    manager,
		host:       cfg.Host,
		port:       cfg.Port,
	}

	service := NewAnalysisService(manager)
	RegisterAnalysisServer(s.grpcServer, service)

	return s, nil
}

// Start starts the gRPC server.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	fmt.Printf("gRPC server listening on %s:%d\n", s.host, s.port)
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
	s.manager.Close()
}

// RegisterAnalysisServer is a placeholder until proto is generated
func RegisterAnalysisServer(s *grpc.Server, srv *AnalysisService) {
	// Will be replaced by generated code: fluxpb.RegisterAnalysisServer(s, srv)
}
