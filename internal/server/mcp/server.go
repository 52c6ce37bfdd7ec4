package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/flux/internal/analysis"
)

// Config holds MCP server configuration.
type Config struct {
	ServerName    string
	ServerVersion string

	// Engine is the analysis configuration used for offline frame analysis
	Engine analysis.Config
}

// Server exposes the analysis pipeline as MCP tools over stdio: offline
// frame analysis, device enumeration and engine stats.
type Server struct {
	config    Config
	mcpServer *sdk.Server
	engine    *analysis.Engine
}

// NewServer creates the MCP server and its private analysis engine.
func NewServer(cfg Config) (*Server, error) {
	s := &Server{config: cfg}

	s.engine = analysis.NewEngine()
	if err := s.engine.Initialize(cfg.Engine); err != nil {
		return nil, fmt.Errorf("failed to initialize analysis engine: %w", err)
	}

	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)

	s.registerTools()
	return s, nil
}

// Start serves MCP over stdio until the client disconnects.
func (s *Server) Start() error {
	return s.mcpServer.Run(context.Background(), &sdk.StdioTransport{})
}

// Stop releases resources.
func (s *Server) Stop() error {
	return nil
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "analyze_frame",
		Description: "Analyze one frame of FFT magnitude bytes and return range values, spectrum metrics and beat state",
	}, s.handleAnalyzeFrame)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_devices",
		Description: "List available audio capture devices",
	}, s.handleListDevices)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "get_stats",
		Description: "Return analysis engine processing statistics",
	}, s.handleGetStats)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "reset",
		Description: "Reset smoothing, normalization and beat history",
	}, s.handleReset)
}
