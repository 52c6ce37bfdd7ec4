package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/flux/internal/audio"
)

type AnalyzeFrameArgs struct {
	Frequency  string `json:"frequency" jsonschema:"Base64-encoded frequency magnitude bytes (one byte per FFT bin)"`
	TimeDomain string `json:"time_domain,omitempty" jsonschema:"Base64-encoded time-domain bytes"`
}

type ListDevicesArgs struct{}

type GetStatsArgs struct{}

type ResetArgs struct{}

func (s *Server) handleAnalyzeFrame(ctx context.Context, req *sdk.CallToolRequest, args AnalyzeFrameArgs) (*sdk.CallToolResult, any, error) {
	freq, err := base64.StdEncoding.DecodeString(args.Frequency)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid base64 frequency data: %w", err)
	}
	var timeDomain []byte
	if args.TimeDomain != "" {
		timeDomain, err = base64.StdEncoding.DecodeString(args.TimeDomain)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid base64 time-domain data: %w", err)
		}
	}

	frame, err := s.engine.Process(freq, timeDomain, time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("analysis failed: %w", err)
	}

	data, err := json.MarshalIndent(frame, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}, nil, nil
}

func (s *Server) handleListDevices(ctx context.Context, req *sdk.CallToolRequest, args ListDevicesArgs) (*sdk.CallToolResult, any, error) {
	devices, err := audio.ListDevices()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}

	content := []sdk.Content{
		&sdk.TextContent{Text: fmt.Sprintf("Capture devices (%d):", len(devices))},
	}
	for _, device := range devices {
		content = append(content, &sdk.TextContent{Text: "- " + device.String()})
	}

	return &sdk.CallToolResult{Content: content}, nil, nil
}

func (s *Server) handleGetStats(ctx context.Context, req *sdk.CallToolRequest, args GetStatsArgs) (*sdk.CallToolResult, any, error) {
	stats := s.engine.Stats()
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode stats: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}, nil, nil
}

func (s *Server) handleReset(ctx context.Context, req *sdk.CallToolRequest, args ResetArgs) (*sdk.CallToolResult, any, error) {
	s.engine.Reset()
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: "analysis state reset"}},
	}, nil, nil
}
