package grpc

import (
	"context"
	"encoding/json"
	"io"

	"github.com/emmett/flux/internal/analysis"
	"github.com/emmett/flux/internal/dispatch"
)

// AnalysisService implements the gRPC analysis service: clients stream raw
// frequency/time-domain frames and receive structured analysis results.
type AnalysisService struct {
	manager *dispatch.Manager
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(manager *dispatch.Manager) *AnalysisService {
	return &AnalysisService{manager: manager}
}

// FramePayload represents one incoming frame of byte magnitudes.
type FramePayload struct {
	Frequency  []byte
	TimeDomain []byte
}

// AnalysisFrame represents one outgoing analysis result.
type AnalysisFrame struct {
	RangesJSON  []byte
	IsBeat      bool
	Strength    float32
	Amplitude   float32
	TimestampMs int64
}

// AnalyzeStream is the bidirectional streaming interface.
type AnalyzeStream interface {
	Send(*AnalysisFrame) error
	Recv() (*FramePayload, error)
	Context() context.Context
}

// Analyze handles bidirectional streaming analysis
// This will be updated to use generated proto types once protoc runs
func (s *AnalysisService) Analyze(stream AnalyzeStream) error {
	ctx := stream.Context()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		default:
			payload, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}

			frame, err := s.manager.ProcessFrame(payload.Frequency, payload.TimeDomain)
			if err != nil {
				return err
			}

			out := &AnalysisFrame{
				Amplitude:   float32(frame.Frequency.Amplitude),
				TimestampMs: frame.Timestamp.UnixMilli(),
			}
			if frame.Beat != nil {
				out.IsBeat = frame.Beat.IsBeat
				out.Strength = float32(frame.Beat.Strength)
			}
			if ranges, err := encodeRanges(frame.Frequency.Ranges); err == nil {
				out.RangesJSON = ranges
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

// Stats returns dispatcher stats for a unary stats endpoint.
func (s *AnalysisService) Stats(_ context.Context) (dispatch.Stats, error) {
	return s.manager.Stats(), nil
}

func encodeRanges(ranges analysis.RangeValues) ([]byte, error) {
	return json.Marshal(ranges)
}
