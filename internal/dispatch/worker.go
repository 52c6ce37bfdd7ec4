package dispatch

import (
	"time"

	"github.com/emmett/flux/internal/analysis"
)

// Worker message protocol. Every request carries a monotonically increasing
// correlation id; responses are matched by id. The payload shapes are
// JSON-serializable so the protocol survives any message boundary.
type messageType string

const (
	msgTest         messageType = "test"
	msgInitialize   messageType = "initialize"
	msgProcess      messageType = "process"
	msgUpdateConfig messageType = "updateConfig"
	msgGetStats     messageType = "getStats"
	msgReset        messageType = "reset"
)

type request struct {
	ID   uint64      `json:"id"`
	Type messageType `json:"type"`
	Data requestData `json:"data,omitempty"`
}

type requestData struct {
	Frequency  []byte           `json:"frequency,omitempty"`
	TimeDomain []byte           `json:"timeDomain,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Config     *analysis.Config `json:"config,omitempty"`
}

type response struct {
	ID    uint64        `json:"id"`
	Data  *responseData `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

type responseData struct {
	Alive bool                  `json:"alive,omitempty"`
	Frame *analysis.FrameResult `json:"frame,omitempty"`
	Stats *analysis.EngineStats `json:"stats,omitempty"`
}

// runWorker is the background execution context. It owns a private Engine;
// no state is shared with the main thread, only frame data and results
// cross the channel boundary. The loop exits when the request channel
// closes, closing the response channel behind it.
func runWorker(in <-chan request, out chan<- response) {
	engine := analysis.NewEngine()
	for req := range in {
		out <- handleRequest(engine, req)
	}
	close(out)
}

func handleRequest(engine *analysis.Engine, req request) response {
	resp := response{ID: req.ID}

	switch req.Type {
	case msgTest:
		resp.Data = &responseData{Alive: true}

	case msgInitialize:
		if req.Data.Config == nil {
			resp.Error = "initialize requires a config"
			break
		}
		if err := engine.Initialize(*req.Data.Config); err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Data = &responseData{Alive: true}

	case msgProcess:
		frame, err := engine.Process(req.Data.Frequency, req.Data.TimeDomain, req.Data.Timestamp)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Data = &responseData{Frame: frame}

	case msgUpdateConfig:
		if req.Data.Config == nil {
			resp.Error = "updateConfig requires a config"
			break
		}
		if err := engine.Reconfigure(*req.Data.Config); err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Data = &responseData{Alive: true}

	case msgGetStats:
		stats := engine.Stats()
		resp.Data = &responseData{Stats: &stats}

	case msgReset:
		engine.Reset()
		resp.Data = &responseData{Alive: true}

	default:
		resp.Error = "unknown message type: " + string(req.Type)
	}
	return resp
}
