package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/emmett/flux/internal/analysis"
)

// FrameRecord is one rendered analysis frame.
type FrameRecord struct {
	Index     int                   `json:"index"`
	Timestamp time.Time             `json:"timestamp"`
	Frame     *analysis.FrameResult `json:"frame"`
}

// Event represents a system event such as a source change or reconnect.
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Formatter is the interface for output formatters.
type Formatter interface {
	// WriteFrame writes one analysis frame
	WriteFrame(record FrameRecord) error

	// WriteEvent writes a system event (source change, reconnect, beat)
	WriteEvent(eventType, message string) error

	// Flush ensures all buffered output is written
	Flush() error

	// Close closes the formatter and releases resources
	Close() error
}

// JSONFormatter streams frames and events as JSON documents.
type JSONFormatter struct {
	writer  io.Writer
	encoder *json.Encoder
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return &JSONFormatter{writer: writer, encoder: encoder}
}

// WriteFrame writes an analysis frame as a JSON document.
func (j *JSONFormatter) WriteFrame(record FrameRecord) error {
	if err := j.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}

// WriteEvent writes a system event as a JSON document.
func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	event := Event{
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := j.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// Flush is a no-op; the encoder writes through.
func (j *JSONFormatter) Flush() error { return nil }

// Close closes the underlying writer when it is closable.
func (j *JSONFormatter) Close() error {
	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
