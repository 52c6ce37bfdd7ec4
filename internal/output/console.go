package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// meterWidth is the character width of one range meter.
const meterWidth = 20

// ConsoleOutput renders analysis frames as live meters on the console.
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	showTimestamp bool
}

// ConsoleConfig configures console output behavior.
type ConsoleConfig struct {
	// ShowTimestamp prefixes event lines with a timestamp
	ShowTimestamp bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	return &ConsoleOutput{
		writer:        writer,
		showTimestamp: config.ShowTimestamp,
	}
}

// DefaultConsoleOutput creates a console output with default settings.
func DefaultConsoleOutput() *ConsoleOutput {
	return NewConsoleOutput(ConsoleConfig{ShowTimestamp: true, Writer: os.Stdout})
}

// Info writes a status line.
func (c *ConsoleOutput) Info(text string) {
	c.writeLine(text)
}

// Error writes an error line.
func (c *ConsoleOutput) Error(text string) {
	c.writeLine("ERROR: " + text)
}

func (c *ConsoleOutput) writeLine(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showTimestamp {
		fmt.Fprintf(c.writer, "[%s] %s\n", time.Now().Format("15:04:05"), text)
		return
	}
	fmt.Fprintln(c.writer, text)
}

// WriteFrame renders one analysis frame as a single overwritten meter line:
// per-range bars, overall amplitude, the dominant range and a beat marker.
func (c *ConsoleOutput) WriteFrame(record FrameRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := record.Frame
	if frame == nil || frame.Frequency == nil {
		return nil
	}

	names := make([]string, 0, len(frame.Frequency.Ranges))
	for name := range frame.Frequency.Ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	var line strings.Builder
	for _, name := range names {
		fmt.Fprintf(&line, "%s %s  ", name, meter(frame.Frequency.Ranges[name]))
	}
	fmt.Fprintf(&line, "amp %.2f  dom %s", frame.Frequency.Amplitude, frame.Frequency.DominantRange)
	if frame.Beat != nil && frame.Beat.IsBeat {
		fmt.Fprintf(&line, "  BEAT %.2f", frame.Beat.Strength)
	}

	fmt.Fprintf(c.writer, "\r%-110s", line.String())
	return nil
}

// WriteEvent breaks the meter line and logs the event.
func (c *ConsoleOutput) WriteEvent(eventType, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\n[%s] %s\n", eventType, message)
	return nil
}

// Flush ends the meter line.
func (c *ConsoleOutput) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.writer)
	return nil
}

// Close implements Formatter.
func (c *ConsoleOutput) Close() error { return nil }

// meter renders a value in [0, 1] as a fixed-width bar.
func meter(v float64) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(v * meterWidth)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", meterWidth-filled) + "]"
}
