package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emmett/flux/internal/audio"
	"github.com/emmett/flux/internal/config"
	"github.com/emmett/flux/internal/dispatch"
	"github.com/emmett/flux/internal/input"
	"github.com/emmett/flux/internal/output"
)

// defaultFrameInterval drives the analysis loop at roughly 50 fps.
const defaultFrameInterval = 20 * time.Millisecond

// VisualizerConfig holds session parameters for a console analysis run.
type VisualizerConfig struct {
	Config       *config.Config
	OutputFormat string // console, json
	OutputFile   string
	Hotkey       string // global source-toggle hotkey, empty disables

	// FrameInterval overrides the analysis loop period; zero uses the default
	FrameInterval time.Duration
}

// Visualizer orchestrates a capture-and-analyze session: it connects the
// capture source, drives the dispatcher once per frame and renders results
// until interrupted.
type Visualizer struct {
	cfg VisualizerConfig
}

// NewVisualizer creates a new Visualizer instance.
func NewVisualizer(cfg VisualizerConfig) *Visualizer {
	return &Visualizer{cfg: cfg}
}

// Run starts the session and blocks until Ctrl+C or a fatal error.
func (v *Visualizer) Run() error {
	cfg := v.cfg.Config

	statusOut := output.DefaultConsoleOutput()

	// Output destination and formatter
	writer := os.Stdout
	if v.cfg.OutputFile != "" {
		outFile, err := os.Create(v.cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer outFile.Close()
		writer = outFile
		statusOut = output.NewConsoleOutput(output.ConsoleConfig{
			ShowTimestamp: true,
			Writer:        os.Stderr,
		})
	}

	var formatter output.Formatter
	switch strings.ToLower(v.cfg.OutputFormat) {
	case "", "console":
		formatter = output.NewConsoleOutput(output.ConsoleConfig{Writer: writer})
	case "json":
		formatter = output.NewJSONFormatter(writer)
	default:
		return fmt.Errorf("unknown output format: %s (valid: console, json)", v.cfg.OutputFormat)
	}
	defer formatter.Close()

	// Audio backend and analyser primitive
	provider, err := audio.NewMalgoProvider()
	if err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}
	defer provider.Close()

	analyser, err := audio.NewFFTAnalyser(cfg.Audio.FFTSize, cfg.Audio.SampleRate, cfg.Audio.SmoothingTimeConstant)
	if err != nil {
		return fmt.Errorf("failed to create analyser: %w", err)
	}

	// Processing dispatcher
	manager := dispatch.NewManager(cfg.DispatchConfig(), func(reason string) {
		formatter.WriteEvent("fallback", reason)
	})
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer manager.Close()

	// Capture source with reconnection
	callbacks := audio.Callbacks{
		OnSourceChange: func(source audio.SourceType, stream audio.Stream) {
			formatter.WriteEvent("source", fmt.Sprintf("capturing from %s", source))
			go feedAnalyser(stream, analyser)
		},
		OnConnectionChange: func(connected bool, source audio.SourceType) {
			if !connected {
				formatter.WriteEvent("connection", fmt.Sprintf("%s disconnected", source))
			}
		},
		OnError: func(cerr *audio.CaptureError) {
			formatter.WriteEvent("error", cerr.Message+": "+cerr.Instructions)
		},
		OnReconnectAttempt: func(attempt, maxAttempts int, delay time.Duration) {
			formatter.WriteEvent("reconnect",
				fmt.Sprintf("attempt %d/%d in %v", attempt, maxAttempts, delay))
		},
	}
	capture := audio.NewCaptureSource(provider, cfg.ReconnectConfig(), callbacks, nil)
	defer capture.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := audio.SourceType(cfg.Audio.Source)
	result := capture.Connect(ctx, source, audio.ConnectOptions{
		AllowFallback: true,
		Constraints:   cfg.Constraints(),
	})
	if !result.Success {
		return fmt.Errorf("failed to connect %s: %s (%s)",
			source, result.Err.Message, result.Err.Instructions)
	}
	if result.FallbackUsed {
		statusOut.Info(fmt.Sprintf("Requested %s was unavailable, using %s",
			result.OriginalSource, result.Source))
	}

	// Optional global hotkey to flip microphone <-> system mid-session
	if v.cfg.Hotkey != "" {
		hk := input.NewHotkeyManager(func() {
			next := capture.Source().Other()
			res := capture.SwitchSource(ctx, next)
			if res.Success {
				return
			}
			if res.Restored {
				formatter.WriteEvent("source", fmt.Sprintf("switch to %s failed, restored %s", next, res.Source))
			} else {
				formatter.WriteEvent("source", fmt.Sprintf("switch to %s failed", next))
			}
		})
		if err := hk.Start(ctx, v.cfg.Hotkey); err != nil {
			statusOut.Error(fmt.Sprintf("Hotkey unavailable: %v", err))
		} else {
			defer hk.Stop()
			statusOut.Info(fmt.Sprintf("Press %s to toggle the capture source", v.cfg.Hotkey))
		}
	}

	// Handle Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nStopping...")
		cancel()
	}()

	statusOut.Info(fmt.Sprintf("Analyzing %s audio (%d Hz, fft %d, worker: %v). Press Ctrl+C to stop.",
		result.Source, cfg.Audio.SampleRate, cfg.Audio.FFTSize, cfg.Worker.Enabled))

	interval := v.cfg.FrameInterval
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	freq := make([]byte, analyser.BufferLength())
	timeDomain := make([]byte, cfg.Audio.FFTSize)
	frameIndex := 0

	for {
		select {
		case <-ctx.Done():
			formatter.Flush()
			stats := manager.Stats()
			statusOut.Info(fmt.Sprintf("Processed %d worker / %d fallback frames (mode: %s)",
				stats.Worker.Frames, stats.Fallback.Frames, stats.Mode))
			return nil

		case <-ticker.C:
			if capture.State() != audio.StateConnected {
				continue
			}
			analyser.FrequencyData(freq)
			analyser.TimeDomainData(timeDomain)

			frame, err := manager.ProcessFrame(freq, timeDomain)
			if err != nil {
				statusOut.Error(fmt.Sprintf("Processing error: %v", err))
				continue
			}
			frameIndex++
			formatter.WriteFrame(output.FrameRecord{
				Index:     frameIndex,
				Timestamp: frame.Timestamp,
				Frame:     frame,
			})
		}
	}
}

// feedAnalyser pumps captured PCM into the analyser until the stream's
// sample channel closes.
func feedAnalyser(stream audio.Stream, analyser *audio.FFTAnalyser) {
	for sample := range stream.Samples() {
		analyser.Feed(sample.Data)
	}
}
