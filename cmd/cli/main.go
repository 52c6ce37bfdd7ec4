package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/emmett/flux/internal/app"
	"github.com/emmett/flux/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file (default: ~/.fluxrc or /etc/flux/config.yaml)")
	source       = flag.String("source", "", "Capture source: microphone or system (default from config)")
	audioDevice  = flag.String("device", "", "Audio input device name (use --list-devices to see available devices)")
	outputFormat = flag.String("format", "console", "Output format: console, json")
	outputFile   = flag.String("output", "", "Output file (default: stdout)")
	fftSize      = flag.Int("fft-size", 0, "FFT size, power of two (default from config)")
	noWorker     = flag.Bool("no-worker", false, "Disable the background processing worker")
	noSmoothing  = flag.Bool("no-smoothing", false, "Disable per-range smoothing")
	normMethod   = flag.String("normalization", "", "Normalization method: peak, rms, adaptive (default from config)")
	toggleHotkey = flag.String("hotkey", "", "Global hotkey to toggle the capture source (e.g. ctrl+shift+s)")
	listDevices  = flag.Bool("list-devices", false, "List all available audio input devices")
	showVersion  = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Flux CLI v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	fmt.Printf("Flux CLI v%s (commit: %s, branch: %s, built: %s)\n",
		Version, GitCommit, GitBranch, BuildTime)
	fmt.Println("Real-time Audio Analysis")
	fmt.Println()

	if *listDevices {
		dm := app.NewDeviceManager()
		if err := dm.ListDevices(); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *audioDevice != "" {
		dm := app.NewDeviceManager()
		device, err := dm.SelectDevice(*audioDevice)
		if err != nil {
			os.Exit(1)
		}
		cfg.Audio.Device = device.Name
	}

	visualizer := app.NewVisualizer(app.VisualizerConfig{
		Config:       cfg,
		OutputFormat: *outputFormat,
		OutputFile:   *outputFile,
		Hotkey:       *toggleHotkey,
	})
	if err := visualizer.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags overlays command-line flags on the loaded configuration.
func applyFlags(cfg *config.Config) {
	if *source != "" {
		cfg.Audio.Source = *source
	}
	if *fftSize > 0 {
		cfg.Audio.FFTSize = *fftSize
	}
	if *noWorker {
		cfg.Worker.Enabled = false
	}
	if *noSmoothing {
		cfg.Analysis.SmoothingEnabled = false
	}
	if *normMethod != "" {
		cfg.Analysis.NormalizationMethod = *normMethod
	}
}
