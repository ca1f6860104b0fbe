package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cp818/scribe/internal/audio"
	"github.com/cp818/scribe/internal/config"
	"github.com/cp818/scribe/internal/generation"
	"github.com/cp818/scribe/internal/metrics"
	"github.com/cp818/scribe/internal/server"
	"github.com/cp818/scribe/internal/session"
	"github.com/cp818/scribe/internal/transcription"
)

var (
	version = "1.0.0"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scribe-server",
		Short: "Clinical scribe service: live audio to transcript to SOAP note",
		Long: `scribe-server captures live audio, transcribes it chunk by chunk,
accumulates an ordered transcript, and keeps a structured SOAP note
regenerated as the conversation grows.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scribe service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scribe-server %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, devicesCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve wires the pipeline together and runs until interrupted.
func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting scribe service",
		slog.String("version", version),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Float64("chunk_duration", cfg.Capture.ChunkDuration),
		slog.Float64("debounce_interval", cfg.Scheduler.DebounceInterval))

	m := metrics.NewMetrics()

	transcriber, err := transcription.NewClient(transcription.Config{
		Endpoint: cfg.Transcription.Endpoint,
		APIKey:   cfg.Transcription.APIKey,
		Timeout:  cfg.Transcription.GetTimeoutDuration(),
		Language: cfg.Transcription.Language,
		Model:    cfg.Transcription.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	generator, err := generation.NewClient(generation.Config{
		Endpoint:     cfg.Generation.Endpoint,
		APIKey:       cfg.Generation.APIKey,
		Model:        cfg.Generation.Model,
		TokenTimeout: cfg.Generation.GetTokenTimeoutDuration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}

	sourceFactory := func() (audio.Source, error) {
		return audio.NewDeviceSource(audio.DeviceConfig{
			SampleRate: cfg.Capture.SampleRate,
			DeviceName: cfg.Capture.Device,
		})
	}

	manager := session.NewManager(session.ManagerConfig{
		ChunkWindow:    cfg.Capture.GetChunkDuration(),
		SampleRate:     cfg.Capture.SampleRate,
		Debounce:       cfg.Scheduler.GetDebounceDuration(),
		MaxOutOfOrder:  cfg.Scheduler.MaxOutOfOrder,
		SessionTimeout: cfg.Scheduler.GetSessionTimeoutDuration(),
	}, transcriber, generator, sourceFactory, logger, m)

	srv := server.NewServer(cfg, manager, logger, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			manager.Stop()
			return err
		}
	}

	// Stop sessions first so final notes commit before the API goes away.
	manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("failed to stop HTTP server", slog.String("error", err.Error()))
		return err
	}

	logger.Info("scribe service stopped")
	return nil
}

// listDevices prints every available audio input device.
func listDevices() error {
	devices, err := audio.ListInputDevices()
	if err != nil {
		return fmt.Errorf("failed to list input devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("no input devices found")
		return nil
	}

	for _, d := range devices {
		fmt.Printf("%-40s channels=%d default_rate=%.0f\n", d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}

// initLogger creates the structured logger per configuration.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", cfg.Level)
	}

	var output *os.File
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		output = f
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), nil
}
