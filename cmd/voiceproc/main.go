package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voiceproc/config"
	"voiceproc/internal/application"
	"voiceproc/internal/infra"
	"voiceproc/internal/infra/audio"
	"voiceproc/internal/infra/control"
	"voiceproc/internal/infra/device"
	"voiceproc/internal/infra/metrics"
	"voiceproc/internal/infra/pushover"
	"voiceproc/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	asset, err := audio.LoadAsset(cfg.Asset.Path)
	if err != nil {
		logger.Error("loading audio asset", "error", err)
		os.Exit(1)
	}
	logger.Info("audio asset loaded",
		"path", cfg.Asset.Path,
		"sample_rate", asset.SampleRate(),
		"channels", asset.Channels(),
		"duration", asset.Duration(),
	)

	var notifier application.Notifier
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey, cfg.Pushover.Endpoint)
	} else {
		notifier = application.NoopNotifier{}
	}

	recorder := metrics.NewRecorder()

	server := control.NewServer(cfg.Control.Addr, cfg.Control.AuthToken, cfg.Control.TrustProxyHeaders, recorder.Handler(), logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("starting control server", "error", err)
		os.Exit(1)
	}
	defer server.Stop()

	opts := pipeline.Options{
		Asset:           asset,
		Host:            createHost(cfg.Output, logger),
		Session:         cfg.SessionConfiguration(),
		VoiceProcessing: cfg.VoiceProcessing.Enabled,
		QueueSize:       cfg.Events.QueueSize,
		PollInterval:    cfg.PollInterval(),
		Retry:           infra.Retrier(cfg.RetryConfig()),
		Notifier:        notifier,
		Metrics:         recorder,
	}

	logger.Info("starting voice processing pipeline",
		"backend", cfg.Output.Backend,
		"voice_processing", cfg.VoiceProcessing.Enabled,
	)

	hooks := pipeline.Hooks{
		Started: func(p *pipeline.Process) {
			server.SetTarget(p.Coordinator())
		},
		Reinitialized: func(error) {
			recorder.Reinitialized()
		},
	}

	if err := pipeline.Supervise(ctx, opts, cfg.Recovery.MaxReinitializations, hooks, logger); err != nil {
		logger.Error("pipeline error", "error", err)
		server.Stop()
		os.Exit(1)
	}
}

func createHost(cfg config.OutputConfig, logger *slog.Logger) device.Host {
	switch cfg.Backend {
	case "portaudio":
		return device.NewPortAudioHost(cfg.FramesPerBuffer, logger)
	default:
		return device.NewNullHost(device.NullHostConfig{
			SampleRate:      cfg.SampleRate,
			Channels:        2,
			FramesPerBuffer: cfg.FramesPerBuffer,
			Realtime:        true,
		}, logger)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
