package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxlab/actseg/internal/api"
	"github.com/voxlab/actseg/internal/batcher"
	"github.com/voxlab/actseg/internal/config"
	"github.com/voxlab/actseg/internal/decode"
	"github.com/voxlab/actseg/internal/ingester"
	"github.com/voxlab/actseg/internal/metrics"
	"github.com/voxlab/actseg/internal/predictions"
	"github.com/voxlab/actseg/internal/segmenter"
	slackalert "github.com/voxlab/actseg/internal/slack"
	"github.com/voxlab/actseg/internal/stats"
	"github.com/voxlab/actseg/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("actseg starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"flush_interval", cfg.BatchFlushInterval,
		"flush_threshold", cfg.BatchFlushThreshold,
		"buffer_max", cfg.BufferMaxSize,
		"decode_workers", cfg.DecodeWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Load the dialogue-act vocabulary, if configured.
	labels, err := config.LoadLabels(cfg.LabelsPath)
	if err != nil {
		slog.Error("failed to load act vocabulary", "path", cfg.LabelsPath, "error", err)
		os.Exit(1)
	}
	if labels != nil {
		slog.Info("act vocabulary loaded", "path", cfg.LabelsPath, "acts", len(labels))
	}

	// Fail fast on a misconfigured default convention rather than rejecting
	// every batch that relies on it.
	if _, err := decode.ParseConvention(cfg.DefaultConvention); err != nil {
		slog.Error("invalid DEFAULT_CONVENTION", "value", cfg.DefaultConvention, "error", err)
		os.Exit(1)
	}
	if _, err := decode.ParseLabelResolution(cfg.DefaultLabelResolution); err != nil {
		slog.Error("invalid DEFAULT_LABEL_RESOLUTION", "value", cfg.DefaultLabelResolution, "error", err)
		os.Exit(1)
	}

	// Step 2: Connect to database.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 3: Initialize batcher and stats processor.
	bat := batcher.New(db, batcher.Config{
		FlushInterval:  cfg.BatchFlushInterval,
		FlushThreshold: cfg.BatchFlushThreshold,
		BufferMax:      cfg.BufferMaxSize,
	})
	bat.Start(ctx)

	statsProc := stats.NewProcessor(db)

	// Step 4: Connect to NATS.
	ing, err := ingester.New(cfg.NatsURL, bat)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ing.Close()

	// Step 5: Wire the segmenter into the ingester.
	seg := segmenter.New(db, bat, statsProc, metrics.Default, ing.Publish, labels, cfg.DecodeWorkers, predictions.Defaults{
		Convention:      cfg.DefaultConvention,
		LabelResolution: cfg.DefaultLabelResolution,
	})

	// Conditionally create Slack alerter for decode failures.
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter := slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack decode-failure alerter enabled", "channel", cfg.SlackAlertChannel)
		seg.SetFailureHook(func(callID, reason, detail string) {
			if err := alerter.PostDecodeFailureAlert(ctx, callID, reason, detail); err != nil {
				slog.Warn("failed to post decode failure to Slack", "error", err)
			}
		})
	}

	ing.SetBatchHandler(seg.HandleBatch)

	if err := ing.Start(); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Step 6: Announce availability.
	announcement, _ := json.Marshal(map[string]any{
		"event_type": "service.registered",
		"source":     "actseg",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"metadata":   map[string]any{"port": cfg.Port, "default_convention": cfg.DefaultConvention},
	})
	if err := ing.Publish("dialog.system.actseg.registered", announcement); err != nil {
		slog.Warn("failed to publish registration event", "error", err)
	}

	// Step 7: Start HTTP API.
	srv := api.NewServer(db, bat, labels, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("actseg ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	bat.Wait()
	slog.Info("actseg stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
