// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/absmach/fluxtrack/client"
	"github.com/absmach/fluxtrack/config"
	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/otel"
	"github.com/absmach/fluxtrack/pipeline"
	"github.com/absmach/fluxtrack/queue"
	"github.com/absmach/fluxtrack/ratelimit"
	"github.com/absmach/fluxtrack/retry"
	"github.com/absmach/fluxtrack/session"
	"github.com/absmach/fluxtrack/storage"
	"github.com/absmach/fluxtrack/storage/badger"
	"github.com/absmach/fluxtrack/storage/memory"
	"github.com/absmach/fluxtrack/transport"
)

// record is one line of stdin input: an event name plus optional properties.
type record struct {
	Event      string          `json:"event"`
	Properties core.Properties `json:"properties"`
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	stdin := flag.Bool("stdin", false, "Read JSON event records from stdin")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting analytics pipeline",
		"host", cfg.Client.Host,
		"batch_max_size", cfg.Delivery.BatchMaxSize,
		"flush_interval", cfg.Delivery.FlushInterval,
		"storage", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	var store storage.Store
	switch cfg.Storage.Type {
	case "memory":
		store = memory.New()
		slog.Info("Using in-memory storage")
	case "badger":
		badgerStore, err := badger.New(badger.Config{
			Dir:         cfg.Storage.BadgerDir,
			SyncWrites:  cfg.Storage.SyncWrites,
			CompressMin: cfg.Storage.CompressMin,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize BadgerDB storage", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		defer store.Close()
		slog.Info("Using BadgerDB persistent storage", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}

	stateFile := cfg.Storage.StateFile
	if stateFile == "" && cfg.Storage.Type == "badger" {
		stateFile = filepath.Join(cfg.Storage.BadgerDir, "session.json")
	}
	state, err := session.New(stateFile, logger)
	if err != nil {
		slog.Error("Failed to initialize session state", "error", err)
		os.Exit(1)
	}
	slog.Info("Session restored", "distinct_id", state.DistinctID())

	var tr transport.Transport
	if cfg.Client.Test {
		tr = transport.NewStub()
		slog.Info("Test mode enabled, batches accepted locally")
	} else {
		tr = transport.NewHTTP(transport.Config{
			Host:             cfg.Client.Host,
			Protocol:         cfg.Client.Protocol,
			BasePath:         cfg.Client.BasePath,
			Secret:           cfg.Client.Secret,
			Geolocate:        cfg.Client.Geolocate,
			Verbose:          cfg.Client.Verbose,
			Timeout:          cfg.Delivery.RequestTimeout,
			BreakerThreshold: cfg.Delivery.BreakerThreshold,
			BreakerReset:     cfg.Delivery.BreakerReset,
		}, logger)
	}

	policy := retry.Policy{
		Base:       cfg.Delivery.BackoffBase,
		Cap:        cfg.Delivery.BackoffCap,
		Multiplier: cfg.Delivery.BackoffMultiplier,
		Ceiling:    cfg.Delivery.RetryCeiling,
	}

	q := queue.New(store, logger)
	engine := pipeline.New(pipeline.Config{
		BatchMaxSize:    cfg.Delivery.BatchMaxSize,
		FlushInterval:   cfg.Delivery.FlushInterval,
		FlushThreshold:  cfg.Delivery.FlushThreshold,
		RequestTimeout:  cfg.Delivery.RequestTimeout,
		ShutdownTimeout: cfg.Delivery.ShutdownTimeout,
	}, q, tr, policy, logger)

	if cfg.RateLimit.Enabled {
		engine.SetLimiter(ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
		slog.Info("Rate limiting enabled",
			slog.Float64("rate", cfg.RateLimit.Rate),
			slog.Int("burst", cfg.RateLimit.Burst))
	} else {
		slog.Info("Rate limiting disabled")
	}

	var otelShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdown, err := otel.InitProvider(cfg.Metrics)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown

		metrics, err := otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		engine.SetMetrics(metrics)
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Metrics.OTLPEndpoint)
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	if err := engine.Start(); err != nil {
		slog.Error("Failed to start delivery engine", "error", err)
		os.Exit(1)
	}

	c := client.New(cfg.Client.Token, engine, state, logger)

	// Positional arguments are event names to track immediately.
	for _, event := range flag.Args() {
		if err := c.Track(event, nil); err != nil {
			slog.Error("Failed to track event", "event", event, "error", err)
		}
	}

	if *stdin {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec record
			if err := json.Unmarshal(line, &rec); err != nil {
				slog.Warn("Skipping malformed record", "error", err)
				continue
			}
			if err := c.Track(rec.Event, rec.Properties); err != nil {
				slog.Error("Failed to track event", "event", rec.Event, "error", err)
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("Failed to read stdin", "error", err)
		}

		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.Delivery.ShutdownTimeout)
		if err := engine.FlushWait(flushCtx); err != nil {
			slog.Warn("Flush did not complete", "error", err)
		}
		flushCancel()
	} else if flag.NArg() == 0 {
		slog.Info("Analytics pipeline started, waiting for shutdown signal")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Delivery.ShutdownTimeout+time.Second)
	defer shutdownCancel()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if otelShutdown != nil {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}

	slog.Info("Analytics pipeline stopped")
}
