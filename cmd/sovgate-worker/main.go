// Package main is the entry point for the standalone SovGate replication
// worker. It shares configuration and the metadata store with the server
// process and drains the replication job queue until stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sovgate/sovgate/internal/backends"
	"github.com/sovgate/sovgate/internal/config"
	"github.com/sovgate/sovgate/internal/logging"
	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/metrics"
	"github.com/sovgate/sovgate/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	interval := flag.Int("interval", 0, "override poll interval in seconds (default: from config or 2)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *interval > 0 {
		cfg.Replication.Interval = *interval
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	store, err := metadata.NewSQLiteStore(cfg.Metadata.Path, cfg.Crypto.TenantSecretPassphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	w := &worker.Worker{
		Store:          store,
		Registry:       backends.NewRegistry(cfg.Backends),
		Interval:       time.Duration(cfg.Replication.Interval) * time.Second,
		ClaimLimit:     cfg.Replication.ClaimLimit,
		MaxObjectBytes: cfg.Replication.MaxObjectBytes,
		JobTimeout:     time.Duration(cfg.Replication.JobTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("replication worker exited", "error", err)
		os.Exit(1)
	}
}
