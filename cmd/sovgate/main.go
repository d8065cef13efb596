// Package main is the entry point for the SovGate storage proxy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sovgate/sovgate/internal/backends"
	"github.com/sovgate/sovgate/internal/catalog"
	"github.com/sovgate/sovgate/internal/config"
	"github.com/sovgate/sovgate/internal/logging"
	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/metrics"
	"github.com/sovgate/sovgate/internal/server"
	"github.com/sovgate/sovgate/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file and environment values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	// Initialize the SQLite metadata store. Schema creation is idempotent,
	// so every startup doubles as recovery.
	if err := os.MkdirAll(filepath.Dir(cfg.Metadata.Path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create metadata directory: %v\n", err)
		os.Exit(1)
	}
	store, err := metadata.NewSQLiteStore(cfg.Metadata.Path, cfg.Crypto.TenantSecretPassphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if !cfg.Bootstrap.Disabled {
		if err := seedProviderCatalog(store, cfg.Bootstrap.ProviderCatalogPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed provider catalogue: %v\n", err)
			os.Exit(1)
		}
	}

	registry := backends.NewRegistry(cfg.Backends)
	srv := server.New(cfg, store, registry)

	// Optionally drain the replication queue inside this process.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Replication.InProcess {
		w := &worker.Worker{
			Store:          store,
			Registry:       registry,
			Interval:       time.Duration(cfg.Replication.Interval) * time.Second,
			ClaimLimit:     cfg.Replication.ClaimLimit,
			MaxObjectBytes: cfg.Replication.MaxObjectBytes,
			JobTimeout:     time.Duration(cfg.Replication.JobTimeout) * time.Second,
		}
		go func() {
			if err := w.Run(workerCtx); err != nil && err != context.Canceled {
				slog.Error("replication worker exited", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("SovGate listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
		stopWorker()

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// seedProviderCatalog loads the operator catalogue CSV and inserts any rows
// not yet present. Runs on every startup; seeding is idempotent by
// (provider, zone_code).
func seedProviderCatalog(store metadata.Store, path string) error {
	rows, err := catalog.ReadFile(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		slog.Info("no provider catalogue to seed", "path", path)
		return nil
	}

	inserted, err := store.SeedProviderCapabilities(context.Background(), rows)
	if err != nil {
		return err
	}
	slog.Info("provider catalogue seeded", "path", path, "rows", len(rows), "inserted", inserted)
	return nil
}
