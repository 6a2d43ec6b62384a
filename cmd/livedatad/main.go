// livedatad collects journald logs and process metrics into a local
// DuckDB database and serves a query API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/xtxerr/livedata/internal/collector"
	"github.com/xtxerr/livedata/internal/config"
	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/export"
	"github.com/xtxerr/livedata/internal/logging"
	"github.com/xtxerr/livedata/internal/storage"
	"github.com/xtxerr/livedata/internal/web"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "", "config file path (YAML)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	listen := flag.String("listen", "", "web API listen address (overrides config)")
	follow := flag.Bool("follow", false, "skip the startup backfill and tail the journal from its current end")
	noWeb := flag.Bool("no-web", false, "disable the web API")
	processInterval := flag.Int("process-interval", 0, "process sampling interval in seconds (overrides config)")
	logRetention := flag.Int("log-retention-days", 0, "log retention in days (overrides config)")
	logMaxGB := flag.Float64("log-max-size-gb", 0, "log size ceiling in GB (overrides config)")
	procRetention := flag.Int("process-retention-days", 0, "process retention in days (overrides config)")
	procMaxGB := flag.Float64("process-max-size-gb", 0, "process size ceiling in GB (overrides config)")
	cleanupInterval := flag.Int("cleanup-interval", 0, "cleanup interval in minutes, 5-15 (overrides config)")
	sqlTrace := flag.Bool("sql-trace", false, "append every SQL statement to <data-dir>/trace.sql")
	exportDir := flag.String("export-dir", "", "Parquet export directory (default <data-dir>/parquet)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	writeConfig := flag.Bool("write-config", false, "write a default config file to -config and exit")
	flag.Parse()

	if *writeConfig {
		if *cfgPath == "" {
			fmt.Fprintln(os.Stderr, "-write-config requires -config")
			os.Exit(2)
		}
		if err := config.WriteDefault(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote default config to %s\n", *cfgPath)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flag overrides on top of file and environment.
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *processInterval > 0 {
		cfg.ProcessIntervalSec = *processInterval
	}
	if *logRetention > 0 {
		cfg.Retention.LogDays = *logRetention
	}
	if *logMaxGB > 0 {
		cfg.Retention.LogMaxSizeGB = *logMaxGB
	}
	if *procRetention > 0 {
		cfg.Retention.ProcessDays = *procRetention
	}
	if *procMaxGB > 0 {
		cfg.Retention.ProcessMaxSizeGB = *procMaxGB
	}
	if *cleanupInterval > 0 {
		cfg.Retention.CleanupIntervalMin = *cleanupInterval
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	log := logging.Component("main")
	log.Info("livedatad starting", "version", Version, "data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("create data directory", "error", err)
		os.Exit(1)
	}

	if *sqlTrace {
		tracePath := filepath.Join(cfg.DataDir, "trace.sql")
		if err := storage.InitTrace(tracePath); err != nil {
			log.Error("enable sql trace", "error", err)
			os.Exit(1)
		}
		log.Info("sql tracing enabled", "path", tracePath)
	}

	ctx := context.Background()

	svc, err := storage.New(ctx, storage.Options{
		Path:            cfg.DatabasePath(),
		Policy:          policyFrom(cfg),
		CleanupInterval: cfg.CleanupInterval(),
	})
	if err != nil {
		// Unopenable database, failed backup, and failed migration all
		// land here; none has a degraded mode.
		log.Error("initialize storage", "error", err, "fatal", liverrors.IsFatal(err))
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		log.Error("start storage", "error", err)
		os.Exit(1)
	}

	dir := *exportDir
	if dir == "" {
		dir = filepath.Join(cfg.DataDir, "parquet")
	}
	exporter, err := export.New(svc.Store(), dir)
	if err != nil {
		log.Error("initialize exporter", "error", err)
		svc.Stop()
		os.Exit(1)
	}

	source, err := openJournal()
	if err != nil {
		// Log ingestion degrades gracefully; process sampling and the
		// query API still run.
		log.Warn("journal unavailable, log ingestion disabled", "error", err)
	}
	if source != nil {
		defer source.Close()
	}

	ctl := collector.New(svc, collector.Options{
		Source:          source,
		SkipBackfill:    *follow,
		ProcessInterval: time.Duration(cfg.ProcessIntervalSec) * time.Second,
	})

	runCtx, cancel := context.WithCancel(ctx)
	collectorDone := make(chan error, 1)
	go func() { collectorDone <- ctl.Run(runCtx) }()

	var srv *web.Server
	webDone := make(chan error, 1)
	if !*noWeb {
		srv = web.New(cfg.Listen, svc, exporter)
		go func() { webDone <- srv.Start() }()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info("signal received, shutting down", "signal", s.String())
	case err := <-collectorDone:
		collectorDone = nil
		if err != nil {
			log.Error("collector failed", "error", err)
		}
	case err := <-webDone:
		webDone = nil
		if err != nil {
			log.Error("web server failed", "error", err)
		}
	}

	// Shutdown order: stop serving queries, stop producing, then let the
	// storage service drain and checkpoint.
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("web shutdown", "error", err)
		}
		done()
	}

	cancel()
	if collectorDone != nil {
		if err := <-collectorDone; err != nil {
			log.Warn("collector exit", "error", err)
		}
	}

	if err := svc.Stop(); err != nil {
		log.Warn("storage stop", "error", err)
	}

	ingested, failed := ctl.Stats()
	log.Info("livedatad stopped", "entries_ingested", ingested, "entries_failed", failed)
}

func policyFrom(cfg *config.Config) func() storage.Policy {
	return func() storage.Policy {
		return storage.Policy{
			LogRetentionDays:     cfg.Retention.LogDays,
			LogMaxBytes:          cfg.Retention.LogMaxBytes(),
			ProcessRetentionDays: cfg.Retention.ProcessDays,
			ProcessMaxBytes:      cfg.Retention.ProcessMaxBytes(),
		}
	}
}
