// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package main is the entry point for the Vigilium server.
//
// Vigilium ingests application audit events, scores each one for risk,
// runs it through a suspicious-activity detector, and persists it in
// batches to DuckDB. Suspicious records fan out to webhook and
// websocket subscribers as they are detected.
//
// Startup order:
//
//  1. Configuration: koanf v2 layering defaults, config.yaml, and
//     environment variables
//  2. Storage: DuckDB (or the in-memory store when no path is set)
//  3. Fallback log: BadgerDB queue for batches that exhaust retries
//  4. Pipeline: normalizer, risk scorer, detection engine, batched
//     writer
//  5. HTTP API and websocket hub
//  6. Supervision: a suture tree runs every long-lived component
//
// Graceful shutdown on SIGINT/SIGTERM flushes the writer's remaining
// buffer before the process exits.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/mkessl/vigilium/internal/api"
	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/config"
	"github.com/mkessl/vigilium/internal/detection"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/pipeline"
	"github.com/mkessl/vigilium/internal/risk"
	"github.com/mkessl/vigilium/internal/supervisor"
	"github.com/mkessl/vigilium/internal/sweeper"
	ws "github.com/mkessl/vigilium/internal/websocket"
	"github.com/mkessl/vigilium/internal/writer"
)

func main() {
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for the given password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := api.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to hash password:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting Vigilium")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, closeStore, err := openStore(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// Fallback log for batches that exhaust write retries
	fallback, err := writer.OpenFallback(cfg.Writer.FallbackPath)
	if err != nil {
		return fmt.Errorf("failed to open fallback log: %w", err)
	}
	defer func() {
		if err := fallback.Close(); err != nil {
			logging.Warn().Err(err).Msg("Fallback log close failed")
		}
	}()

	// Pipeline components
	normalizer := audit.NewNormalizer(cfg.Audit.RetentionWindow())
	scorer := risk.NewScorer(cfg.Audit.HighRiskThreshold)
	detector := detection.NewEngine(detectionConfig(&cfg.Detection))
	detector.SetEnabled(cfg.Detection.Enabled)

	batched := writer.New(writer.Config{
		BatchSize:      cfg.Writer.BatchSize,
		FlushInterval:  cfg.Writer.FlushInterval,
		MaxRetries:     cfg.Writer.MaxRetries,
		RetryBackoff:   cfg.Writer.RetryBackoff,
		BufferCapacity: cfg.Writer.BufferCapacity,
	}, store, fallback)

	pipe := pipeline.New(normalizer, scorer, detector, batched)

	hub := ws.NewHub()
	pipe.RegisterSink(hub)

	if cfg.Notify.WebhookURL != "" {
		pipe.RegisterNotifier(detection.NewWebhookNotifier(detection.WebhookNotifierConfig{
			WebhookURL:    cfg.Notify.WebhookURL,
			Timeout:       cfg.Notify.WebhookTimeout,
			RatePerMinute: cfg.Notify.RatePerMinute,
			MinSeverity:   audit.Severity(cfg.Notify.MinSeverity),
		}))
	}

	// Authentication
	var jwtManager *api.JWTManager
	if cfg.Security.AuthMode == "jwt" {
		jwtManager, err = api.NewJWTManager(&cfg.Security)
		if err != nil {
			return fmt.Errorf("failed to initialize authentication: %w", err)
		}
	} else {
		logging.Warn().Msg("Authentication is disabled; all API endpoints are open")
	}

	// HTTP surface
	handler := api.NewHandler(pipe, store, hub, jwtManager)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, &cfg.Security),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	// Supervision tree
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(supervisor.Wrap(batched))
	tree.AddDataService(supervisor.Wrap(pipe))
	tree.AddDataService(supervisor.Wrap(
		writer.NewReplayLoop(fallback, 30*time.Second, cfg.Writer.BatchSize, store.SaveBatch)))

	tree.AddDetectionService(supervisor.Wrap(detector))
	if cfg.Sweeper.Enabled {
		tree.AddDetectionService(supervisor.Wrap(sweeper.New(sweeper.Config{
			Interval:       cfg.Sweeper.Interval,
			BatchSize:      cfg.Sweeper.BatchSize,
			ArchiveEnabled: cfg.Sweeper.ArchiveEnabled,
			ArchivePath:    cfg.Sweeper.ArchivePath,
		}, store)))
	}

	tree.AddAPIService(supervisor.Wrap(hub))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))

	// Hot reload: threshold and detection tuning apply without restart.
	watchConfig(scorer, detector)

	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		if err := <-errCh; err != nil && err != context.Canceled {
			return err
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}

// openStore opens DuckDB at the configured path, or the in-memory
// store when no path is set.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (audit.Store, func(), error) {
	if cfg.Path == "" {
		logging.Warn().Msg("No database path configured; using volatile in-memory storage")
		return audit.NewMemoryStore(), func() {}, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	// Auto-install/auto-load stays off so startup never hangs in
	// restricted network environments.
	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, cfg.MaxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	// DuckDB works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := audit.NewDuckDBStore(db)
	if err := store.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("DuckDB storage ready")
	closeFn := func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Database close failed")
		}
	}
	return store, closeFn, nil
}

// detectionConfig maps file configuration onto the engine's tuning.
func detectionConfig(cfg *config.DetectionConfig) detection.EngineConfig {
	ec := detection.DefaultEngineConfig()
	if cfg.Window > 0 {
		ec.Window = cfg.Window
	}
	if cfg.MaxEvents > 0 {
		ec.MaxEvents = cfg.MaxEvents
	}
	if cfg.FailureBurstCount > 0 {
		ec.FailureBurst.Count = cfg.FailureBurstCount
	}
	if cfg.FailureBurstWindow > 0 {
		ec.FailureBurst.Window = cfg.FailureBurstWindow
	}
	if cfg.BulkExportCount > 0 {
		ec.BulkExport.Count = cfg.BulkExportCount
	}
	if cfg.BulkExportWindow > 0 {
		ec.BulkExport.Window = cfg.BulkExportWindow
	}
	ec.OffHours.Start = cfg.BusinessHoursStart
	ec.OffHours.End = cfg.BusinessHoursEnd
	return ec
}

// watchConfig applies hot-reloadable settings when the config file
// changes. Reload failures keep the running configuration.
func watchConfig(scorer *risk.Scorer, detector *detection.Engine) {
	path := config.FindConfigFile()
	if path == "" {
		return
	}

	err := config.WatchConfigFile(path, func() {
		next, err := config.LoadWithKoanf()
		if err != nil {
			logging.Warn().Err(err).Msg("Config reload failed; keeping current settings")
			return
		}

		scorer.SetThreshold(next.Audit.HighRiskThreshold)
		detector.SetEnabled(next.Detection.Enabled)
		applyRuleConfig(detector, &next.Detection)
		logging.SetLevelString(next.Logging.Level)

		logging.Info().
			Int("high_risk_threshold", next.Audit.HighRiskThreshold).
			Bool("detection_enabled", next.Detection.Enabled).
			Msg("Configuration reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config watch unavailable")
	}
}

// applyRuleConfig pushes detection thresholds into the live rules.
func applyRuleConfig(detector *detection.Engine, cfg *config.DetectionConfig) {
	if rule, ok := detector.Rule(detection.RuleRepeatedFailureBurst); ok {
		if fb, ok := rule.(*detection.FailureBurstRule); ok {
			fb.Configure(detection.FailureBurstConfig{
				Count:  cfg.FailureBurstCount,
				Window: cfg.FailureBurstWindow,
			})
		}
	}
	if rule, ok := detector.Rule(detection.RuleBulkExport); ok {
		if be, ok := rule.(*detection.BulkExportRule); ok {
			be.Configure(detection.BulkExportConfig{
				Count:  cfg.BulkExportCount,
				Window: cfg.BulkExportWindow,
			})
		}
	}
	if rule, ok := detector.Rule(detection.RuleOffHoursAdmin); ok {
		if oh, ok := rule.(*detection.OffHoursRule); ok {
			if err := oh.Configure(detection.OffHoursConfig{
				Start: cfg.BusinessHoursStart,
				End:   cfg.BusinessHoursEnd,
			}); err != nil {
				logging.Warn().Err(err).Msg("Ignoring invalid business hours from reload")
			}
		}
	}
}
