// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vigilium/config.yaml",
	"/etc/vigilium/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8420,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/vigilium.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Audit: AuditConfig{
			RetentionDays:     365,
			HighRiskThreshold: 8,
		},
		Writer: WriterConfig{
			BatchSize:      100,
			FlushInterval:  5 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   200 * time.Millisecond,
			FallbackPath:   "/data/vigilium-fallback",
			BufferCapacity: 10000,
		},
		Detection: DetectionConfig{
			Enabled:            true,
			Window:             60 * time.Minute,
			MaxEvents:          500,
			FailureBurstCount:  5,
			FailureBurstWindow: 5 * time.Minute,
			BulkExportCount:    3,
			BulkExportWindow:   10 * time.Minute,
			BusinessHoursStart: 7,
			BusinessHoursEnd:   20,
		},
		Sweeper: SweeperConfig{
			Enabled:        true,
			Interval:       24 * time.Hour,
			BatchSize:      1000,
			ArchiveEnabled: false,
			ArchivePath:    "",
		},
		Security: SecurityConfig{
			AuthMode:          "none",
			JWTSecret:         "",
			TokenExpiry:       time.Hour,
			AdminUsername:     "",
			AdminPasswordHash: "",
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       nil,
		},
		Notify: NotifyConfig{
			WebhookURL:     "",
			WebhookTimeout: 10 * time.Second,
			RatePerMinute:  60,
			MinSeverity:    "HIGH",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration with layered precedence:
//
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := FindConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none.
func FindConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when sourced from env vars.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config
// paths. Only mapped variables are accepted; unmapped keys return empty
// string, which prevents random environment variables from polluting the
// configuration.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - AUDIT_RETENTION_DAYS -> audit.retention_days
//   - WRITER_BATCH_SIZE -> writer.batch_size
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":      "server.host",
		"http_port":      "server.port",
		"server_timeout": "server.timeout",
		"environment":    "server.environment",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Audit policy
		"audit_retention_days":      "audit.retention_days",
		"audit_high_risk_threshold": "audit.high_risk_threshold",

		// Writer
		"writer_batch_size":      "writer.batch_size",
		"writer_flush_interval":  "writer.flush_interval",
		"writer_max_retries":     "writer.max_retries",
		"writer_retry_backoff":   "writer.retry_backoff",
		"writer_fallback_path":   "writer.fallback_path",
		"writer_buffer_capacity": "writer.buffer_capacity",

		// Detection
		"detection_enabled":              "detection.enabled",
		"detection_window":               "detection.window",
		"detection_max_events":           "detection.max_events",
		"detection_failure_burst_count":  "detection.failure_burst_count",
		"detection_failure_burst_window": "detection.failure_burst_window",
		"detection_bulk_export_count":    "detection.bulk_export_count",
		"detection_bulk_export_window":   "detection.bulk_export_window",
		"detection_business_hours_start": "detection.business_hours_start",
		"detection_business_hours_end":   "detection.business_hours_end",

		// Sweeper
		"sweeper_enabled":         "sweeper.enabled",
		"sweeper_interval":        "sweeper.interval",
		"sweeper_batch_size":      "sweeper.batch_size",
		"sweeper_archive_enabled": "sweeper.archive_enabled",
		"sweeper_archive_path":    "sweeper.archive_path",

		// Security
		"auth_mode":           "security.auth_mode",
		"jwt_secret":          "security.jwt_secret",
		"token_expiry":        "security.token_expiry",
		"admin_username":      "security.admin_username",
		"admin_password_hash": "security.admin_password_hash",
		"rate_limit_requests": "security.rate_limit_requests",
		"rate_limit_window":   "security.rate_limit_window",
		"cors_origins":        "security.cors_origins",

		// Notify
		"notify_webhook_url":     "notify.webhook_url",
		"notify_webhook_timeout": "notify.webhook_timeout",
		"notify_rate_per_minute": "notify.rate_per_minute",
		"notify_min_severity":    "notify.min_severity",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The caller is responsible for mutex protection when swapping
// configuration during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
