// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package config provides layered configuration loading: built-in
// defaults, an optional YAML file, and environment variable overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Audit     AuditConfig     `koanf:"audit"`
	Writer    WriterConfig    `koanf:"writer"`
	Detection DetectionConfig `koanf:"detection"`
	Sweeper   SweeperConfig   `koanf:"sweeper"`
	Security  SecurityConfig  `koanf:"security"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// Environment is "development" or "production". Production requires
	// explicit credentials when auth is enabled.
	Environment string `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path to the DuckDB file. Empty selects the in-memory store.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`

	// Threads for DuckDB workers; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// AuditConfig holds record lifecycle and risk policy settings.
type AuditConfig struct {
	// RetentionDays is the retention window applied at record creation.
	// The retention date is fixed then; later changes to this setting
	// affect new records only.
	RetentionDays int `koanf:"retention_days"`

	// HighRiskThreshold is the inclusive risk score at or above which a
	// record is flagged high risk.
	HighRiskThreshold int `koanf:"high_risk_threshold"`
}

// WriterConfig holds batched-writer settings.
type WriterConfig struct {
	// BatchSize triggers a flush when the buffer reaches this many
	// records.
	BatchSize int `koanf:"batch_size"`

	// FlushInterval triggers a flush when this much time has passed
	// since the last one, whichever of size or time comes first.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaxRetries bounds flush retry attempts before records divert to
	// the fallback log.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the base backoff, doubled per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// FallbackPath is the Badger directory for the fallback log. Empty
	// selects an in-memory fallback.
	FallbackPath string `koanf:"fallback_path"`

	// BufferCapacity bounds the intake queue; ingestion blocks when
	// full rather than dropping records.
	BufferCapacity int `koanf:"buffer_capacity"`
}

// DetectionConfig holds suspicious-activity detector settings.
type DetectionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Window is the sliding-window duration per tracked key.
	Window time.Duration `koanf:"window"`

	// MaxEvents caps retained events per key regardless of age.
	MaxEvents int `koanf:"max_events"`

	// FailureBurstCount failures within FailureBurstWindow from one key
	// fire the repeated-failure signal.
	FailureBurstCount  int           `koanf:"failure_burst_count"`
	FailureBurstWindow time.Duration `koanf:"failure_burst_window"`

	// BulkExportCount exports within BulkExportWindow fire the
	// bulk-export signal.
	BulkExportCount  int           `koanf:"bulk_export_count"`
	BulkExportWindow time.Duration `koanf:"bulk_export_window"`

	// BusinessHoursStart/End bound the expected activity window, local
	// hours [start, end). Sensitive actions outside it fire the
	// off-hours signal.
	BusinessHoursStart int `koanf:"business_hours_start"`
	BusinessHoursEnd   int `koanf:"business_hours_end"`
}

// SweeperConfig holds retention sweeper settings.
type SweeperConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`

	// BatchSize bounds deletions per pass so a sweep never holds the
	// store for long.
	BatchSize int `koanf:"batch_size"`

	// ArchiveEnabled diverts expired records to a JSONL archive before
	// deletion.
	ArchiveEnabled bool   `koanf:"archive_enabled"`
	ArchivePath    string `koanf:"archive_path"`
}

// SecurityConfig holds authentication and surface-protection settings.
type SecurityConfig struct {
	// AuthMode is "jwt" or "none". "none" is for development and
	// trusted-network deployments only.
	AuthMode string `koanf:"auth_mode"`

	JWTSecret   string        `koanf:"jwt_secret"`
	TokenExpiry time.Duration `koanf:"token_expiry"`

	AdminUsername string `koanf:"admin_username"`
	// AdminPasswordHash is a bcrypt hash. Plaintext passwords are never
	// stored in configuration.
	AdminPasswordHash string `koanf:"admin_password_hash"`

	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	// WebhookURL receives JSON alert payloads for suspicious records.
	// Empty disables webhook delivery.
	WebhookURL     string        `koanf:"webhook_url"`
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`

	// RatePerMinute throttles outbound webhook deliveries.
	RatePerMinute int `koanf:"rate_per_minute"`

	// MinSeverity gates which alerts are delivered.
	MinSeverity string `koanf:"min_severity"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit.retention_days must be at least 1, got %d", c.Audit.RetentionDays)
	}
	if c.Audit.HighRiskThreshold < 0 || c.Audit.HighRiskThreshold > 10 {
		return fmt.Errorf("audit.high_risk_threshold must be in [0,10], got %d", c.Audit.HighRiskThreshold)
	}
	if c.Writer.BatchSize < 1 {
		return fmt.Errorf("writer.batch_size must be at least 1, got %d", c.Writer.BatchSize)
	}
	if c.Writer.FlushInterval <= 0 {
		return fmt.Errorf("writer.flush_interval must be positive, got %s", c.Writer.FlushInterval)
	}
	if c.Writer.MaxRetries < 0 {
		return fmt.Errorf("writer.max_retries must not be negative, got %d", c.Writer.MaxRetries)
	}
	if c.Detection.Window <= 0 {
		return fmt.Errorf("detection.window must be positive, got %s", c.Detection.Window)
	}
	if c.Detection.MaxEvents < 1 {
		return fmt.Errorf("detection.max_events must be at least 1, got %d", c.Detection.MaxEvents)
	}
	if c.Detection.BusinessHoursStart < 0 || c.Detection.BusinessHoursStart > 23 ||
		c.Detection.BusinessHoursEnd < 1 || c.Detection.BusinessHoursEnd > 24 ||
		c.Detection.BusinessHoursStart >= c.Detection.BusinessHoursEnd {
		return fmt.Errorf("detection business hours [%d,%d) are invalid",
			c.Detection.BusinessHoursStart, c.Detection.BusinessHoursEnd)
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive, got %s", c.Sweeper.Interval)
	}
	if c.Sweeper.ArchiveEnabled && c.Sweeper.ArchivePath == "" {
		return fmt.Errorf("sweeper.archive_path is required when archiving is enabled")
	}

	switch c.Security.AuthMode {
	case "jwt":
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("security.jwt_secret is required when auth_mode is jwt")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters")
		}
		if c.Security.AdminUsername == "" || c.Security.AdminPasswordHash == "" {
			return fmt.Errorf("security admin credentials are required when auth_mode is jwt")
		}
	case "none":
		if c.Server.Environment == "production" {
			return fmt.Errorf("security.auth_mode none is not allowed in production")
		}
	default:
		return fmt.Errorf("security.auth_mode must be jwt or none, got %q", c.Security.AuthMode)
	}

	return nil
}

// RetentionWindow returns the retention setting as a duration.
func (c *AuditConfig) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
