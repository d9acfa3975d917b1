// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/strikelab/hitreel-api/internal/montage"
)

// Static errors for configuration validation.
var (
	// ErrMaxUploadSize is returned when MAX_UPLOAD_MB is not positive.
	ErrMaxUploadSize = errors.New("config: MAX_UPLOAD_MB must be positive")
	// ErrMaxExtractions is returned when MAX_CONCURRENT_EXTRACTIONS is not positive.
	ErrMaxExtractions = errors.New("config: MAX_CONCURRENT_EXTRACTIONS must be positive")
	// ErrFrameDuration is returned when FRAME_MS is outside [5, 1000].
	ErrFrameDuration = errors.New("config: FRAME_MS must be between 5 and 1000")
	// ErrJobTimeout is returned when JOB_TIMEOUT is not positive.
	ErrJobTimeout = errors.New("config: JOB_TIMEOUT must be positive")
	// ErrS3Incomplete is returned when only one of S3_BUCKET and S3_REGION is set.
	ErrS3Incomplete = errors.New("config: S3_BUCKET and S3_REGION must be set together")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings. Empty directories fall back to a scratch area
	// under the system temp directory.
	UploadDir string `env:"UPLOAD_DIR" json:"upload_dir,omitempty"`
	OutputDir string `env:"OUTPUT_DIR" json:"output_dir,omitempty"`

	// Tool settings. Empty paths resolve the binaries via PATH.
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// Processing settings
	MaxConcurrentExtractions int           `env:"MAX_CONCURRENT_EXTRACTIONS, default=4" json:"max_concurrent_extractions"`
	MaxUploadMB              int64         `env:"MAX_UPLOAD_MB, default=2048" json:"max_upload_mb"`
	FrameMS                  int           `env:"FRAME_MS, default=25" json:"frame_ms"`
	JobTimeout               time.Duration `env:"JOB_TIMEOUT, default=30m" json:"job_timeout"`

	// Detection defaults, overridable per request
	DefaultSensitivity float64 `env:"DEFAULT_SENSITIVITY, default=0.3" json:"default_sensitivity"`
	DefaultMergeGap    float64 `env:"DEFAULT_MERGE_GAP, default=0.8" json:"default_merge_gap"`
	DefaultPadding     float64 `env:"DEFAULT_PADDING, default=0" json:"default_padding"`
	MinSegmentSeconds  float64 `env:"MIN_SEGMENT_SECONDS, default=0.5" json:"min_segment_seconds"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// DefaultSettings returns the montage settings applied when a request
// does not override them.
func (c *Config) DefaultSettings() montage.Settings {
	return montage.Settings{
		Sensitivity: c.DefaultSensitivity,
		MergeGap:    c.DefaultMergeGap,
		Padding:     c.DefaultPadding,
		MinDuration: c.MinSegmentSeconds,
	}
}

// FrameDuration returns the analysis frame length in seconds.
func (c *Config) FrameDuration() float64 {
	return float64(c.FrameMS) / 1000.0
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all configured values are usable.
func (c *Config) Validate() error {
	if c.MaxUploadMB <= 0 {
		return ErrMaxUploadSize
	}
	if c.MaxConcurrentExtractions <= 0 {
		return ErrMaxExtractions
	}
	if c.FrameMS < 5 || c.FrameMS > 1000 {
		return ErrFrameDuration
	}
	if c.JobTimeout <= 0 {
		return ErrJobTimeout
	}
	if (c.S3Bucket == "") != (c.S3Region == "") {
		return ErrS3Incomplete
	}
	if err := c.DefaultSettings().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, UploadDir: %s, OutputDir: %s, MaxConcurrentExtractions: %d, MaxUploadMB: %d, FrameMS: %d, JobTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.UploadDir,
		c.OutputDir,
		c.MaxConcurrentExtractions,
		c.MaxUploadMB,
		c.FrameMS,
		c.JobTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
