// Package bootstrap provides dependency initialization for the HitReel API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/strikelab/hitreel-api/internal/audio"
	"github.com/strikelab/hitreel-api/internal/config"
	"github.com/strikelab/hitreel-api/internal/job"
	"github.com/strikelab/hitreel-api/internal/media"
	"github.com/strikelab/hitreel-api/internal/montage"
	"github.com/strikelab/hitreel-api/internal/observe"
	"github.com/strikelab/hitreel-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	JobService *job.Service
	Metrics    *observe.Metrics
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	// Initialize ffmpeg adapters
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)
	prober := media.NewFFprobeProber(cfg.FFprobePath)
	extractor := audio.NewFFmpegExtractor(cfg.FFmpegPath,
		audio.WithFrameDuration(cfg.FrameDuration()))
	cutter := montage.NewClipCutter(processor, logger,
		montage.WithMaxParallel(cfg.MaxConcurrentExtractions))
	assembler := montage.NewConcatAssembler(processor, prober, logger)

	// Initialize job repository
	repo := job.NewMemoryRepository()

	svc := job.NewService(
		repo,
		extractor,
		cutter,
		assembler,
		prober,
		store,
		logger,
		job.WithJobTimeout(cfg.JobTimeout),
		job.WithMetrics(metrics),
	)

	return &Dependencies{
		JobService: svc,
		Metrics:    metrics,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.UploadDir, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("upload_dir", localStore.UploadDir()),
		slog.String("output_dir", localStore.OutputRoot()),
	)
	return localStore, nil
}
