// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, pipeline tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/strikelab/hitreel-api"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks how long each pipeline stage takes. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...) and attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram

	// CompressionRatio tracks montage length as a fraction of source length.
	CompressionRatio metric.Float64Histogram

	// JobsProcessed counts finished jobs. Use with
	// attribute.String("status", ...).
	JobsProcessed metric.Int64Counter

	// HitsDetected counts detected hit intervals across all jobs.
	HitsDetected metric.Int64Counter

	// SegmentsExtracted counts segment cuts. Use with
	// attribute.String("status", "ok"|"failed").
	SegmentsExtracted metric.Int64Counter

	// ActiveJobs tracks the number of jobs currently being processed.
	ActiveJobs metric.Int64UpDownCounter
}

// stageBuckets defines histogram bucket boundaries (in seconds) for
// pipeline stages, which shell out to ffmpeg and run from well under a
// second (probing) to minutes (re-encoding long inputs).
var stageBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// ratioBuckets covers compression ratios from "almost everything cut"
// to "montage nearly as long as the source".
var ratioBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("hitreel.stage.duration",
		metric.WithDescription("Duration of each montage pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("hitreel.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.CompressionRatio, err = m.Float64Histogram("hitreel.montage.compression_ratio",
		metric.WithDescription("Montage duration as a fraction of source duration."),
		metric.WithExplicitBucketBoundaries(ratioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobsProcessed, err = m.Int64Counter("hitreel.jobs.processed",
		metric.WithDescription("Total finished jobs by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.HitsDetected, err = m.Int64Counter("hitreel.hits.detected",
		metric.WithDescription("Total detected hit intervals."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsExtracted, err = m.Int64Counter("hitreel.segments.extracted",
		metric.WithDescription("Total segment extractions by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("hitreel.jobs.active",
		metric.WithDescription("Number of jobs currently being processed."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStageDuration records how long a pipeline stage took.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordJobOutcome records a finished job with its terminal status.
func (m *Metrics) RecordJobOutcome(ctx context.Context, status string) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordHits records the number of hit intervals a job detected.
func (m *Metrics) RecordHits(ctx context.Context, hits int) {
	m.HitsDetected.Add(ctx, int64(hits))
}

// RecordSegments records extracted and failed segment counts for a job.
func (m *Metrics) RecordSegments(ctx context.Context, ok, failed int) {
	if ok > 0 {
		m.SegmentsExtracted.Add(ctx, int64(ok),
			metric.WithAttributes(attribute.String("status", "ok")),
		)
	}
	if failed > 0 {
		m.SegmentsExtracted.Add(ctx, int64(failed),
			metric.WithAttributes(attribute.String("status", "failed")),
		)
	}
}

// RecordCompressionRatio records the montage/source duration ratio of a
// finished job.
func (m *Metrics) RecordCompressionRatio(ctx context.Context, ratio float64) {
	m.CompressionRatio.Record(ctx, ratio)
}
