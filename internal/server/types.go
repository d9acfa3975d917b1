// Package server provides the HTTP server for the hit montage API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobRequest carries the montage settings supplied as multipart form
// fields alongside the video upload. Absent fields take config defaults
// before validation runs.
type CreateJobRequest struct {
	// AudioSensitivity is the detection threshold in [0, 1].
	AudioSensitivity float64 `json:"audio_sensitivity" validate:"gte=0,lte=1"`
	// MergeThreshold is the maximum silence in seconds between merged hits.
	MergeThreshold float64 `json:"merge_threshold" validate:"gte=0.1,lte=5"`
	// PaddingSeconds widens every hit by this many seconds on each side.
	PaddingSeconds float64 `json:"padding_seconds" validate:"gte=0,lte=30"`
	// PreciseCut re-encodes cuts for frame-accurate boundaries.
	PreciseCut bool `json:"precise_cut"`
	// PushToS3 uploads the finished montage to object storage.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the job status at response time.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// InputName is the original name of the uploaded video.
	InputName string `json:"input_name,omitempty"`
	// Error contains the error message if the job failed.
	Error string `json:"error,omitempty"`
	// ErrorKind is the machine-readable failure category.
	ErrorKind string `json:"error_kind,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// Result holds the montage outcome once the job completed.
	Result *ResultResponse `json:"result,omitempty"`
}

// ResultResponse describes the outcome of a completed job.
type ResultResponse struct {
	// MontageName is the filename of the assembled montage.
	MontageName string `json:"montage_name,omitempty"`
	// DownloadURL is the local download route for the montage.
	DownloadURL string `json:"download_url,omitempty"`
	// OutputURL is the S3 URL when the montage was pushed to object storage.
	OutputURL string `json:"output_url,omitempty"`
	// Message is set for runs that completed without a montage.
	Message string `json:"message,omitempty"`
	// Segments lists the extracted clips in montage order.
	Segments []SegmentResponse `json:"segments,omitempty"`
	// FailedSegments lists intervals whose extraction failed.
	FailedSegments []FailureResponse `json:"failed_segments,omitempty"`
	// Stats summarizes the run.
	Stats StatsResponse `json:"stats"`
}

// SegmentResponse describes one extracted clip.
type SegmentResponse struct {
	Index       int     `json:"index"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Duration    float64 `json:"duration"`
	Filename    string  `json:"filename"`
	SizeBytes   int64   `json:"size_bytes"`
	DownloadURL string  `json:"download_url"`
	Reencoded   bool    `json:"reencoded,omitempty"`
}

// FailureResponse describes one interval whose extraction failed.
type FailureResponse struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Error string  `json:"error"`
}

// StatsResponse summarizes a montage run.
type StatsResponse struct {
	HitsDetected     int     `json:"hits_detected"`
	TotalDuration    float64 `json:"total_duration"`
	MontageDuration  float64 `json:"montage_duration"`
	CompressionRatio float64 `json:"compression_ratio"`
	TimeSaved        float64 `json:"time_saved"`
	SegmentsFailed   int     `json:"segments_failed"`
	Reencoded        bool    `json:"reencoded"`
}

// JobSummary is one entry in the job listing.
type JobSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	InputName string    `json:"input_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs  []JobSummary `json:"jobs"`
	Count int          `json:"count"`
}

// CombineRequest is the HTTP request body for recombining segments.
type CombineRequest struct {
	// SegmentFilenames are output filenames of previously extracted
	// segments, in the desired order. An empty selection is rejected by
	// the service with a dedicated error code.
	SegmentFilenames []string `json:"segment_filenames" validate:"dive,required"`
	// OutputFilename optionally names the combined file.
	OutputFilename string `json:"output_filename" validate:"omitempty,max=255"`
}

// CombineResponse is the HTTP response after recombining segments.
type CombineResponse struct {
	OutputName       string  `json:"output_name"`
	DownloadURL      string  `json:"download_url"`
	SegmentsCombined int     `json:"segments_combined"`
	CombinedDuration float64 `json:"combined_duration"`
	Reencoded        bool    `json:"reencoded"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
