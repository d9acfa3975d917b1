// Package job provides the Job aggregate for montage processing work.
// A job walks through the pipeline stages as a state machine, and the
// repository interfaces in this package persist it between stage
// transitions.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/strikelab/hitreel-api/internal/job/id"
	"github.com/strikelab/hitreel-api/internal/montage"
)

// Status represents the current state of a Job. The non-terminal states
// mirror the pipeline stages so clients can follow progress.
type Status string

const (
	// StatusReceived indicates the upload is stored and the job is queued.
	StatusReceived Status = "RECEIVED"
	// StatusExtractingAudio indicates the audio track is being decoded
	// into an energy signal.
	StatusExtractingAudio Status = "EXTRACTING_AUDIO"
	// StatusDetecting indicates hit detection is running on the signal.
	StatusDetecting Status = "DETECTING"
	// StatusMerging indicates active frames are being merged into intervals.
	StatusMerging Status = "MERGING"
	// StatusExtractingSegments indicates video segments are being cut.
	StatusExtractingSegments Status = "EXTRACTING_SEGMENTS"
	// StatusAssembling indicates segments are being concatenated.
	StatusAssembling Status = "ASSEMBLING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the client.
	StatusCancelled Status = "CANCELLED"
)

// ErrorKind classifies a job failure for API clients.
type ErrorKind string

const (
	// KindNoAudioStream means the input video has no audio track.
	KindNoAudioStream ErrorKind = "NO_AUDIO_STREAM"
	// KindDecodeError means the audio track could not be decoded.
	KindDecodeError ErrorKind = "DECODE_ERROR"
	// KindExtractionError means every segment cut failed.
	KindExtractionError ErrorKind = "EXTRACTION_ERROR"
	// KindIncompatibleStreams means segments could not be concatenated.
	KindIncompatibleStreams ErrorKind = "INCOMPATIBLE_STREAMS"
	// KindEmptySelection means a combine request named no segments.
	KindEmptySelection ErrorKind = "EMPTY_SELECTION"
	// KindIOError means a file or upload operation failed.
	KindIOError ErrorKind = "IO_ERROR"
	// KindTimeout means the job exceeded its processing deadline.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindInternal is the fallback for unclassified failures.
	KindInternal ErrorKind = "INTERNAL"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. The
// pipeline advances one stage at a time; FAILED and CANCELLED are
// reachable from every non-terminal state. MERGING may complete
// directly when no intervals survive merging.
var validTransitions = map[Status][]Status{
	StatusReceived:           {StatusExtractingAudio, StatusFailed, StatusCancelled},
	StatusExtractingAudio:    {StatusDetecting, StatusFailed, StatusCancelled},
	StatusDetecting:          {StatusMerging, StatusFailed, StatusCancelled},
	StatusMerging:            {StatusExtractingSegments, StatusCompleted, StatusFailed, StatusCancelled},
	StatusExtractingSegments: {StatusAssembling, StatusFailed, StatusCancelled},
	StatusAssembling:         {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:          {},
	StatusFailed:             {},
	StatusCancelled:          {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a montage processing job aggregate.
// It contains all state related to turning one uploaded video into a
// hit montage.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains the failure message if the job failed.
	Error string
	// ErrorKind classifies the failure for API clients.
	ErrorKind ErrorKind
	// InputPath is the path to the uploaded source video.
	InputPath string
	// InputName is the original filename of the upload.
	InputName string
	// Settings holds the detection and cutting parameters for this job.
	Settings montage.Settings
	// Segments are the clips extracted so far.
	Segments []montage.Segment
	// Result is the final montage outcome, set on completion.
	Result *montage.Result
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial RECEIVED status.
func New() *Job {
	now := time.Now()
	return &Job{
		ID:        id.Generate(),
		Status:    StatusReceived,
		Settings:  montage.DefaultSettings(),
		Segments:  make([]montage.Segment, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewWithID creates a new Job with the specified ID and initial RECEIVED
// status. Useful for testing or when the ID is externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusReceived,
		Settings:  montage.DefaultSettings(),
		Segments:  make([]montage.Segment, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	default:
		if j.StartedAt.IsZero() {
			j.StartedAt = j.UpdatedAt
		}
	}

	return nil
}

// Complete transitions the job to COMPLETED state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state, recording the error kind
// and message. Returns ErrInvalidTransition if the transition is not
// allowed.
func (j *Job) Fail(kind ErrorKind, errMsg string) error {
	j.mu.Lock()
	j.ErrorKind = kind
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetSegments sets the extracted segments for this job.
func (j *Job) SetSegments(segments []montage.Segment) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Segments = segments
	j.UpdatedAt = time.Now()
}

// SetResult stores the final montage result.
func (j *Job) SetResult(result *montage.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Result = result
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	segments := make([]montage.Segment, len(j.Segments))
	copy(segments, j.Segments)

	var result *montage.Result
	if j.Result != nil {
		r := *j.Result
		r.Segments = make([]montage.Segment, len(j.Result.Segments))
		copy(r.Segments, j.Result.Segments)
		r.Failures = make([]montage.SegmentFailure, len(j.Result.Failures))
		copy(r.Failures, j.Result.Failures)
		result = &r
	}

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		ErrorKind:   j.ErrorKind,
		InputPath:   j.InputPath,
		InputName:   j.InputName,
		Settings:    j.Settings,
		Segments:    segments,
		Result:      result,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
