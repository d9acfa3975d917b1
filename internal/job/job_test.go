package job

import (
	"testing"
	"time"

	"github.com/strikelab/hitreel-api/internal/montage"
)

func TestNew(t *testing.T) {
	job := New()

	if job.ID == "" {
		t.Error("expected job to have an ID")
	}
	if job.Status != StatusReceived {
		t.Errorf("expected status %s, got %s", StatusReceived, job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
	if job.Segments == nil {
		t.Error("expected Segments to be initialized")
	}
	if job.Settings.Sensitivity != montage.DefaultSensitivity {
		t.Errorf("expected default sensitivity %v, got %v", montage.DefaultSensitivity, job.Settings.Sensitivity)
	}
}

func TestNewWithID(t *testing.T) {
	id := "test-job-123"
	job := NewWithID(id)

	if job.ID != id {
		t.Errorf("expected ID %s, got %s", id, job.ID)
	}
	if job.Status != StatusReceived {
		t.Errorf("expected status %s, got %s", StatusReceived, job.Status)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// The pipeline advances one stage at a time
		{"RECEIVED to EXTRACTING_AUDIO", StatusReceived, StatusExtractingAudio, false},
		{"EXTRACTING_AUDIO to DETECTING", StatusExtractingAudio, StatusDetecting, false},
		{"DETECTING to MERGING", StatusDetecting, StatusMerging, false},
		{"MERGING to EXTRACTING_SEGMENTS", StatusMerging, StatusExtractingSegments, false},
		{"EXTRACTING_SEGMENTS to ASSEMBLING", StatusExtractingSegments, StatusAssembling, false},
		{"ASSEMBLING to COMPLETED", StatusAssembling, StatusCompleted, false},
		// No intervals survived merging: the job completes early
		{"MERGING to COMPLETED", StatusMerging, StatusCompleted, false},
		// Failure and cancellation from any non-terminal state
		{"RECEIVED to FAILED", StatusReceived, StatusFailed, false},
		{"RECEIVED to CANCELLED", StatusReceived, StatusCancelled, false},
		{"DETECTING to FAILED", StatusDetecting, StatusFailed, false},
		{"EXTRACTING_SEGMENTS to CANCELLED", StatusExtractingSegments, StatusCancelled, false},
		{"ASSEMBLING to FAILED", StatusAssembling, StatusFailed, false},
		// Stage skips are rejected
		{"RECEIVED to DETECTING", StatusReceived, StatusDetecting, true},
		{"RECEIVED to COMPLETED", StatusReceived, StatusCompleted, true},
		{"EXTRACTING_AUDIO to EXTRACTING_SEGMENTS", StatusExtractingAudio, StatusExtractingSegments, true},
		{"DETECTING to COMPLETED", StatusDetecting, StatusCompleted, true},
		{"EXTRACTING_SEGMENTS to COMPLETED", StatusExtractingSegments, StatusCompleted, true},
		// Backward transitions are rejected
		{"DETECTING to EXTRACTING_AUDIO", StatusDetecting, StatusExtractingAudio, true},
		{"ASSEMBLING to MERGING", StatusAssembling, StatusMerging, true},
		{"COMPLETED to RECEIVED", StatusCompleted, StatusReceived, true},
		{"FAILED to EXTRACTING_AUDIO", StatusFailed, StatusExtractingAudio, true},
		{"CANCELLED to ASSEMBLING", StatusCancelled, StatusAssembling, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_FullPipelineWalk(t *testing.T) {
	job := New()
	beforeStart := time.Now()

	stages := []Status{
		StatusExtractingAudio,
		StatusDetecting,
		StatusMerging,
		StatusExtractingSegments,
		StatusAssembling,
		StatusCompleted,
	}

	for _, stage := range stages {
		if err := job.TransitionTo(stage); err != nil {
			t.Fatalf("unexpected error advancing to %s: %v", stage, err)
		}
	}

	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, job.Status)
	}
	if job.StartedAt.Before(beforeStart) {
		t.Error("expected StartedAt to be set when processing began")
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_Fail(t *testing.T) {
	job := New()
	_ = job.TransitionTo(StatusExtractingAudio)

	errMsg := "no audio track in input"
	err := job.Fail(KindNoAudioStream, errMsg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error != errMsg {
		t.Errorf("expected error %q, got %q", errMsg, job.Error)
	}
	if job.ErrorKind != KindNoAudioStream {
		t.Errorf("expected error kind %s, got %s", KindNoAudioStream, job.ErrorKind)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set on failure")
	}
}

func TestJob_Cancel(t *testing.T) {
	job := New()
	_ = job.TransitionTo(StatusExtractingAudio)

	err := job.Cancel()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusCancelled {
		t.Errorf("expected status %s, got %s", StatusCancelled, job.Status)
	}
}

func TestJob_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	allStates := []Status{
		StatusReceived, StatusExtractingAudio, StatusDetecting, StatusMerging,
		StatusExtractingSegments, StatusAssembling, StatusCompleted, StatusFailed, StatusCancelled,
	}

	for _, terminal := range terminalStates {
		for _, target := range allStates {
			t.Run(string(terminal)+"_to_"+string(target), func(t *testing.T) {
				job := NewWithID("test")
				job.Status = terminal

				err := job.TransitionTo(target)
				if err == nil {
					t.Errorf("expected error when transitioning from %s to %s", terminal, target)
				}
				if err != ErrInvalidTransition {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusReceived, false},
		{StatusExtractingAudio, false},
		{StatusDetecting, false},
		{StatusMerging, false},
		{StatusExtractingSegments, false},
		{StatusAssembling, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.status

			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_SetSegments(t *testing.T) {
	job := New()
	segments := []montage.Segment{
		{Index: 1, Start: 2.0, End: 4.1, Filename: "mtg-1_segment_001.mp4"},
		{Index: 2, Start: 7.5, End: 9.0, Filename: "mtg-1_segment_002.mp4"},
	}

	job.SetSegments(segments)

	if len(job.Segments) != 2 {
		t.Errorf("expected 2 segments, got %d", len(job.Segments))
	}
	if job.Segments[0].Filename != "mtg-1_segment_001.mp4" {
		t.Errorf("expected first segment filename mtg-1_segment_001.mp4, got %s", job.Segments[0].Filename)
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := New()

	tests := []struct {
		input    int
		expected int
	}{
		{50, 50},
		{0, 0},
		{100, 100},
		{-10, 0},   // Clamped to 0
		{150, 100}, // Clamped to 100
	}

	for _, tt := range tests {
		job.UpdateProgress(tt.input)
		if job.Progress != tt.expected {
			t.Errorf("UpdateProgress(%d): expected %d, got %d", tt.input, tt.expected, job.Progress)
		}
	}
}

func TestJob_SetResult(t *testing.T) {
	job := New()

	job.SetResult(&montage.Result{
		MontagePath: "/tmp/outputs/mtg-1_montage.mp4",
		MontageName: "mtg-1_montage.mp4",
		Stats:       montage.Stats{HitsDetected: 3},
	})

	if job.Result == nil {
		t.Fatal("expected Result to be set")
	}
	if job.Result.MontageName != "mtg-1_montage.mp4" {
		t.Errorf("expected montage name mtg-1_montage.mp4, got %s", job.Result.MontageName)
	}
	if job.Result.Stats.HitsDetected != 3 {
		t.Errorf("expected 3 hits, got %d", job.Result.Stats.HitsDetected)
	}
}

func TestJob_Clone(t *testing.T) {
	job := New()
	job.Status = StatusExtractingSegments
	job.Progress = 55
	job.SetSegments([]montage.Segment{
		{Index: 1, Start: 2.0, End: 4.1},
	})
	job.SetResult(&montage.Result{
		MontageName: "montage.mp4",
		Segments:    []montage.Segment{{Index: 1}},
		Failures:    []montage.SegmentFailure{{Index: 2, Error: "cut failed"}},
	})

	clone := job.Clone()

	// Verify clone has same values
	if clone.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, clone.ID)
	}
	if clone.Status != job.Status {
		t.Errorf("expected Status %s, got %s", job.Status, clone.Status)
	}
	if clone.Progress != job.Progress {
		t.Errorf("expected Progress %d, got %d", job.Progress, clone.Progress)
	}

	// Verify clone is independent
	clone.Status = StatusCompleted
	if job.Status == StatusCompleted {
		t.Error("modifying clone should not affect original")
	}

	// Verify segments are independent
	clone.Segments[0].Filename = "changed.mp4"
	if job.Segments[0].Filename == "changed.mp4" {
		t.Error("modifying clone segments should not affect original")
	}

	// Verify the result is deep-copied
	clone.Result.MontageName = "changed.mp4"
	if job.Result.MontageName == "changed.mp4" {
		t.Error("modifying clone result should not affect original")
	}
	clone.Result.Failures[0].Error = "changed"
	if job.Result.Failures[0].Error == "changed" {
		t.Error("modifying clone result failures should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New()

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.GetStatus()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = job.TransitionTo(StatusExtractingAudio)
		}
		done <- true
	}()

	<-done
	<-done
	// If no race conditions, test passes
}
