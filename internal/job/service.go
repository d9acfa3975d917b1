package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/strikelab/hitreel-api/internal/audio"
	"github.com/strikelab/hitreel-api/internal/media"
	"github.com/strikelab/hitreel-api/internal/montage"
	"github.com/strikelab/hitreel-api/internal/observe"
	"github.com/strikelab/hitreel-api/internal/storage"
)

// ErrJobFinished is returned when cancelling a job that already reached a
// terminal state.
var ErrJobFinished = errors.New("job already finished")

// defaultJobTimeout bounds how long one pipeline run may take.
const defaultJobTimeout = 30 * time.Minute

// stageProgress maps each status to the completion percentage reported to
// clients while that stage runs.
var stageProgress = map[Status]int{
	StatusReceived:           0,
	StatusExtractingAudio:    10,
	StatusDetecting:          35,
	StatusMerging:            45,
	StatusExtractingSegments: 55,
	StatusAssembling:         85,
	StatusCompleted:          100,
}

// stageError attaches a pre-classified error kind to a stage failure whose
// underlying error carries no identifying sentinel.
type stageError struct {
	kind ErrorKind
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Service orchestrates the montage pipeline: it owns job creation, the
// asynchronous processing run, cancellation, recombination of previously
// extracted segments, and upload analysis.
type Service struct {
	repo      Repository
	extractor audio.Extractor
	cutter    montage.Cutter
	assembler montage.Assembler
	prober    media.Prober
	store     storage.Storage
	logger    *slog.Logger
	metrics   *observe.Metrics

	jobTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithJobTimeout overrides the per-job processing deadline.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService creates the montage pipeline service.
func NewService(repo Repository, extractor audio.Extractor, cutter montage.Cutter,
	assembler montage.Assembler, prober media.Prober, store storage.Storage,
	logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:       repo,
		extractor:  extractor,
		cutter:     cutter,
		assembler:  assembler,
		prober:     prober,
		store:      store,
		logger:     logger,
		metrics:    observe.DefaultMetrics(),
		jobTimeout: defaultJobTimeout,
		cancels:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJobInput carries the upload and settings for a new job.
type CreateJobInput struct {
	// FileName is the original name of the uploaded video.
	FileName string
	// Data is the uploaded video content.
	Data io.Reader
	// Settings are the montage settings for this job.
	Settings montage.Settings
}

// CreateJob stores the upload and persists a new job in RECEIVED state.
// Processing starts separately via Process.
func (s *Service) CreateJob(ctx context.Context, input CreateJobInput) (*Job, error) {
	if err := input.Settings.Validate(); err != nil {
		return nil, err
	}

	path, err := s.store.SaveUpload(ctx, input.FileName, input.Data)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	j := New()
	j.InputPath = path
	j.InputName = input.FileName
	j.Settings = input.Settings

	s.logger.Info("creating new job",
		slog.String("job_id", j.ID),
		slog.String("input", input.FileName),
		slog.Float64("sensitivity", input.Settings.Sensitivity),
		slog.Float64("merge_gap", input.Settings.MergeGap),
		slog.Float64("padding", input.Settings.Padding),
		slog.Bool("precise_cut", input.Settings.PreciseCut),
		slog.Bool("push_to_s3", input.Settings.PushToS3),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		_ = s.store.Cleanup(ctx, []string{path})
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// ResolveDownload maps a produced output filename to its path on disk.
func (s *Service) ResolveDownload(filename string) (string, error) {
	return s.store.ResolveOutput(filename)
}

// Process runs the montage pipeline for a previously created job. It is
// meant to run on a context detached from the originating request; the job
// can still be cancelled through CancelJob, which cancels the context
// registered here.
func (s *Service) Process(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	s.registerCancel(jobID, cancel)
	defer s.unregisterCancel(jobID)

	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		s.logger.Error("job not found for processing",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.metrics.ActiveJobs.Add(ctx, 1)
	defer s.metrics.ActiveJobs.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	runErr := s.runPipeline(ctx, j)

	cleanupCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		// Stage errors triggered by cancelling or timing out the
		// context report as the context's own error.
		if cerr := ctx.Err(); cerr != nil {
			runErr = cerr
		}
		s.finishFailed(cleanupCtx, j, runErr)
		s.removeArtifacts(cleanupCtx, j)
	}
	if j.InputPath != "" {
		if err := s.store.Cleanup(cleanupCtx, []string{j.InputPath}); err != nil {
			s.logger.Warn("failed to remove upload",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runPipeline executes the pipeline stages against the job's input. On
// success the job is COMPLETED and saved with its result; any returned
// error is handled by the caller.
func (s *Service) runPipeline(ctx context.Context, j *Job) error {
	settings := j.Settings

	// Probe the input and decode its audio into the energy signal.
	if err := s.advance(ctx, j, StatusExtractingAudio); err != nil {
		return err
	}

	var info *media.Info
	if err := s.timeStage(ctx, "probe", func(ctx context.Context) error {
		var err error
		info, err = s.prober.Probe(ctx, j.InputPath)
		return err
	}); err != nil {
		return &stageError{kind: KindIOError, err: fmt.Errorf("probe input: %w", err)}
	}
	if !info.HasAudio() {
		return fmt.Errorf("input %s: %w", j.InputName, audio.ErrNoAudioStream)
	}

	var signal audio.EnergySignal
	if err := s.timeStage(ctx, "extract_audio", func(ctx context.Context) error {
		var err error
		signal, err = s.extractor.Extract(ctx, j.InputPath)
		return err
	}); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}

	// Threshold the signal into an activity mask.
	if err := s.advance(ctx, j, StatusDetecting); err != nil {
		return err
	}
	var mask []bool
	if err := s.timeStage(ctx, "detect", func(context.Context) error {
		mask = audio.DetectEvents(signal, settings.Sensitivity)
		return nil
	}); err != nil {
		return err
	}

	// Merge active runs into padded intervals.
	if err := s.advance(ctx, j, StatusMerging); err != nil {
		return err
	}
	var intervals []audio.Interval
	if err := s.timeStage(ctx, "merge", func(context.Context) error {
		intervals = audio.MergeIntervals(mask, signal.FrameDuration, audio.MergeOptions{
			MergeGap:      settings.MergeGap,
			Padding:       settings.Padding,
			MinDuration:   settings.MinDuration,
			TotalDuration: info.DurationSeconds,
		})
		return nil
	}); err != nil {
		return err
	}

	if len(intervals) == 0 {
		return s.completeEmpty(ctx, j, info)
	}

	// Cut one clip per interval.
	if err := s.advance(ctx, j, StatusExtractingSegments); err != nil {
		return err
	}
	var (
		segments []montage.Segment
		failures []montage.SegmentFailure
	)
	if err := s.timeStage(ctx, "extract_segments", func(ctx context.Context) error {
		var err error
		segments, failures, err = s.cutter.Cut(ctx, j.InputPath, intervals, montage.CutOptions{
			OutputDir: s.store.OutputRoot(),
			Prefix:    j.ID,
			Precise:   settings.PreciseCut,
		})
		return err
	}); err != nil {
		return fmt.Errorf("extract segments: %w", err)
	}
	j.SetSegments(segments)
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	s.metrics.RecordSegments(ctx, len(segments), len(failures))

	// Concatenate the segments into the montage.
	if err := s.advance(ctx, j, StatusAssembling); err != nil {
		return err
	}
	montageName := montageFilename(j.ID)
	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.OutputPath
	}
	var asm *montage.AssembleResult
	if err := s.timeStage(ctx, "assemble", func(ctx context.Context) error {
		var err error
		asm, err = s.assembler.Assemble(ctx, montage.Spec{
			SegmentPaths:  paths,
			OutputPath:    s.store.OutputPathFor(montageName),
			AllowReencode: true,
		})
		return err
	}); err != nil {
		return fmt.Errorf("assemble montage: %w", err)
	}

	reencoded := asm.Reencoded
	for _, seg := range segments {
		if seg.Reencoded {
			reencoded = true
		}
	}

	result := &montage.Result{
		MontagePath: asm.OutputPath,
		MontageName: montageName,
		Segments:    segments,
		Failures:    failures,
		Stats: montage.ComputeStats(info.DurationSeconds, asm.Duration,
			len(segments), len(failures), reencoded),
	}

	if settings.PushToS3 {
		var url string
		if err := s.timeStage(ctx, "upload", func(ctx context.Context) error {
			f, err := os.Open(asm.OutputPath)
			if err != nil {
				return err
			}
			defer f.Close()
			url, err = s.store.UploadToS3(ctx, "montages/"+j.ID+".mp4", f)
			return err
		}); err != nil {
			return &stageError{kind: KindIOError, err: fmt.Errorf("upload montage: %w", err)}
		}
		result.OutputURL = url
	}

	j.SetResult(result)
	if err := j.Complete(); err != nil {
		return err
	}
	j.UpdateProgress(stageProgress[StatusCompleted])
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	s.metrics.RecordJobOutcome(ctx, string(StatusCompleted))
	s.metrics.RecordHits(ctx, len(segments))
	s.metrics.RecordCompressionRatio(ctx, result.Stats.CompressionRatio)
	s.logger.Info("job completed",
		slog.String("job_id", j.ID),
		slog.Int("hits", len(segments)),
		slog.Int("failed_segments", len(failures)),
		slog.Float64("montage_seconds", asm.Duration),
		slog.Bool("reencoded", reencoded),
	)
	return nil
}

// completeEmpty finishes a job whose input produced no active intervals.
// This is a success with zero hits, not an error.
func (s *Service) completeEmpty(ctx context.Context, j *Job, info *media.Info) error {
	j.SetResult(&montage.Result{
		Message: "no active segments detected",
		Stats:   montage.ComputeStats(info.DurationSeconds, 0, 0, 0, false),
	})
	if err := j.Complete(); err != nil {
		return err
	}
	j.UpdateProgress(stageProgress[StatusCompleted])
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	s.metrics.RecordJobOutcome(ctx, string(StatusCompleted))
	s.logger.Info("no active segments detected", slog.String("job_id", j.ID))
	return nil
}

// advance moves the job to the next pipeline stage and persists it. It also
// honours cancellations recorded directly in the repository before this
// pipeline registered its cancel func.
func (s *Service) advance(ctx context.Context, j *Job, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stored, err := s.repo.FindByID(ctx, j.ID); err == nil && stored.Status == StatusCancelled {
		return context.Canceled
	}
	if err := j.TransitionTo(status); err != nil {
		return err
	}
	j.UpdateProgress(stageProgress[status])
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	s.logger.Info("job stage",
		slog.String("job_id", j.ID),
		slog.String("status", string(status)),
	)
	return nil
}

// timeStage runs fn inside a pipeline span and records its duration.
func (s *Service) timeStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "pipeline."+stage)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordStageDuration(ctx, stage, time.Since(start).Seconds())
	return err
}

// finishFailed moves the job to its terminal failure state. Cancellation
// is not a failure: it gets the CANCELLED status and no error kind.
func (s *Service) finishFailed(ctx context.Context, j *Job, runErr error) {
	var terr error
	if errors.Is(runErr, context.Canceled) {
		terr = j.Cancel()
	} else {
		kind := classifyError(runErr)
		msg := runErr.Error()
		if kind == KindTimeout {
			msg = fmt.Sprintf("processing exceeded the %s limit", s.jobTimeout)
		}
		terr = j.Fail(kind, msg)
	}
	if terr != nil {
		// The job reached a terminal state through another path,
		// typically a direct cancellation.
		s.logger.Warn("job already finished while handling pipeline error",
			slog.String("job_id", j.ID),
			slog.String("error", runErr.Error()),
		)
		return
	}
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save finished job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	status := j.GetStatus()
	s.metrics.RecordJobOutcome(ctx, string(status))
	s.logger.Info("job finished",
		slog.String("job_id", j.ID),
		slog.String("status", string(status)),
		slog.String("error", runErr.Error()),
	)
}

// removeArtifacts deletes the segment and montage files a failed or
// cancelled job may have produced.
func (s *Service) removeArtifacts(ctx context.Context, j *Job) {
	paths := make([]string, 0, len(j.Segments)+1)
	for _, seg := range j.Segments {
		paths = append(paths, seg.OutputPath)
	}
	paths = append(paths, s.store.OutputPathFor(montageFilename(j.ID)))
	if err := s.store.Cleanup(ctx, paths); err != nil {
		s.logger.Warn("failed to remove job artifacts",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// CancelJob requests cancellation of a job. A running pipeline is cancelled
// through its registered context; a job whose pipeline has not started yet
// is flipped directly in the repository.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.IsTerminal() {
		return ErrJobFinished
	}

	if cancel, ok := s.cancelFor(jobID); ok {
		s.logger.Info("cancelling running job", slog.String("job_id", jobID))
		cancel()
		return nil
	}

	if err := j.Cancel(); err != nil {
		return ErrJobFinished
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}
	s.logger.Info("job cancelled", slog.String("job_id", jobID))
	return nil
}

// RecombineInput names previously extracted segment files to join.
type RecombineInput struct {
	// SegmentFilenames are bare output filenames, in the desired order.
	SegmentFilenames []string
	// OutputFilename optionally names the combined file.
	OutputFilename string
}

// Recombine joins previously extracted segment files into a new video. It
// runs synchronously and allows re-encoding when the segments cannot be
// concatenated by stream copy.
func (s *Service) Recombine(ctx context.Context, input RecombineInput) (*montage.RecombineResult, error) {
	if len(input.SegmentFilenames) == 0 {
		return nil, montage.ErrEmptySelection
	}

	paths := make([]string, 0, len(input.SegmentFilenames))
	for _, name := range input.SegmentFilenames {
		path, err := s.store.ResolveOutput(name)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", name, err)
		}
		paths = append(paths, path)
	}

	outputName := input.OutputFilename
	if outputName == "" {
		outputName = fmt.Sprintf("combined_%d.mp4", time.Now().Unix())
	} else {
		if outputName == "." || outputName == ".." || strings.ContainsAny(outputName, `/\`) {
			return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, input.OutputFilename)
		}
		if !strings.HasSuffix(strings.ToLower(outputName), ".mp4") {
			outputName += ".mp4"
		}
	}

	res, err := s.assembler.Assemble(ctx, montage.Spec{
		SegmentPaths:  paths,
		OutputPath:    s.store.OutputPathFor(outputName),
		AllowReencode: true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("segments recombined",
		slog.Int("segments", len(paths)),
		slog.String("output", outputName),
	)

	return &montage.RecombineResult{
		OutputPath:       res.OutputPath,
		OutputName:       outputName,
		SegmentsCombined: len(paths),
		CombinedDuration: res.Duration,
		Reencoded:        res.Reencoded,
	}, nil
}

// Analyze probes an uploaded video and reports its media properties. The
// upload is written to scratch space and removed when probing finishes.
func (s *Service) Analyze(ctx context.Context, fileName string, data io.Reader) (*media.Info, error) {
	path, err := s.store.SaveUpload(ctx, fileName, data)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	defer func() {
		if err := s.store.Cleanup(context.WithoutCancel(ctx), []string{path}); err != nil {
			s.logger.Warn("failed to remove analyzed upload",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}()

	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	// Report the client's filename, not the scratch file's.
	info.Filename = fileName
	return info, nil
}

func (s *Service) registerCancel(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[jobID] = cancel
}

func (s *Service) unregisterCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

func (s *Service) cancelFor(jobID string) (context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[jobID]
	return cancel, ok
}

// classifyError maps a pipeline error to the kind exposed to clients.
func classifyError(err error) ErrorKind {
	var se *stageError
	if errors.As(err, &se) {
		return se.kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, audio.ErrNoAudioStream):
		return KindNoAudioStream
	case errors.Is(err, audio.ErrDecode):
		return KindDecodeError
	case errors.Is(err, montage.ErrExtraction):
		return KindExtractionError
	case errors.Is(err, montage.ErrIncompatibleStreams):
		return KindIncompatibleStreams
	case errors.Is(err, montage.ErrEmptySelection):
		return KindEmptySelection
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission),
		errors.Is(err, storage.ErrS3NotConfigured):
		return KindIOError
	default:
		return KindInternal
	}
}

// montageFilename is the output filename of a job's montage.
func montageFilename(jobID string) string {
	return jobID + "_montage.mp4"
}
