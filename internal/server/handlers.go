package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/strikelab/hitreel-api/internal/job"
	"github.com/strikelab/hitreel-api/internal/montage"
	"github.com/strikelab/hitreel-api/internal/storage"
)

// maxMultipartMemory is how much of a multipart body is held in memory
// before spilling to disk.
const maxMultipartMemory = 32 << 20

// defaultMaxUploadBytes caps uploads when no limit is configured.
const defaultMaxUploadBytes = 2048 << 20

// allowedExtensions are the upload extensions accepted for processing.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
	".flv":  true,
	".wmv":  true,
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.Service
	validator          *validator.Validate
	logger             *slog.Logger
	defaults           montage.Settings
	maxUploadBytes     int64
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithDefaultSettings sets the montage settings applied to requests that
// omit the corresponding form fields.
func WithDefaultSettings(s montage.Settings) HandlerOption {
	return func(h *Handlers) {
		h.defaults = s
	}
}

// WithMaxUploadBytes caps the accepted upload size.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		defaults:           montage.DefaultSettings(),
		maxUploadBytes:     defaultMaxUploadBytes,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests. The video arrives as the
// multipart field "video"; settings arrive as form fields and fall back
// to the configured defaults. Processing continues on a detached context
// after the 202 response.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", maxErr.Limit), "FILE_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'video' is required", "MISSING_VIDEO")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q", ext), "INVALID_FILE_TYPE")
		return
	}

	settings, err := h.parseSettings(r)
	if err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	createdJob, err := h.service.CreateJob(r.Context(), job.CreateJobInput{
		FileName: header.Filename,
		Data:     file,
		Settings: settings,
	})
	if err != nil {
		if isSettingsError(err) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Process on a detached context so the response does not cancel the run.
	if h.enableAsyncProcess {
		go h.service.Process(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.String("input", header.Filename),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	summaries := make([]JobSummary, len(jobs))
	for i, j := range jobs {
		summaries[i] = JobSummary{
			ID:        j.ID,
			Status:    string(j.Status),
			Progress:  j.Progress,
			InputName: j.InputName,
			CreatedAt: j.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: summaries, Count: len(summaries)})
}

// CancelJob handles DELETE /jobs/{id} requests. Cancellation of a running
// pipeline is asynchronous; clients observe the final CANCELLED status by
// polling GET /jobs/{id}.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.CancelJob(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, job.ErrJobFinished):
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
		default:
			h.logger.Error("failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	status := string(job.StatusCancelled)
	if j, err := h.service.GetJob(r.Context(), jobID); err == nil {
		status = string(j.Status)
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{ID: jobID, Status: status})
}

// Combine handles POST /combine requests. It joins previously extracted
// segments synchronously and responds with the combined file.
func (h *Handlers) Combine(w http.ResponseWriter, r *http.Request) {
	var req CombineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	result, err := h.service.Recombine(r.Context(), job.RecombineInput{
		SegmentFilenames: req.SegmentFilenames,
		OutputFilename:   req.OutputFilename,
	})
	if err != nil {
		switch {
		case errors.Is(err, montage.ErrEmptySelection):
			writeError(w, http.StatusBadRequest, "no segments selected", "EMPTY_SELECTION")
		case errors.Is(err, storage.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_FILENAME")
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, http.StatusNotFound, err.Error(), "SEGMENT_NOT_FOUND")
		case errors.Is(err, montage.ErrIncompatibleStreams):
			writeError(w, http.StatusUnprocessableEntity, err.Error(), "INCOMPATIBLE_STREAMS")
		default:
			h.logger.Error("failed to combine segments",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to combine segments", "COMBINE_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusOK, CombineResponse{
		OutputName:       result.OutputName,
		DownloadURL:      downloadURL(result.OutputName),
		SegmentsCombined: result.SegmentsCombined,
		CombinedDuration: result.CombinedDuration,
		Reencoded:        result.Reencoded,
	})
}

// Analyze handles POST /analyze requests. The uploaded video is probed and
// its media properties returned; the scratch copy is removed afterwards.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", maxErr.Limit), "FILE_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'video' is required", "MISSING_VIDEO")
		return
	}
	defer file.Close()

	info, err := h.service.Analyze(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("failed to analyze upload",
			slog.String("input", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnprocessableEntity, "failed to analyze video", "ANALYZE_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Download handles GET /downloads/{filename} requests for produced files.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	path, err := h.service.ResolveDownload(filename)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "invalid filename", "INVALID_FILENAME")
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
		default:
			h.logger.Error("failed to resolve download",
				slog.String("filename", filename),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to resolve download", "DOWNLOAD_FAILED")
		}
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

// parseSettings builds the montage settings for a create request. Absent
// form fields take the configured defaults; present fields are used as
// sent, so an explicit zero stays zero.
func (h *Handlers) parseSettings(r *http.Request) (montage.Settings, error) {
	sensitivity, err := formFloat(r, "audio_sensitivity", h.defaults.Sensitivity)
	if err != nil {
		return montage.Settings{}, err
	}
	mergeGap, err := formFloat(r, "merge_threshold", h.defaults.MergeGap)
	if err != nil {
		return montage.Settings{}, err
	}
	padding, err := formFloat(r, "padding_seconds", h.defaults.Padding)
	if err != nil {
		return montage.Settings{}, err
	}
	preciseCut, err := formBool(r, "precise_cut", h.defaults.PreciseCut)
	if err != nil {
		return montage.Settings{}, err
	}
	pushToS3, err := formBool(r, "push_to_s3", h.defaults.PushToS3)
	if err != nil {
		return montage.Settings{}, err
	}

	req := CreateJobRequest{
		AudioSensitivity: sensitivity,
		MergeThreshold:   mergeGap,
		PaddingSeconds:   padding,
		PreciseCut:       preciseCut,
		PushToS3:         pushToS3,
	}
	if err := h.validator.Struct(req); err != nil {
		return montage.Settings{}, err
	}

	return montage.Settings{
		Sensitivity: req.AudioSensitivity,
		MergeGap:    req.MergeThreshold,
		Padding:     req.PaddingSeconds,
		MinDuration: h.defaults.MinDuration,
		PreciseCut:  req.PreciseCut,
		PushToS3:    req.PushToS3,
	}, nil
}

func formFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

func formBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// isSettingsError reports whether err is a settings range violation.
func isSettingsError(err error) bool {
	return errors.Is(err, montage.ErrSensitivityRange) ||
		errors.Is(err, montage.ErrMergeGapRange) ||
		errors.Is(err, montage.ErrPaddingRange) ||
		errors.Is(err, montage.ErrMinDurationRange)
}

// downloadURL is the local route serving a produced output file.
func downloadURL(filename string) string {
	return "/downloads/" + filename
}

// toJobResponse maps a job to its HTTP representation.
func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Progress:  j.Progress,
		InputName: j.InputName,
		Error:     j.Error,
		ErrorKind: string(j.ErrorKind),
		CreatedAt: j.CreatedAt,
	}
	if j.Result != nil {
		resp.Result = toResultResponse(j.Result)
	}
	return resp
}

func toResultResponse(res *montage.Result) *ResultResponse {
	out := &ResultResponse{
		MontageName: res.MontageName,
		OutputURL:   res.OutputURL,
		Message:     res.Message,
		Stats: StatsResponse{
			HitsDetected:     res.Stats.HitsDetected,
			TotalDuration:    res.Stats.TotalDuration,
			MontageDuration:  res.Stats.MontageDuration,
			CompressionRatio: res.Stats.CompressionRatio,
			TimeSaved:        res.Stats.TimeSaved,
			SegmentsFailed:   res.Stats.SegmentsFailed,
			Reencoded:        res.Stats.Reencoded,
		},
	}
	if res.MontageName != "" {
		out.DownloadURL = downloadURL(res.MontageName)
	}
	for _, seg := range res.Segments {
		out.Segments = append(out.Segments, SegmentResponse{
			Index:       seg.Index,
			Start:       seg.Start,
			End:         seg.End,
			Duration:    seg.Duration,
			Filename:    seg.Filename,
			SizeBytes:   seg.SizeBytes,
			DownloadURL: downloadURL(seg.Filename),
			Reencoded:   seg.Reencoded,
		})
	}
	for _, f := range res.Failures {
		out.FailedSegments = append(out.FailedSegments, FailureResponse{
			Index: f.Index,
			Start: f.Start,
			End:   f.End,
			Error: f.Error,
		})
	}
	return out
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
