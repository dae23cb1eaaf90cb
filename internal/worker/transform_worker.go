package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/framebooth/api/internal/client"
	"github.com/framebooth/api/internal/model"
	"github.com/framebooth/api/internal/service"
)

const thumbnailWidth = 512

// ProgressBroadcaster pushes job telemetry to connected clients
type ProgressBroadcaster interface {
	BroadcastProgress(jobID string, percentage int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, output *model.JobOutput)
	BroadcastError(jobID string, jobErr *model.JobError)
}

// ExportEnqueuer queues export fan-out after a job completes
type ExportEnqueuer interface {
	EnqueueExportDispatch(ctx context.Context, payload *model.ExportDispatchPayload) error
}

// TransformWorker drives a transform job from pending to completed or failed,
// exactly once, with guaranteed release of its scratch workspace.
type TransformWorker struct {
	jobs        service.JobStore
	exports     ExportEnqueuer
	sessions    service.SessionMirror
	storage     client.StorageClient
	generator   client.ImageGenerator
	hub         ProgressBroadcaster
	validate    *validator.Validate
	scratchRoot string
	logger      *slog.Logger
}

// NewTransformWorker creates a new transform worker
func NewTransformWorker(
	jobs service.JobStore,
	exports ExportEnqueuer,
	sessions service.SessionMirror,
	storage client.StorageClient,
	generator client.ImageGenerator,
	hub ProgressBroadcaster,
	validate *validator.Validate,
	scratchRoot string,
	logger *slog.Logger,
) *TransformWorker {
	return &TransformWorker{
		jobs:        jobs,
		exports:     exports,
		sessions:    sessions,
		storage:     storage,
		generator:   generator,
		hub:         hub,
		validate:    validate,
		scratchRoot: scratchRoot,
		logger:      logger,
	}
}

// ProcessTask handles one transform task delivery. The task is configured
// with zero retries: by the time this returns, the job record is guaranteed
// to be terminal, so propagating an error after marking failure would only
// pollute error reporting.
func (w *TransformWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.TransformTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed transform payload: %w", err)
	}
	if err := w.validate.Struct(&payload); err != nil {
		return fmt.Errorf("invalid transform payload: %w", err)
	}

	log := w.logger.With(slog.String("jobId", payload.JobID), slog.String("projectId", payload.ProjectID))

	job, err := w.jobs.Fetch(ctx, payload.ProjectID, payload.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return fmt.Errorf("transform task for unknown job %s: %w", payload.JobID, err)
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	// Duplicate delivery guard: a job that already left pending was picked
	// up by an earlier delivery of this task.
	if job.Status != model.JobStatusPending {
		log.Info("job already processed, skipping", slog.String("status", string(job.Status)))
		return nil
	}

	if err := w.jobs.UpdateStarted(ctx, job.ProjectID, job.ID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	w.mirrorStatus(ctx, job, model.JobStatusRunning, log)

	startedAt := time.Now()
	log.Info("transform job started")

	scratchDir := filepath.Join(w.scratchRoot, "transform-"+job.ID)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		w.failJob(ctx, job, model.ErrCodeProcessingFailed, "pipeline", err, log)
		return nil
	}
	// Release on every exit path. A hard kill by the queue's timeout bypasses
	// this defer; the scratch reaper sweeps those leftovers.
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			log.Warn("failed to remove scratch dir", slog.String("dir", scratchDir), slog.Any("error", err))
		}
	}()

	output, stage, err := w.runPipeline(ctx, job, scratchDir)
	if err != nil {
		w.failJob(ctx, job, classifyPipelineError(ctx, stage, err), "pipeline", err, log)
		return nil
	}
	output.ProcessingTimeMs = time.Since(startedAt).Milliseconds()

	if err := w.jobs.UpdateComplete(ctx, job.ProjectID, job.ID, output); err != nil {
		w.failJob(ctx, job, model.ErrCodeStorageError, "finalize", err, log)
		return nil
	}

	w.mirrorStatus(ctx, job, model.JobStatusCompleted, log)
	if err := w.sessions.UpdateSessionResultMedia(ctx, job.ProjectID, job.SessionID, output); err != nil {
		log.Warn("failed to mirror result media onto session", slog.Any("error", err))
	}
	w.hub.BroadcastComplete(job.ID, output)

	// Export fan-out is fire-and-forget relative to the job.
	dispatch := &model.ExportDispatchPayload{
		JobID:        job.ID,
		ProjectID:    job.ProjectID,
		SessionID:    job.SessionID,
		ExperienceID: job.ExperienceID,
		ResultMedia:  model.ResultMedia{FilePath: output.MediaKey},
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.exports.EnqueueExportDispatch(ctx, dispatch); err != nil {
		log.Error("failed to enqueue export dispatch", slog.Any("error", err))
	}

	log.Info("transform job completed", slog.Int64("processingTimeMs", output.ProcessingTimeMs))
	return nil
}

// runPipeline executes the transform using only the job's immutable snapshot.
// It returns the produced output and, on failure, the stage that failed.
func (w *TransformWorker) runPipeline(ctx context.Context, job *model.Job, scratchDir string) (*model.JobOutput, string, error) {
	if w.storage == nil {
		return nil, "download", errors.New("storage not configured")
	}

	w.progress(ctx, job, 10, "downloading source photo")

	source, err := w.downloadSource(ctx, job.Snapshot.SourceKey, scratchDir)
	if err != nil {
		return nil, "download", err
	}

	w.progress(ctx, job, 30, "applying transform")

	format := job.Snapshot.Transform.OutputFormat
	if format == "" {
		format = "jpg"
	}

	var result []byte
	if w.generator != nil && w.generator.IsConfigured() {
		result, err = w.generator.GenerateImage(ctx, &client.GenerateImageRequest{
			SourceImage:  source,
			Prompt:       job.Snapshot.Transform.Prompt,
			Style:        job.Snapshot.Transform.Style,
			Strength:     job.Snapshot.Transform.Strength,
			OutputFormat: format,
		})
		if err != nil {
			return nil, "generate", err
		}
	} else {
		// Unconfigured provider passes the source through (dev mode)
		result = source
	}

	resultPath := filepath.Join(scratchDir, "result."+format)
	if err := os.WriteFile(resultPath, result, 0o644); err != nil {
		return nil, "generate", err
	}

	w.progress(ctx, job, 80, "uploading result")

	img, err := imaging.Open(resultPath)
	if err != nil {
		return nil, "generate", fmt.Errorf("failed to decode result image: %w", err)
	}
	bounds := img.Bounds()

	mediaKey := fmt.Sprintf("results/%s/%s/%s.%s", job.ProjectID, job.SessionID, job.ID, format)
	mediaURL, err := w.storage.Upload(ctx, mediaKey, bytes.NewReader(result), contentTypeFor(format))
	if err != nil {
		return nil, "upload", err
	}

	output := &model.JobOutput{
		MediaKey:  mediaKey,
		MediaURL:  mediaURL,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		SizeBytes: int64(len(result)),
	}

	// Thumbnail is best-effort: a missing thumbnail never fails the job.
	thumbKey := fmt.Sprintf("thumbs/%s/%s/%s.jpg", job.ProjectID, job.SessionID, job.ID)
	if thumbURL, err := w.uploadThumbnail(ctx, img, thumbKey); err != nil {
		w.logger.Warn("thumbnail generation failed", slog.String("jobId", job.ID), slog.Any("error", err))
	} else {
		output.ThumbnailKey = thumbKey
		output.ThumbnailURL = thumbURL
	}

	return output, "", nil
}

func (w *TransformWorker) downloadSource(ctx context.Context, sourceKey, scratchDir string) ([]byte, error) {
	rc, err := w.storage.Download(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("source object %s is empty", sourceKey)
	}

	// Keep a scratch copy for post-mortem inspection of failed transforms
	if err := os.WriteFile(filepath.Join(scratchDir, "source"+filepath.Ext(sourceKey)), data, 0o644); err != nil {
		return nil, err
	}
	return data, nil
}

func (w *TransformWorker) uploadThumbnail(ctx context.Context, img image.Image, thumbKey string) (string, error) {
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", err
	}
	return w.storage.Upload(ctx, thumbKey, &buf, "image/jpeg")
}

// progress writes a coarse milestone. Telemetry only: failures are logged
// and never interrupt the pipeline.
func (w *TransformWorker) progress(ctx context.Context, job *model.Job, pct int, step string) {
	p := &model.JobProgress{CurrentStep: step, Percentage: pct}
	if err := w.jobs.UpdateProgress(ctx, job.ProjectID, job.ID, p); err != nil {
		w.logger.Warn("failed to update progress", slog.String("jobId", job.ID), slog.Any("error", err))
	}
	w.hub.BroadcastProgress(job.ID, pct, model.JobStatusRunning, step)
}

func (w *TransformWorker) mirrorStatus(ctx context.Context, job *model.Job, status model.JobStatus, log *slog.Logger) {
	if err := w.sessions.UpdateSessionJobStatus(ctx, job.ProjectID, job.SessionID, job.ID, status); err != nil {
		log.Warn("failed to mirror job status onto session", slog.Any("error", err))
	}
}

// failJob records a sanitized error on the job. Full diagnostic detail stays
// in the server log; the persisted error carries only the fixed client
// message for its code.
func (w *TransformWorker) failJob(ctx context.Context, job *model.Job, code, step string, cause error, log *slog.Logger) {
	log.Error("transform job failed", slog.String("code", code), slog.String("step", step), slog.Any("error", cause))

	jobErr := model.NewJobError(code, step)
	if err := w.jobs.UpdateError(ctx, job.ProjectID, job.ID, jobErr); err != nil {
		log.Error("failed to mark job failed", slog.Any("error", err))
	}
	w.mirrorStatus(ctx, job, model.JobStatusFailed, log)
	w.hub.BroadcastError(job.ID, jobErr)
}

func classifyPipelineError(ctx context.Context, stage string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return model.ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return model.ErrCodeCancelled
	}
	switch stage {
	case "generate":
		return model.ErrCodeAIModelError
	case "download", "upload":
		return model.ErrCodeStorageError
	}
	return model.ErrCodeProcessingFailed
}

func contentTypeFor(format string) string {
	if format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}
