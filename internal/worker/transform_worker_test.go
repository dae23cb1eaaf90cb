package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framebooth/api/internal/client"
	"github.com/framebooth/api/internal/model"
	"github.com/framebooth/api/internal/service"
)

// fakeJobStore implements service.JobStore over a single in-memory record
type fakeJobStore struct {
	job      *model.Job
	fetchErr error
	progress []*model.JobProgress
}

func (f *fakeJobStore) Fetch(ctx context.Context, projectID, jobID string) (*model.Job, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	copied := *f.job
	return &copied, nil
}

func (f *fakeJobStore) UpdateStarted(ctx context.Context, projectID, jobID string) error {
	now := time.Now().UTC()
	f.job.Status = model.JobStatusRunning
	f.job.StartedAt = &now
	return nil
}

func (f *fakeJobStore) UpdateProgress(ctx context.Context, projectID, jobID string, progress *model.JobProgress) error {
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobStore) UpdateComplete(ctx context.Context, projectID, jobID string, output *model.JobOutput) error {
	now := time.Now().UTC()
	f.job.Status = model.JobStatusCompleted
	f.job.Output = output
	f.job.CompletedAt = &now
	return nil
}

func (f *fakeJobStore) UpdateError(ctx context.Context, projectID, jobID string, jobErr *model.JobError) error {
	now := time.Now().UTC()
	f.job.Status = model.JobStatusFailed
	f.job.Error = jobErr
	f.job.CompletedAt = &now
	return nil
}

// fakeEnqueuer implements ExportEnqueuer
type fakeEnqueuer struct {
	dispatches []*model.ExportDispatchPayload
}

func (f *fakeEnqueuer) EnqueueExportDispatch(ctx context.Context, payload *model.ExportDispatchPayload) error {
	f.dispatches = append(f.dispatches, payload)
	return nil
}

// fakeMirror implements service.SessionMirror
type fakeMirror struct {
	statuses []model.JobStatus
	media    []*model.JobOutput
}

func (f *fakeMirror) UpdateSessionJobStatus(ctx context.Context, projectID, sessionID, jobID string, status model.JobStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeMirror) UpdateSessionResultMedia(ctx context.Context, projectID, sessionID string, media *model.JobOutput) error {
	f.media = append(f.media, media)
	return nil
}

// fakeGenerator implements client.ImageGenerator
type fakeGenerator struct {
	configured bool
	result     []byte
	err        error
	requests   []*client.GenerateImageRequest
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, req *client.GenerateImageRequest) ([]byte, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) IsConfigured() bool { return f.configured }

// fakeHub implements ProgressBroadcaster
type fakeHub struct {
	progress  []int
	completes []*model.JobOutput
	errors    []*model.JobError
}

func (f *fakeHub) BroadcastProgress(jobID string, percentage int, status model.JobStatus, step string) {
	f.progress = append(f.progress, percentage)
}

func (f *fakeHub) BroadcastComplete(jobID string, output *model.JobOutput) {
	f.completes = append(f.completes, output)
}

func (f *fakeHub) BroadcastError(jobID string, jobErr *model.JobError) {
	f.errors = append(f.errors, jobErr)
}

// encodeTestJPEG produces a real decodable image for the pipeline
func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(width, height, color.NRGBA{R: 220, G: 120, B: 40, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

type transformEnv struct {
	worker    *TransformWorker
	jobs      *fakeJobStore
	exports   *fakeEnqueuer
	mirror    *fakeMirror
	storage   *fakeStorage
	generator *fakeGenerator
	hub       *fakeHub
	scratch   string
}

func newTransformEnv(t *testing.T) *transformEnv {
	t.Helper()

	jobs := &fakeJobStore{
		job: &model.Job{
			ID:           "job-1",
			ProjectID:    "proj-1",
			SessionID:    "sess-1",
			ExperienceID: "exp-1",
			Status:       model.JobStatusPending,
			Snapshot: model.JobSnapshot{
				SourceKey: "uploads/proj-1/sess-1/source.jpg",
				Transform: model.TransformConfig{Prompt: "neon portrait", OutputFormat: "jpg"},
			},
			CreatedAt: time.Now().UTC(),
		},
	}
	exports := &fakeEnqueuer{}
	mirror := &fakeMirror{}
	storage := newFakeStorage()
	storage.objects["uploads/proj-1/sess-1/source.jpg"] = encodeTestJPEG(t, 64, 48)
	generator := &fakeGenerator{}
	hub := &fakeHub{}
	scratch := t.TempDir()

	return &transformEnv{
		worker:    NewTransformWorker(jobs, exports, mirror, storage, generator, hub, validator.New(), scratch, testLogger()),
		jobs:      jobs,
		exports:   exports,
		mirror:    mirror,
		storage:   storage,
		generator: generator,
		hub:       hub,
		scratch:   scratch,
	}
}

func transformTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(model.TransformTaskPayload{
		JobID:     "job-1",
		ProjectID: "proj-1",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	return asynq.NewTask(service.TaskTypeTransform, data)
}

func TestTransformWorkerSuccess(t *testing.T) {
	env := newTransformEnv(t)

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.job.Status)
	require.NotNil(t, env.jobs.job.Output)
	out := env.jobs.job.Output
	assert.Equal(t, "results/proj-1/sess-1/job-1.jpg", out.MediaKey)
	assert.Equal(t, 64, out.Width)
	assert.Equal(t, 48, out.Height)
	assert.Positive(t, out.SizeBytes)
	assert.GreaterOrEqual(t, out.ProcessingTimeMs, int64(0))
	assert.NotEmpty(t, out.ThumbnailKey)

	// result and thumbnail landed in storage
	assert.Contains(t, env.storage.uploaded, out.MediaKey)
	assert.Contains(t, env.storage.uploaded, out.ThumbnailKey)

	// session mirror saw running then completed
	assert.Equal(t, []model.JobStatus{model.JobStatusRunning, model.JobStatusCompleted}, env.mirror.statuses)
	require.Len(t, env.mirror.media, 1)

	require.Len(t, env.hub.completes, 1)
	assert.Empty(t, env.hub.errors)

	// export fan-out was queued with the produced artifact
	require.Len(t, env.exports.dispatches, 1)
	dispatch := env.exports.dispatches[0]
	assert.Equal(t, "job-1", dispatch.JobID)
	assert.Equal(t, out.MediaKey, dispatch.ResultMedia.FilePath)
	assert.False(t, dispatch.CreatedAt.IsZero())

	// scratch workspace was released
	entries, err := os.ReadDir(env.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransformWorkerUsesGeneratorWhenConfigured(t *testing.T) {
	env := newTransformEnv(t)
	env.generator.configured = true
	env.generator.result = encodeTestJPEG(t, 32, 32)

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.NoError(t, err)

	require.Len(t, env.generator.requests, 1)
	assert.Equal(t, "neon portrait", env.generator.requests[0].Prompt)
	assert.Equal(t, 32, env.jobs.job.Output.Width)
}

func TestTransformWorkerSkipsNonPendingJob(t *testing.T) {
	env := newTransformEnv(t)
	env.jobs.job.Status = model.JobStatusCompleted

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.NoError(t, err)

	// a redelivered task for a finished job must not touch anything
	assert.Empty(t, env.mirror.statuses)
	assert.Empty(t, env.exports.dispatches)
	assert.Empty(t, env.storage.uploaded)
}

func TestTransformWorkerUnknownJob(t *testing.T) {
	env := newTransformEnv(t)
	env.jobs.fetchErr = service.ErrJobNotFound

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.Error(t, err)
}

func TestTransformWorkerGeneratorFailure(t *testing.T) {
	env := newTransformEnv(t)
	env.generator.configured = true
	env.generator.err = errors.New("model overloaded: quota exceeded for key sk-12345")

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.NoError(t, err, "failure is recorded on the job, not re-raised to the queue")

	assert.Equal(t, model.JobStatusFailed, env.jobs.job.Status)
	require.NotNil(t, env.jobs.job.Error)
	jobErr := env.jobs.job.Error
	assert.Equal(t, model.ErrCodeAIModelError, jobErr.Code)
	assert.False(t, jobErr.IsRetryable)

	// the raw provider error never reaches the persisted record
	assert.NotContains(t, jobErr.Message, "sk-12345")
	assert.NotContains(t, jobErr.Message, "overloaded")
	assert.Equal(t, model.ClientMessage(model.ErrCodeAIModelError), jobErr.Message)

	require.Len(t, env.hub.errors, 1)
	assert.Empty(t, env.exports.dispatches, "failed jobs never fan out exports")
}

func TestTransformWorkerDownloadFailure(t *testing.T) {
	env := newTransformEnv(t)
	env.storage.downloadErr = errors.New("dial tcp: connection refused")

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusFailed, env.jobs.job.Status)
	assert.Equal(t, model.ErrCodeStorageError, env.jobs.job.Error.Code)
}

func TestTransformWorkerCancelled(t *testing.T) {
	env := newTransformEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.storage.downloadErr = ctx.Err()

	err := env.worker.ProcessTask(ctx, transformTask(t))
	require.NoError(t, err)

	assert.Equal(t, model.ErrCodeCancelled, env.jobs.job.Error.Code)
}

func TestTransformWorkerScratchReleasedOnFailure(t *testing.T) {
	env := newTransformEnv(t)
	env.generator.configured = true
	env.generator.err = errors.New("boom")

	err := env.worker.ProcessTask(context.Background(), transformTask(t))
	require.NoError(t, err)

	entries, rerr := os.ReadDir(env.scratch)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestTransformWorkerProgressMilestones(t *testing.T) {
	env := newTransformEnv(t)

	require.NoError(t, env.worker.ProcessTask(context.Background(), transformTask(t)))

	var persisted []int
	for _, p := range env.jobs.progress {
		persisted = append(persisted, p.Percentage)
	}
	assert.Equal(t, []int{10, 30, 80}, persisted)
	assert.Equal(t, persisted, env.hub.progress)
}

func TestTransformWorkerMalformedPayload(t *testing.T) {
	env := newTransformEnv(t)

	err := env.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeTransform, []byte("nope")))
	require.Error(t, err)
}

func TestTransformWorkerKeepsSourceCopyDuringRun(t *testing.T) {
	env := newTransformEnv(t)

	// the scratch layout is transform-{jobID}; verify the dir naming the
	// reaper depends on
	scratchDir := filepath.Join(env.scratch, "transform-job-1")
	require.NoError(t, env.worker.ProcessTask(context.Background(), transformTask(t)))
	_, statErr := os.Stat(scratchDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestClassifyPipelineError(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		stage string
		err   error
		want  string
	}{
		{"download", errors.New("x"), model.ErrCodeStorageError},
		{"upload", errors.New("x"), model.ErrCodeStorageError},
		{"generate", errors.New("x"), model.ErrCodeAIModelError},
		{"", errors.New("x"), model.ErrCodeProcessingFailed},
		{"generate", context.DeadlineExceeded, model.ErrCodeTimeout},
		{"download", context.Canceled, model.ErrCodeCancelled},
	}
	for _, tc := range cases {
		if got := classifyPipelineError(ctx, tc.stage, tc.err); got != tc.want {
			t.Errorf("classifyPipelineError(%q, %v) = %s, want %s", tc.stage, tc.err, got, tc.want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := contentTypeFor("png"); got != "image/png" {
		t.Errorf("png: got %s", got)
	}
	if got := contentTypeFor("jpg"); got != "image/jpeg" {
		t.Errorf("jpg: got %s", got)
	}
	if !strings.HasPrefix(contentTypeFor(""), "image/") {
		t.Error("default must be an image content type")
	}
}
