package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framebooth/api/internal/model"
)

// Task types and queues
const (
	TaskTypeTransform      = "transform:process"
	TaskTypeExportDispatch = "export:dispatch"
	TaskTypeExportDropbox  = "export:dropbox"

	QueueTransform = "transform"
	QueueExport    = "export"
)

const jobTTL = 7 * 24 * time.Hour

// ErrJobNotFound is returned when no job record exists for the given key
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a lifecycle update would violate the
// pending→running→{completed,failed} state machine
var ErrInvalidTransition = errors.New("invalid job status transition")

// JobStore is the job-record contract the workers depend on. Every method is
// a single-document upsert keyed by (projectID, jobID).
type JobStore interface {
	Fetch(ctx context.Context, projectID, jobID string) (*model.Job, error)
	UpdateStarted(ctx context.Context, projectID, jobID string) error
	UpdateProgress(ctx context.Context, projectID, jobID string, progress *model.JobProgress) error
	UpdateComplete(ctx context.Context, projectID, jobID string, output *model.JobOutput) error
	UpdateError(ctx context.Context, projectID, jobID string, jobErr *model.JobError) error
}

// JobService manages transform job records and enqueues their tasks
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	projects    *ProjectService
	timeout     time.Duration
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client, projects *ProjectService, transformTimeout time.Duration) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
		projects:    projects,
		timeout:     transformTimeout,
	}
}

// StartTransform captures an immutable snapshot of the session and experience
// and enqueues a transform task. The snapshot guarantees the job processes
// exactly the configuration that existed at enqueue time.
func (s *JobService) StartTransform(ctx context.Context, req *model.JobStartRequest) (*model.JobStartResponse, error) {
	session, err := s.projects.GetSession(ctx, req.ProjectID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	experience, err := s.projects.GetExperience(ctx, req.ProjectID, req.ExperienceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experience: %w", err)
	}

	jobID := uuid.New().String()
	now := time.Now().UTC()

	job := &model.Job{
		ID:           jobID,
		ProjectID:    req.ProjectID,
		SessionID:    req.SessionID,
		ExperienceID: req.ExperienceID,
		Status:       model.JobStatusPending,
		Snapshot: model.JobSnapshot{
			SourceKey: session.SourceKey,
			Inputs:    session.Inputs,
			Transform: experience.Transform,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := json.Marshal(model.TransformTaskPayload{
		JobID:     jobID,
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	// TaskID dedupes duplicate enqueues; the worker's pending-status guard
	// covers redelivery after the uniqueness window.
	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeTransform, payload),
		asynq.Queue(QueueTransform),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(s.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusPending,
		CreatedAt: now,
	}, nil
}

// EnqueueExportDispatch queues export fan-out for a completed job. Export is
// fire-and-forget relative to the job: enqueue failure never fails the job.
func (s *JobService) EnqueueExportDispatch(ctx context.Context, payload *model.ExportDispatchPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeExportDispatch, data),
		asynq.Queue(QueueExport),
		asynq.MaxRetry(3),
		asynq.Timeout(60*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue export dispatch: %w", err)
	}
	return nil
}

// EnqueueDropboxExport queues one Dropbox delivery task
func (s *JobService) EnqueueDropboxExport(ctx context.Context, payload *model.DropboxExportPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dropbox payload: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeExportDropbox, data),
		asynq.Queue(QueueExport),
		asynq.MaxRetry(3),
		asynq.Timeout(120*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue dropbox export: %w", err)
	}
	return nil
}

// GetStatus returns the current state of a transform job
func (s *JobService) GetStatus(ctx context.Context, projectID, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.Fetch(ctx, projectID, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetOutput returns the output of a completed transform job
func (s *JobService) GetOutput(ctx context.Context, projectID, jobID string) (*model.JobOutput, error) {
	job, err := s.Fetch(ctx, projectID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, fmt.Errorf("job not completed")
	}
	return job.Output, nil
}

// Fetch loads a job record, returning ErrJobNotFound when absent
func (s *JobService) Fetch(ctx context.Context, projectID, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(projectID, jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateStarted transitions pending→running and sets StartedAt exactly once
func (s *JobService) UpdateStarted(ctx context.Context, projectID, jobID string) error {
	return s.mutateJob(ctx, projectID, jobID, func(job *model.Job) error {
		if !job.Status.CanTransitionTo(model.JobStatusRunning) {
			return fmt.Errorf("%w: %s→running", ErrInvalidTransition, job.Status)
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusRunning
		job.StartedAt = &now
		return nil
	})
}

// UpdateProgress records best-effort progress telemetry
func (s *JobService) UpdateProgress(ctx context.Context, projectID, jobID string, progress *model.JobProgress) error {
	return s.mutateJob(ctx, projectID, jobID, func(job *model.Job) error {
		job.Progress = progress
		return nil
	})
}

// UpdateComplete atomically writes output, status=completed and CompletedAt
func (s *JobService) UpdateComplete(ctx context.Context, projectID, jobID string, output *model.JobOutput) error {
	return s.mutateJob(ctx, projectID, jobID, func(job *model.Job) error {
		if !job.Status.CanTransitionTo(model.JobStatusCompleted) {
			return fmt.Errorf("%w: %s→completed", ErrInvalidTransition, job.Status)
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusCompleted
		job.Output = output
		job.Progress = &model.JobProgress{CurrentStep: "done", Percentage: 100}
		job.CompletedAt = &now
		return nil
	})
}

// UpdateError writes a sanitized error, status=failed and CompletedAt
func (s *JobService) UpdateError(ctx context.Context, projectID, jobID string, jobErr *model.JobError) error {
	return s.mutateJob(ctx, projectID, jobID, func(job *model.Job) error {
		if !job.Status.CanTransitionTo(model.JobStatusFailed) {
			return fmt.Errorf("%w: %s→failed", ErrInvalidTransition, job.Status)
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusFailed
		job.Error = jobErr
		job.CompletedAt = &now
		return nil
	})
}

// Helper methods

func (s *JobService) mutateJob(ctx context.Context, projectID, jobID string, mutate func(*model.Job) error) error {
	job, err := s.Fetch(ctx, projectID, jobID)
	if err != nil {
		return err
	}
	if err := mutate(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	return s.saveJob(ctx, job)
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ProjectID, job.ID), data, jobTTL).Err()
}

func jobKey(projectID, jobID string) string {
	return fmt.Sprintf("job:%s:%s", projectID, jobID)
}
