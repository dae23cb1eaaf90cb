package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/framebooth/api/internal/model"
	"github.com/framebooth/api/internal/service"
)

// DropboxEnqueuer queues one per-integration delivery task
type DropboxEnqueuer interface {
	EnqueueDropboxExport(ctx context.Context, payload *model.DropboxExportPayload) error
}

// ExportDispatcher fans a completed job's result out to every integration the
// project currently has enabled. Enablement is read live, not from the job
// snapshot: export preferences are expected to change between job creation
// and completion.
type ExportDispatcher struct {
	jobs     service.JobStore
	projects service.ProjectStore
	enqueuer DropboxEnqueuer
	validate *validator.Validate
	logger   *slog.Logger
}

// NewExportDispatcher creates a new export dispatcher
func NewExportDispatcher(jobs service.JobStore, projects service.ProjectStore, enqueuer DropboxEnqueuer, validate *validator.Validate, logger *slog.Logger) *ExportDispatcher {
	return &ExportDispatcher{
		jobs:     jobs,
		projects: projects,
		enqueuer: enqueuer,
		validate: validate,
		logger:   logger,
	}
}

// ProcessTask enqueues exactly one export task per enabled integration.
// Invalid payloads and missing projects return silently: a missing project
// means the destination no longer exists, so retrying cannot help.
func (d *ExportDispatcher) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ExportDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		d.logger.Warn("malformed export dispatch payload", slog.Any("error", err))
		return nil
	}
	if err := d.validate.Struct(&payload); err != nil {
		d.logger.Warn("invalid export dispatch payload", slog.Any("error", err))
		return nil
	}

	log := d.logger.With(slog.String("jobId", payload.JobID), slog.String("projectId", payload.ProjectID))

	project, err := d.projects.GetProject(ctx, payload.ProjectID)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			log.Info("project gone, skipping export dispatch")
			return nil
		}
		return fmt.Errorf("failed to load project: %w", err)
	}

	providers := project.ExportSettings.EnabledProviders()
	if len(providers) == 0 {
		log.Debug("no export integrations enabled")
		return nil
	}

	sizeBytes := d.resultSize(ctx, &payload)

	for _, provider := range providers {
		switch provider {
		case model.ProviderDropbox:
			task := &model.DropboxExportPayload{
				JobID:        payload.JobID,
				ProjectID:    payload.ProjectID,
				SessionID:    payload.SessionID,
				WorkspaceID:  project.WorkspaceID,
				ExperienceID: payload.ExperienceID,
				ResultMedia:  payload.ResultMedia,
				SizeBytes:    sizeBytes,
				// dispatch timestamp propagated for destination-path determinism
				CreatedAt: payload.CreatedAt,
			}
			if err := d.enqueuer.EnqueueDropboxExport(ctx, task); err != nil {
				return fmt.Errorf("failed to enqueue dropbox export: %w", err)
			}
			log.Info("dropbox export enqueued")
		}
	}

	return nil
}

// resultSize reads the produced artifact's size off the job record. Best
// effort: the export worker re-validates against the object store anyway.
func (d *ExportDispatcher) resultSize(ctx context.Context, payload *model.ExportDispatchPayload) int64 {
	job, err := d.jobs.Fetch(ctx, payload.ProjectID, payload.JobID)
	if err != nil || job.Output == nil {
		return 0
	}
	return job.Output.SizeBytes
}
