package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/framebooth/api/internal/client"
	"github.com/framebooth/api/internal/credentials"
	"github.com/framebooth/api/internal/model"
	"github.com/framebooth/api/internal/service"
)

// maxExportSizeBytes rejects oversized payloads before any network I/O
const maxExportSizeBytes = 500 * 1024 * 1024

// stepResult tags how a delivery step ended, so the retry decision is
// explicit data rather than error-type inspection.
type stepResult int

const (
	stepOK stepResult = iota
	// stepSkip: expected mid-flight condition (user disconnected the
	// integration, disabled the export). No log entry, no retry.
	stepSkip
	// stepTerminal: the failure was recorded in an ExportLog and retrying
	// cannot change the outcome.
	stepTerminal
	// stepRetry: transient; the error propagates so the queue's retry
	// policy applies.
	stepRetry
)

// CredentialRefresher exchanges a stored encrypted refresh token for an
// access token
type CredentialRefresher interface {
	Refresh(ctx context.Context, encryptedRefreshToken string) (string, error)
}

// DropboxWorker delivers one artifact to one workspace's Dropbox, idempotent
// with respect to redelivery of the same payload, and self-logs the outcome.
type DropboxWorker struct {
	projects service.ProjectStore
	logs     service.ExportLogWriter
	storage  client.StorageClient
	dropbox  client.DropboxUploader
	creds    CredentialRefresher
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDropboxWorker creates a new Dropbox export worker
func NewDropboxWorker(
	projects service.ProjectStore,
	logs service.ExportLogWriter,
	storage client.StorageClient,
	dropbox client.DropboxUploader,
	creds CredentialRefresher,
	validate *validator.Validate,
	logger *slog.Logger,
) *DropboxWorker {
	return &DropboxWorker{
		projects: projects,
		logs:     logs,
		storage:  storage,
		dropbox:  dropbox,
		creds:    creds,
		validate: validate,
		logger:   logger,
	}
}

// ProcessTask handles one export task delivery
func (w *DropboxWorker) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	var payload model.DropboxExportPayload
	if uerr := json.Unmarshal(t.Payload(), &payload); uerr != nil {
		return fmt.Errorf("malformed dropbox export payload: %v: %w", uerr, asynq.SkipRetry)
	}
	if verr := w.validate.Struct(&payload); verr != nil {
		return fmt.Errorf("invalid dropbox export payload: %v: %w", verr, asynq.SkipRetry)
	}

	log := w.logger.With(
		slog.String("jobId", payload.JobID),
		slog.String("projectId", payload.ProjectID),
		slog.String("workspaceId", payload.WorkspaceID),
	)

	// Anything that escapes the explicit classification below still gets a
	// best-effort failed log before surfacing to the queue.
	defer func() {
		if r := recover(); r != nil {
			log.Error("dropbox export panicked", slog.Any("panic", r))
			w.writeLog(ctx, &payload, model.ExportStatusFailed, "", model.ExportErrUploadFailed, log)
			panic(r)
		}
	}()

	res, err := w.deliver(ctx, &payload, log)
	switch res {
	case stepOK:
		log.Info("dropbox export delivered")
		return nil
	case stepSkip:
		log.Info("dropbox export skipped")
		return nil
	case stepTerminal:
		// outcome already recorded in the export log; retrying is pointless
		log.Warn("dropbox export failed terminally", slog.Any("error", err))
		return nil
	default:
		log.Error("dropbox export failed, will retry", slog.Any("error", err))
		return err
	}
}

// deliver runs the linear delivery state machine
func (w *DropboxWorker) deliver(ctx context.Context, payload *model.DropboxExportPayload, log *slog.Logger) (stepResult, error) {
	// 1. Size gate, before any network I/O
	if payload.SizeBytes > maxExportSizeBytes {
		w.writeLog(ctx, payload, model.ExportStatusFailed, "", model.ExportErrFileSizeExceeded, log)
		return stepTerminal, fmt.Errorf("payload size %d exceeds limit", payload.SizeBytes)
	}

	// 2. Live context validation. A disconnect or disable mid-flight is an
	// expected situation: skip silently.
	integration, err := w.projects.GetIntegration(ctx, payload.WorkspaceID)
	if err != nil {
		if errors.Is(err, service.ErrIntegrationNotFound) {
			return stepSkip, nil
		}
		return stepRetry, fmt.Errorf("failed to load integration: %w", err)
	}
	if integration.Status != model.IntegrationConnected {
		return stepSkip, nil
	}

	project, err := w.projects.GetProject(ctx, payload.ProjectID)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			return stepSkip, nil
		}
		return stepRetry, fmt.Errorf("failed to load project: %w", err)
	}
	if !project.ExportSettings.DropboxEnabled {
		return stepSkip, nil
	}

	// 3. Credential refresh
	if w.creds == nil {
		return stepRetry, errors.New("credential manager not configured")
	}
	accessToken, err := w.creds.Refresh(ctx, integration.EncryptedRefreshToken)
	if err != nil {
		if errors.Is(err, credentials.ErrReauthRequired) {
			if merr := w.projects.MarkIntegrationNeedsReauth(ctx, payload.WorkspaceID); merr != nil {
				log.Error("failed to mark integration needs_reauth", slog.Any("error", merr))
			}
			w.writeLog(ctx, payload, model.ExportStatusFailed, "", model.ExportErrReauthRequired, log)
			return stepTerminal, err
		}
		return stepRetry, err
	}

	// 4. Source validation. A missing or empty source will never reappear.
	sourceKey := payload.ResultMedia.FilePath
	exists, err := w.storage.Exists(ctx, sourceKey)
	if err != nil {
		return stepRetry, fmt.Errorf("failed to check source: %w", err)
	}
	if !exists {
		w.writeLog(ctx, payload, model.ExportStatusFailed, "", model.ExportErrSourceFileMissing, log)
		return stepTerminal, fmt.Errorf("source %s missing", sourceKey)
	}

	meta, err := w.storage.GetMetadata(ctx, sourceKey)
	if err != nil {
		return stepRetry, fmt.Errorf("failed to read source metadata: %w", err)
	}
	if meta.SizeBytes == 0 {
		w.writeLog(ctx, payload, model.ExportStatusFailed, "", model.ExportErrSourceFileEmpty, log)
		return stepTerminal, fmt.Errorf("source %s is empty", sourceKey)
	}

	// 5. Download
	body, err := w.storage.Download(ctx, sourceKey)
	if err != nil {
		return stepRetry, fmt.Errorf("failed to download source: %w", err)
	}
	defer body.Close()

	// 6. Destination path, from the dispatch-time timestamp in the payload
	experienceName := ""
	experience, err := w.projects.GetExperience(ctx, payload.ProjectID, payload.ExperienceID)
	if err == nil {
		experienceName = experience.Name
	} else if !errors.Is(err, service.ErrExperienceNotFound) {
		return stepRetry, fmt.Errorf("failed to load experience: %w", err)
	}

	destPath := BuildDestinationPath(project.Name, experienceName, payload.SessionID, sourceKey, payload.CreatedAt)

	// 7. Upload, routed by size
	if err := w.dropbox.UploadFile(ctx, accessToken, destPath, body, meta.SizeBytes); err != nil {
		if errors.Is(err, client.ErrInsufficientSpace) {
			w.writeLog(ctx, payload, model.ExportStatusFailed, destPath, model.ExportErrInsufficientSpace, log)
			return stepTerminal, err
		}
		return stepRetry, fmt.Errorf("upload failed: %w", err)
	}

	// 8. Success log
	w.writeLog(ctx, payload, model.ExportStatusSuccess, destPath, "", log)
	return stepOK, nil
}

// writeLog appends one export audit entry. A log-write failure is reported
// separately and never masks the delivery outcome.
func (w *DropboxWorker) writeLog(ctx context.Context, payload *model.DropboxExportPayload, status model.ExportStatus, destPath, errCode string, log *slog.Logger) {
	entry := &model.ExportLog{
		JobID:           payload.JobID,
		SessionID:       payload.SessionID,
		Provider:        model.ProviderDropbox,
		Status:          status,
		DestinationPath: destPath,
		Error:           errCode,
		CreatedAt:       time.Now().UTC(),
	}
	if _, err := w.logs.Create(ctx, payload.ProjectID, entry); err != nil {
		log.Error("failed to write export log", slog.String("status", string(status)), slog.Any("error", err))
	}
}
