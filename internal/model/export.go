package model

import "time"

// Export providers
const (
	ProviderDropbox = "dropbox"
)

// Export log status
type ExportStatus string

const (
	ExportStatusSuccess ExportStatus = "success"
	ExportStatusFailed  ExportStatus = "failed"
)

// Export failure reasons recorded on ExportLog entries
const (
	ExportErrFileSizeExceeded  = "file_size_exceeded"
	ExportErrSourceFileMissing = "source_file_missing"
	ExportErrSourceFileEmpty   = "source_file_empty"
	ExportErrReauthRequired    = "reconnection_required"
	ExportErrInsufficientSpace = "insufficient_space"
	ExportErrUploadFailed      = "upload_failed"
)

// ExportLog is an append-only audit record, one per export attempt. A retried
// attempt produces a new entry; entries are never updated.
type ExportLog struct {
	ID              string       `json:"id"`
	JobID           string       `json:"jobId"`
	SessionID       string       `json:"sessionId"`
	Provider        string       `json:"provider"`
	Status          ExportStatus `json:"status"`
	DestinationPath string       `json:"destinationPath,omitempty"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// ResultMedia is the artifact reference carried through export payloads
type ResultMedia struct {
	FilePath string `json:"filePath" validate:"required"`
}

// ExportDispatchPayload is delivered to the export dispatcher after a job
// completes. CreatedAt is the dispatch timestamp and is propagated unchanged
// to every per-integration task so a retried delivery computes the same
// destination path.
type ExportDispatchPayload struct {
	JobID        string      `json:"jobId" validate:"required"`
	ProjectID    string      `json:"projectId" validate:"required"`
	SessionID    string      `json:"sessionId" validate:"required"`
	ExperienceID string      `json:"experienceId" validate:"required"`
	ResultMedia  ResultMedia `json:"resultMedia" validate:"required"`
	CreatedAt    time.Time   `json:"createdAt" validate:"required"`
}

// DropboxExportPayload is delivered to the Dropbox export worker
type DropboxExportPayload struct {
	JobID        string      `json:"jobId" validate:"required"`
	ProjectID    string      `json:"projectId" validate:"required"`
	SessionID    string      `json:"sessionId" validate:"required"`
	WorkspaceID  string      `json:"workspaceId" validate:"required"`
	ExperienceID string      `json:"experienceId" validate:"required"`
	ResultMedia  ResultMedia `json:"resultMedia" validate:"required"`
	SizeBytes    int64       `json:"sizeBytes"`
	CreatedAt    time.Time   `json:"createdAt" validate:"required"`
}
