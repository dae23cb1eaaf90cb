package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// CanTransitionTo reports whether moving from s to next is a valid lifecycle
// move. The only valid moves are pending→running and running→{completed,failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		return false
	}
	return false
}

// IsTerminal reports whether the status is an end state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one transform job with its durable lifecycle record
type Job struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"projectId"`
	SessionID    string       `json:"sessionId"`
	ExperienceID string       `json:"experienceId"`
	Status       JobStatus    `json:"status"`
	Snapshot     JobSnapshot  `json:"snapshot"`
	Progress     *JobProgress `json:"progress,omitempty"`
	Output       *JobOutput   `json:"output,omitempty"`
	Error        *JobError    `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// JobSnapshot is the immutable copy of session inputs and experience transform
// configuration captured when the job is enqueued. Workers read only this,
// never the live session/experience documents.
type JobSnapshot struct {
	SourceKey string            `json:"sourceKey"`
	Inputs    map[string]string `json:"inputs,omitempty"`
	Transform TransformConfig   `json:"transform"`
}

// TransformConfig is the experience's transform configuration at enqueue time
type TransformConfig struct {
	Prompt       string  `json:"prompt"`
	Style        string  `json:"style,omitempty"`
	Strength     float64 `json:"strength,omitempty"`
	OutputFormat string  `json:"outputFormat,omitempty"` // jpg or png
}

// JobProgress is best-effort telemetry, never used for control flow
type JobProgress struct {
	CurrentStep string `json:"currentStep"`
	Percentage  int    `json:"percentage"`
	Message     string `json:"message,omitempty"`
}

// JobOutput describes the produced artifact
type JobOutput struct {
	MediaKey         string `json:"mediaKey"`
	MediaURL         string `json:"mediaUrl"`
	ThumbnailKey     string `json:"thumbnailKey,omitempty"`
	ThumbnailURL     string `json:"thumbnailUrl,omitempty"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	SizeBytes        int64  `json:"sizeBytes"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// JobStartRequest represents the request to enqueue a transform job
type JobStartRequest struct {
	ProjectID    string `json:"projectId" validate:"required"`
	SessionID    string `json:"sessionId" validate:"required"`
	ExperienceID string `json:"experienceId" validate:"required"`
}

// JobStartResponse represents the response for a queued transform job
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse represents the current state of a transform job
type JobStatusResponse struct {
	JobID       string       `json:"jobId"`
	Status      JobStatus    `json:"status"`
	Progress    *JobProgress `json:"progress,omitempty"`
	Error       *JobError    `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// TransformTaskPayload is the payload delivered to the transform worker
type TransformTaskPayload struct {
	JobID     string `json:"jobId" validate:"required"`
	ProjectID string `json:"projectId" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
}
