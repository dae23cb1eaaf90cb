package model

import "time"

// Project represents an event project's export-relevant document
type Project struct {
	ID             string         `json:"id"`
	WorkspaceID    string         `json:"workspaceId"`
	Name           string         `json:"name"`
	ExportSettings ExportSettings `json:"exportSettings"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ExportSettings holds per-project export enablement. Read live at
// dispatch/delivery time, never snapshotted.
type ExportSettings struct {
	DropboxEnabled bool `json:"dropboxEnabled"`
}

// EnabledProviders returns the providers exports should fan out to.
func (s ExportSettings) EnabledProviders() []string {
	var providers []string
	if s.DropboxEnabled {
		providers = append(providers, ProviderDropbox)
	}
	return providers
}

// Experience represents a guest experience document. Workers read only the
// name off this; everything the transform needs lives in the job snapshot.
type Experience struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	Name      string          `json:"name"`
	Transform TransformConfig `json:"transform"`
}

// Session represents a guest session document. The job status and result
// media fields are best-effort mirrors maintained by the transform worker.
type Session struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"projectId"`
	ExperienceID string            `json:"experienceId"`
	SourceKey    string            `json:"sourceKey"`
	Inputs       map[string]string `json:"inputs,omitempty"`
	JobID        string            `json:"jobId,omitempty"`
	JobStatus    JobStatus         `json:"jobStatus,omitempty"`
	ResultMedia  *JobOutput        `json:"resultMedia,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Integration status
type IntegrationStatus string

const (
	IntegrationConnected   IntegrationStatus = "connected"
	IntegrationNeedsReauth IntegrationStatus = "needs_reauth"
)

// DropboxIntegration is the per-workspace OAuth credential record. Mutated
// only when a refresh exchange is permanently rejected.
type DropboxIntegration struct {
	WorkspaceID           string            `json:"workspaceId"`
	Status                IntegrationStatus `json:"status"`
	EncryptedRefreshToken string            `json:"encryptedRefreshToken"`
	ConnectedAt           time.Time         `json:"connectedAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}
