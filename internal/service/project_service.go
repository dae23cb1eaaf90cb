package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/framebooth/api/internal/model"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrExperienceNotFound  = errors.New("experience not found")
	ErrIntegrationNotFound = errors.New("integration not found")
)

// ProjectStore is the live-document contract the export pipeline depends on.
// Reads are always live, never snapshotted: export enablement and integration
// status reflect the current state of the world.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	GetExperience(ctx context.Context, projectID, experienceID string) (*model.Experience, error)
	GetIntegration(ctx context.Context, workspaceID string) (*model.DropboxIntegration, error)
	MarkIntegrationNeedsReauth(ctx context.Context, workspaceID string) error
}

// SessionMirror is the best-effort session mirror contract. Failures here
// never roll back job state.
type SessionMirror interface {
	UpdateSessionJobStatus(ctx context.Context, projectID, sessionID, jobID string, status model.JobStatus) error
	UpdateSessionResultMedia(ctx context.Context, projectID, sessionID string, media *model.JobOutput) error
}

// ProjectService reads and mirrors the project/session/integration documents
// the job and export pipelines touch. Document creation belongs to the CRUD
// surface of the platform, not to this service.
type ProjectService struct {
	redis *redis.Client
}

func NewProjectService(redisClient *redis.Client) *ProjectService {
	return &ProjectService{redis: redisClient}
}

// GetProject loads a project document
func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var project model.Project
	if err := s.getDoc(ctx, fmt.Sprintf("project:%s", projectID), &project, ErrProjectNotFound); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetSession loads a session document
func (s *ProjectService) GetSession(ctx context.Context, projectID, sessionID string) (*model.Session, error) {
	var session model.Session
	if err := s.getDoc(ctx, sessionKey(projectID, sessionID), &session, ErrSessionNotFound); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetExperience loads an experience document
func (s *ProjectService) GetExperience(ctx context.Context, projectID, experienceID string) (*model.Experience, error) {
	var experience model.Experience
	if err := s.getDoc(ctx, fmt.Sprintf("experience:%s:%s", projectID, experienceID), &experience, ErrExperienceNotFound); err != nil {
		return nil, err
	}
	return &experience, nil
}

// GetIntegration loads the workspace's Dropbox credential record
func (s *ProjectService) GetIntegration(ctx context.Context, workspaceID string) (*model.DropboxIntegration, error) {
	var integration model.DropboxIntegration
	if err := s.getDoc(ctx, integrationKey(workspaceID), &integration, ErrIntegrationNotFound); err != nil {
		return nil, err
	}
	return &integration, nil
}

// MarkIntegrationNeedsReauth flips the credential record to needs_reauth.
// Full-document overwrite, last-writer-wins: no transaction is taken against
// a concurrent reconnect flow.
func (s *ProjectService) MarkIntegrationNeedsReauth(ctx context.Context, workspaceID string) error {
	integration, err := s.GetIntegration(ctx, workspaceID)
	if err != nil {
		return err
	}
	integration.Status = model.IntegrationNeedsReauth
	integration.UpdatedAt = time.Now().UTC()
	return s.setDoc(ctx, integrationKey(workspaceID), integration)
}

// UpdateSessionJobStatus mirrors a job's status onto its session document
func (s *ProjectService) UpdateSessionJobStatus(ctx context.Context, projectID, sessionID, jobID string, status model.JobStatus) error {
	session, err := s.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return err
	}
	session.JobID = jobID
	session.JobStatus = status
	session.UpdatedAt = time.Now().UTC()
	return s.setDoc(ctx, sessionKey(projectID, sessionID), session)
}

// UpdateSessionResultMedia mirrors a completed job's output onto its session
func (s *ProjectService) UpdateSessionResultMedia(ctx context.Context, projectID, sessionID string, media *model.JobOutput) error {
	session, err := s.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return err
	}
	session.ResultMedia = media
	session.UpdatedAt = time.Now().UTC()
	return s.setDoc(ctx, sessionKey(projectID, sessionID), session)
}

// Helper methods

func (s *ProjectService) getDoc(ctx context.Context, key string, out interface{}, notFound error) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return notFound
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *ProjectService) setDoc(ctx context.Context, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, 0).Err()
}

func sessionKey(projectID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", projectID, sessionID)
}

func integrationKey(workspaceID string) string {
	return fmt.Sprintf("integration:dropbox:%s", workspaceID)
}
