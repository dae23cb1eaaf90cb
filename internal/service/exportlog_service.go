package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/framebooth/api/internal/model"
)

// ExportLogWriter is the append-only audit contract the export worker writes
// through. Entries are never updated; a retried attempt appends a new one.
type ExportLogWriter interface {
	Create(ctx context.Context, projectID string, entry *model.ExportLog) (string, error)
}

// ExportLogService persists export audit records, newest first
type ExportLogService struct {
	redis *redis.Client
}

func NewExportLogService(redisClient *redis.Client) *ExportLogService {
	return &ExportLogService{redis: redisClient}
}

// Create appends one export log entry and returns its ID
func (s *ExportLogService) Create(ctx context.Context, projectID string, entry *model.ExportLog) (string, error) {
	entry.ID = uuid.New().String()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal export log: %w", err)
	}

	if err := s.redis.LPush(ctx, exportLogKey(projectID), data).Err(); err != nil {
		return "", fmt.Errorf("failed to append export log: %w", err)
	}
	return entry.ID, nil
}

// List returns up to limit entries for a project, newest first
func (s *ExportLogService) List(ctx context.Context, projectID string, limit int64) ([]model.ExportLog, error) {
	if limit <= 0 {
		limit = 50
	}

	raw, err := s.redis.LRange(ctx, exportLogKey(projectID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list export logs: %w", err)
	}

	logs := make([]model.ExportLog, 0, len(raw))
	for _, item := range raw {
		var entry model.ExportLog
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func exportLogKey(projectID string) string {
	return fmt.Sprintf("exportlogs:%s", projectID)
}
