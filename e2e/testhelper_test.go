package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framebooth/api/internal/handler"
	"github.com/framebooth/api/internal/middleware"
	"github.com/framebooth/api/internal/model"
	"github.com/framebooth/api/internal/service"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	redis *redis.Client
}

// setupApp creates a Fiber app wired like main.go but with unconfigured
// external clients. Requires a local Redis; skips otherwise.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — DB 15 to avoid collision with dev data)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis not available at localhost:6379: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	// Services
	projectService := service.NewProjectService(redisClient)
	jobService := service.NewJobService(redisClient, asynqClient, projectService, 600*time.Second)
	exportLogService := service.NewExportLogService(redisClient)

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	exportHandler := handler.NewExportHandler(exportLogService, projectService)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"storage": false,
				"dropbox": false,
				"lumen":   false,
				"exports": false,
			},
		})
	})

	// API routes (authenticated); very high rate limits so tests never block
	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Post("/start", rateLimiter.JobsLimit(100000), jobHandler.Start)
	jobs.Get("/:projectId/:jobId/status", jobHandler.Status)
	jobs.Get("/:projectId/:jobId/result", jobHandler.Result)

	exports := api.Group("/exports", rateLimiter.LogsLimit(100000))
	exports.Get("/:projectId/logs", exportHandler.Logs)
	exports.Get("/integrations/:workspaceId/dropbox", exportHandler.IntegrationStatus)

	return &testApp{app: app, redis: redisClient}
}

// seedDoc JSON-encodes a document under the given key and removes it after
// the test.
func (ta *testApp) seedDoc(t *testing.T, key string, doc interface{}) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal %s: %v", key, err)
	}
	if err := ta.redis.Set(context.Background(), key, data, time.Hour).Err(); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
	t.Cleanup(func() { ta.redis.Del(context.Background(), key) })
}

// seedProject writes a project, session and experience that can back a job
// start request.
func (ta *testApp) seedProject(t *testing.T, projectID, sessionID, experienceID string) {
	t.Helper()
	now := time.Now().UTC()

	ta.seedDoc(t, fmt.Sprintf("project:%s", projectID), model.Project{
		ID:          projectID,
		WorkspaceID: "ws-e2e",
		Name:        "E2E Project",
	})
	ta.seedDoc(t, fmt.Sprintf("session:%s:%s", projectID, sessionID), model.Session{
		ID:           sessionID,
		ProjectID:    projectID,
		ExperienceID: experienceID,
		SourceKey:    fmt.Sprintf("uploads/%s/%s/source.jpg", projectID, sessionID),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	ta.seedDoc(t, fmt.Sprintf("experience:%s:%s", projectID, experienceID), model.Experience{
		ID:        experienceID,
		ProjectID: projectID,
		Name:      "E2E Experience",
		Transform: model.TransformConfig{Prompt: "test prompt"},
	})
}

// generateToken creates an HMAC JWT for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID:      "test-user-123",
		WorkspaceID: "ws-e2e",
		Email:       "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses a response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}
