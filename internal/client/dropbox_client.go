package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/framebooth/api/internal/config"
)

const (
	// SingleUploadMaxBytes is the cutoff for single-shot uploads. Larger
	// payloads go through an upload session.
	SingleUploadMaxBytes = 150 * 1024 * 1024

	// uploadChunkBytes is the session append size. Dropbox requires appends
	// to be a multiple of 4MB except for the final chunk.
	uploadChunkBytes = 8 * 1024 * 1024
)

var (
	// ErrInvalidGrant means the provider permanently rejected the stored
	// refresh token. The integration must be reconnected by the user.
	ErrInvalidGrant = errors.New("dropbox: refresh token rejected")

	// ErrInsufficientSpace means the destination account is out of storage.
	ErrInsufficientSpace = errors.New("dropbox: insufficient space")
)

// DropboxUploader defines the Dropbox operations the export pipeline needs
type DropboxUploader interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	UploadFile(ctx context.Context, accessToken, path string, body io.Reader, size int64) error
}

// DropboxClient implements DropboxUploader against the Dropbox HTTP API
type DropboxClient struct {
	httpClient *http.Client
	apiBaseURL string
	contentURL string
	appKey     string
	appSecret  string
}

// NewDropboxClient creates a new Dropbox API client
func NewDropboxClient(cfg *config.DropboxConfig) *DropboxClient {
	return &DropboxClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		apiBaseURL: cfg.APIBaseURL,
		contentURL: cfg.ContentURL,
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
	}
}

// IsConfigured returns true if the client has app credentials
func (c *DropboxClient) IsConfigured() bool {
	return c.appKey != "" && c.appSecret != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshAccessToken exchanges a long-lived refresh token for a short-lived
// access token. Returns ErrInvalidGrant when the provider reports the token
// as permanently invalid; every other failure is an ordinary error.
func (c *DropboxClient) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.appKey, c.appSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var te tokenError
		if json.Unmarshal(body, &te) == nil && te.Error == "invalid_grant" {
			return "", ErrInvalidGrant
		}
		return "", fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return tr.AccessToken, nil
}

// UploadFile stores the given body at path in the connected Dropbox account.
// Payloads at or below SingleUploadMaxBytes take the single-shot endpoint;
// larger payloads go through an upload session in uploadChunkBytes parts.
func (c *DropboxClient) UploadFile(ctx context.Context, accessToken, path string, body io.Reader, size int64) error {
	if size <= SingleUploadMaxBytes {
		return c.uploadSingle(ctx, accessToken, path, body)
	}
	return c.uploadChunked(ctx, accessToken, path, body, size)
}

type commitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

func (c *DropboxClient) uploadSingle(ctx context.Context, accessToken, path string, body io.Reader) error {
	arg, err := json.Marshal(commitInfo{Path: path, Mode: "add", Autorename: true, Mute: true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.contentURL+"/2/files/upload", body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	return c.doContentRequest(req)
}

func (c *DropboxClient) uploadChunked(ctx context.Context, accessToken, path string, body io.Reader, size int64) error {
	sessionID, err := c.startSession(ctx, accessToken)
	if err != nil {
		return err
	}

	buf := make([]byte, uploadChunkBytes)
	var offset int64
	for offset < size {
		n, err := io.ReadFull(body, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// final, short chunk
		} else if err != nil {
			return fmt.Errorf("failed to read upload chunk: %w", err)
		}
		if n == 0 {
			break
		}

		remaining := size - offset - int64(n)
		if remaining > 0 {
			if err := c.appendToSession(ctx, accessToken, sessionID, offset, buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
			continue
		}

		// last chunk commits the session
		return c.finishSession(ctx, accessToken, sessionID, offset, path, buf[:n])
	}

	return c.finishSession(ctx, accessToken, sessionID, offset, path, nil)
}

type sessionStartResponse struct {
	SessionID string `json:"session_id"`
}

func (c *DropboxClient) startSession(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.contentURL+"/2/files/upload_session/start", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build session start request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", `{"close": false}`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session start failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read session start response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session start returned %d: %s", resp.StatusCode, string(respBody))
	}

	var sr sessionStartResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("failed to parse session start response: %w", err)
	}
	return sr.SessionID, nil
}

func (c *DropboxClient) appendToSession(ctx context.Context, accessToken, sessionID string, offset int64, chunk []byte) error {
	arg := fmt.Sprintf(`{"cursor": {"session_id": %q, "offset": %d}, "close": false}`, sessionID, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.contentURL+"/2/files/upload_session/append_v2", strings.NewReader(string(chunk)))
	if err != nil {
		return fmt.Errorf("failed to build session append request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", arg)

	return c.doContentRequest(req)
}

func (c *DropboxClient) finishSession(ctx context.Context, accessToken, sessionID string, offset int64, path string, chunk []byte) error {
	commit, err := json.Marshal(commitInfo{Path: path, Mode: "add", Autorename: true, Mute: true})
	if err != nil {
		return err
	}
	arg := fmt.Sprintf(`{"cursor": {"session_id": %q, "offset": %d}, "commit": %s}`, sessionID, offset, string(commit))

	var body io.Reader
	if len(chunk) > 0 {
		body = strings.NewReader(string(chunk))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.contentURL+"/2/files/upload_session/finish", body)
	if err != nil {
		return fmt.Errorf("failed to build session finish request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", arg)

	return c.doContentRequest(req)
}

// doContentRequest executes a content-endpoint request and classifies the
// provider's insufficient_space condition.
func (c *DropboxClient) doContentRequest(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dropbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(respBody), "insufficient_space") {
		return ErrInsufficientSpace
	}
	return fmt.Errorf("dropbox returned %d: %s", resp.StatusCode, string(respBody))
}
