package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/framebooth/api/internal/config"
)

// ImageGenerator defines the black-box image transform capability
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *GenerateImageRequest) ([]byte, error)
	IsConfigured() bool
}

// GenerateImageRequest represents one image transform call
type GenerateImageRequest struct {
	SourceImage  []byte  `json:"-"`
	Prompt       string  `json:"prompt"`
	Style        string  `json:"style,omitempty"`
	Strength     float64 `json:"strength,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
}

// LumenClient implements ImageGenerator for the Lumen Studio API
type LumenClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewLumenClient creates a new Lumen API client
func NewLumenClient(cfg *config.LumenConfig) *LumenClient {
	return &LumenClient{
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// IsConfigured returns true if the client has an API key
func (c *LumenClient) IsConfigured() bool {
	return c.apiKey != ""
}

type generateImageBody struct {
	Model        string  `json:"model"`
	Image        string  `json:"image"`
	Prompt       string  `json:"prompt"`
	Style        string  `json:"style,omitempty"`
	Strength     float64 `json:"strength,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
}

type generateImageResponse struct {
	Image string `json:"image"`
}

// GenerateImage runs one transform and returns the produced image bytes
func (c *LumenClient) GenerateImage(ctx context.Context, req *GenerateImageRequest) ([]byte, error) {
	body := generateImageBody{
		Model:        c.model,
		Image:        base64.StdEncoding.EncodeToString(req.SourceImage),
		Prompt:       req.Prompt,
		Style:        req.Style,
		Strength:     req.Strength,
		OutputFormat: req.OutputFormat,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/images/transform", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generate returned %d: %s", resp.StatusCode, string(respBody))
	}

	var gr generateImageResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("failed to parse generate response: %w", err)
	}

	img, err := base64.StdEncoding.DecodeString(gr.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}
	return img, nil
}
