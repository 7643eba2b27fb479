package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"soradesk/internal/domain"
)

// AzureOptions configures the Azure OpenAI chat-completions enhancer.
type AzureOptions struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	HTTPClient *http.Client
}

// AzureEnhancer calls an o4-mini style deployment to rewrite prompts.
type AzureEnhancer struct {
	endpoint   string
	apiKey     string
	deployment string
	apiVersion string
	client     *http.Client
}

const azureDefaultTimeout = 30 * time.Second

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewAzureEnhancer constructs an enhancer with sane defaults.
func NewAzureEnhancer(opts AzureOptions) (*AzureEnhancer, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("prompt: endpoint is required")
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("prompt: api key is required")
	}
	deployment := strings.TrimSpace(opts.Deployment)
	if deployment == "" {
		deployment = "o4-mini"
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2024-12-01-preview"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: azureDefaultTimeout}
	}
	return &AzureEnhancer{
		endpoint:   endpoint,
		apiKey:     apiKey,
		deployment: deployment,
		apiVersion: apiVersion,
		client:     client,
	}, nil
}

// Enhance rewrites prompt through the deployment. The result is truncated to
// MaxEnhancedLength; 429 and 401 responses come back as *APIError.
func (a *AzureEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.ErrInvalidPrompt
	}
	payload := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Enhance this video prompt: %q", prompt)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("prompt: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", a.endpoint, a.deployment, a.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("prompt: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("prompt: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("prompt: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("prompt: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("prompt: empty response from enhancement service")
	}
	enhanced := strings.TrimSpace(out.Choices[0].Message.Content)
	if enhanced == "" {
		return "", errors.New("prompt: empty response from enhancement service")
	}
	if len([]rune(enhanced)) > MaxEnhancedLength {
		enhanced = string([]rune(enhanced)[:MaxEnhancedLength-3]) + "..."
	}
	return enhanced, nil
}

var _ Enhancer = (*AzureEnhancer)(nil)
