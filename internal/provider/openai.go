package provider

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

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// OpenAIConfig configures the OpenAI chat-completions backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAI talks to an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

// NewOpenAI builds an OpenAI backend, filling unset config with defaults.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the backend in logs and error values.
func (c *OpenAI) Name() string { return "openai" }

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *openAIAPIError `json:"error"`
}

type openAIAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Complete sends one chat completion. Quota signals (429, insufficient_quota)
// map to QuotaExceededError without retry; transport failures and 5xx retry
// with exponential backoff before classifying.
func (c *OpenAI) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return "", &fhierr.TransportError{Backend: c.Name(), Op: "chat.completions", Err: errors.New("API key not configured")}
	}

	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    temperature,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"

	start := time.Now()
	var lastErr error

	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || quotaWorded(string(body)) {
			logging.API("[openai] quota signal, status %d after %v", resp.StatusCode, time.Since(start))
			return "", &fhierr.QuotaExceededError{
				Backend:    c.Name(),
				RetryAfter: retryAfter(resp),
				Detail:     strings.TrimSpace(string(body)),
			}
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
				continue
			}
			return "", &fhierr.TransportError{
				Backend: c.Name(),
				Op:      "chat.completions",
				Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			}
		}

		var parsed openAIResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &fhierr.MalformedResponseError{Backend: c.Name(), Reason: "response is not JSON", Snippet: string(body)}
		}
		if parsed.Error != nil {
			if parsed.Error.Type == "insufficient_quota" || parsed.Error.Code == "insufficient_quota" {
				return "", &fhierr.QuotaExceededError{Backend: c.Name(), Detail: parsed.Error.Message}
			}
			return "", &fhierr.TransportError{
				Backend: c.Name(),
				Op:      "chat.completions",
				Err:     fmt.Errorf("API error (%s): %s", parsed.Error.Type, parsed.Error.Message),
			}
		}
		if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
			return "", &fhierr.MalformedResponseError{Backend: c.Name(), Reason: "no completion returned", Snippet: string(body)}
		}

		content := strings.TrimSpace(parsed.Choices[0].Message.Content)
		logging.APIDebug("[openai] completed in %v response_len=%d", time.Since(start), len(content))
		return content, nil
	}

	return "", &fhierr.TransportError{Backend: c.Name(), Op: "chat.completions", Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}
