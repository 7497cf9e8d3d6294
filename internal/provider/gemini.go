package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// GeminiConfig configures the Gemini REST backend.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Gemini talks to the Gemini generateContent REST endpoint.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

const geminiMaxOutputTokens = 8192

// NewGemini builds a Gemini backend, filling unset config with defaults.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Gemini{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the backend in logs and error values.
func (c *Gemini) Name() string { return "gemini" }

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *geminiAPIError `json:"error"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Complete sends one generateContent call. A 429 or quota-worded body maps
// straight to QuotaExceededError with no retry; transport failures and 5xx
// retry with exponential backoff before classifying.
func (c *Gemini) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return "", &fhierr.TransportError{Backend: c.Name(), Op: "generateContent", Err: errors.New("API key not configured")}
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      temperature,
			MaxOutputTokens:  geminiMaxOutputTokens,
			ResponseMimeType: "application/json",
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

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
			logging.API("[gemini] quota signal, status %d after %v", resp.StatusCode, time.Since(start))
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
				Op:      "generateContent",
				Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			}
		}

		var parsed geminiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &fhierr.MalformedResponseError{Backend: c.Name(), Reason: "response is not JSON", Snippet: string(body)}
		}
		if parsed.Error != nil {
			if parsed.Error.Status == "RESOURCE_EXHAUSTED" {
				return "", &fhierr.QuotaExceededError{Backend: c.Name(), Detail: parsed.Error.Message}
			}
			return "", &fhierr.TransportError{
				Backend: c.Name(),
				Op:      "generateContent",
				Err:     fmt.Errorf("API error %d: %s", parsed.Error.Code, parsed.Error.Message),
			}
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return "", &fhierr.MalformedResponseError{Backend: c.Name(), Reason: "no completion returned", Snippet: string(body)}
		}

		var result strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			result.WriteString(part.Text)
		}
		logging.APIDebug("[gemini] completed in %v response_len=%d", time.Since(start), result.Len())
		return strings.TrimSpace(result.String()), nil
	}

	return "", &fhierr.TransportError{Backend: c.Name(), Op: "generateContent", Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

// quotaWorded catches quota exhaustion reported with a non-429 status.
func quotaWorded(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "insufficient_quota")
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
