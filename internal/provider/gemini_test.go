package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
)

func testGemini(url string, retries int) *Gemini {
	return NewGemini(GeminiConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	})
}

func TestGeminiCompleteSuccess(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]}}]}`))
	}))
	defer srv.Close()

	out, err := testGemini(srv.URL, 0).Complete(context.Background(), "system text", "user text", 0.7)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out, "parts concatenate")

	require.Len(t, got.Contents, 1)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "user text", got.Contents[0].Parts[0].Text)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "system text", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 0.7, got.GenerationConfig.Temperature)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
}

func TestGemini429IsQuotaWithoutRetry(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	_, err := testGemini(srv.URL, 3).Complete(context.Background(), "s", "u", 0)
	require.True(t, fhierr.IsQuota(err))

	var q *fhierr.QuotaExceededError
	require.ErrorAs(t, err, &q)
	assert.Equal(t, "gemini", q.Backend)
	assert.Equal(t, 30*time.Second, q.RetryAfter)
	assert.Equal(t, 1, hits, "quota is terminal, retrying cannot help inside one run")
}

func TestGeminiQuotaWordedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"Quota exceeded for requests per day"}}`))
	}))
	defer srv.Close()

	_, err := testGemini(srv.URL, 0).Complete(context.Background(), "s", "u", 0)
	assert.True(t, fhierr.IsQuota(err))
}

func TestGeminiRetriesServerErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"recovered"}]}}]}`))
	}))
	defer srv.Close()

	out, err := testGemini(srv.URL, 1).Complete(context.Background(), "s", "u", 0)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 2, hits)
}

func TestGeminiExhaustedRetriesClassifyTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testGemini(srv.URL, 1).Complete(context.Background(), "s", "u", 0)
	var transport *fhierr.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, "gemini", transport.Backend)
}

func TestGeminiAPIErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	_, err := testGemini(srv.URL, 0).Complete(context.Background(), "s", "u", 0)
	var transport *fhierr.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Contains(t, transport.Err.Error(), "bad request")
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := testGemini(srv.URL, 0).Complete(context.Background(), "s", "u", 0)
	var malformed *fhierr.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "no completion returned", malformed.Reason)
}

func TestGeminiMissingKey(t *testing.T) {
	c := NewGemini(GeminiConfig{})
	_, err := c.Complete(context.Background(), "s", "u", 0)
	var transport *fhierr.TransportError
	require.ErrorAs(t, err, &transport)
}
