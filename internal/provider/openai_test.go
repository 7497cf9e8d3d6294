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

func testOpenAI(url string) *OpenAI {
	return NewOpenAI(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: url,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
}

func TestOpenAICompleteSuccess(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"a\":1}  "}}]}`))
	}))
	defer srv.Close()

	out, err := testOpenAI(srv.URL).Complete(context.Background(), "system text", "user text", 0.4)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out, "content arrives trimmed")

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openAIMessage{Role: "system", Content: "system text"}, got.Messages[0])
	assert.Equal(t, openAIMessage{Role: "user", Content: "user text"}, got.Messages[1])
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAIInsufficientQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	_, err := testOpenAI(srv.URL).Complete(context.Background(), "s", "u", 0)
	require.True(t, fhierr.IsQuota(err))

	var q *fhierr.QuotaExceededError
	require.ErrorAs(t, err, &q)
	assert.Equal(t, "openai", q.Backend)
}

func TestOpenAIErrorObjectQuota(t *testing.T) {
	// Some proxies answer 200 with an in-band error object.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"billing hard limit reached","type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	_, err := testOpenAI(srv.URL).Complete(context.Background(), "s", "u", 0)
	assert.True(t, fhierr.IsQuota(err))
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testOpenAI(srv.URL).Complete(context.Background(), "s", "u", 0)
	var malformed *fhierr.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestOpenAIClientErrorClassifiesTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := testOpenAI(srv.URL).Complete(context.Background(), "s", "u", 0)
	var transport *fhierr.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, "openai", transport.Backend)
}
