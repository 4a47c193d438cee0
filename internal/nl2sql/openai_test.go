package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGeneratorReturnsRawContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload struct {
			Model       string              `json:"model"`
			Temperature float64             `json:"temperature"`
			Messages    []map[string]string `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "gpt-4o-mini", payload.Model)
		assert.Equal(t, 0.0, payload.Temperature)
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, "the prompt", payload.Messages[1]["content"])

		writeChatCompletion(w, "```sql\nSELECT * FROM \"PO_Pending\";\n```")
	}))
	defer server.Close()

	gen := newTestOpenAIGenerator(t, server.URL, 0)
	text, err := gen.Generate(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "```sql\nSELECT * FROM \"PO_Pending\";\n```", text)
}

func TestOpenAIGeneratorRetriesOnceOnTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeChatCompletion(w, "SELECT 1")
	}))
	defer server.Close()

	text, err := newTestOpenAIGenerator(t, server.URL, 1).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIGeneratorDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestOpenAIGenerator(t, server.URL, 1).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIGeneratorCapsRetriesAtOne(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	gen := newTestOpenAIGenerator(t, server.URL, 5)
	_, err := gen.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestOpenAIGenerator(t, server.URL, 0).Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestOpenAIGeneratorTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		writeChatCompletion(w, "SELECT 1")
	}))
	defer server.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestNewOpenAIGeneratorValidatesConfig(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "https://api.openai.com"})
	assert.Error(t, err)

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com", gen.baseURL)
	assert.Equal(t, "gpt-4o-mini", gen.model)
}

func newTestOpenAIGenerator(t *testing.T, baseURL string, retries int) *OpenAIGenerator {
	t.Helper()
	gen, err := NewOpenAIGenerator(OpenAIConfig{
		BaseURL: baseURL + "/",
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
		Retries: retries,
	})
	require.NoError(t, err)
	return gen
}

func writeChatCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}
