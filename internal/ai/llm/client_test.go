package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-engine/internal/ai/providers"
)

func TestCall_ChatCompletion(t *testing.T) {
	var got ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "https://fleet-dashboard.local", r.Header.Get("HTTP-Referer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"sentiment\":\"BULLISH\"}"}}]}`))
	}))
	defer server.Close()

	client := NewClient(nil)
	res, err := client.Call(context.Background(), Target{
		Provider: "openrouter",
		Protocol: providers.ProtocolChat,
		Endpoint: server.URL,
		Model:    "some-model",
		APIKey:   "secret-token",
		Headers:  map[string]string{"HTTP-Referer": "https://fleet-dashboard.local"},
	}, "system text", "user text", 256)
	require.NoError(t, err)

	assert.Equal(t, `{"sentiment":"BULLISH"}`, res.Text)
	assert.Greater(t, int64(res.Latency), int64(0))
	assert.Equal(t, "some-model", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user text", got.Messages[1].Content)
}

func TestCall_Generative(t *testing.T) {
	var (
		got     GenerativeRequest
		rawBody []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gem-key", r.URL.Query().Get("key"))
		assert.Equal(t, "/models/gemini-flash:generateContent", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		rawBody, _ = io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(rawBody, &got))

		w.Write([]byte("{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"```json\\n{\\\"confidence\\\":80}\\n```\"}]}}]}"))
	}))
	defer server.Close()

	client := NewClient(nil)
	res, err := client.Call(context.Background(), Target{
		Provider: "gemini",
		Protocol: providers.ProtocolGenerative,
		Endpoint: server.URL + "/models/%s:generateContent",
		Model:    "gemini-flash",
		APIKey:   "gem-key",
	}, "You are an analyst.", "analyze BTC", 128)
	require.NoError(t, err)

	assert.Equal(t, `{"confidence":80}`, res.Text, "code fence is stripped")
	assert.Equal(t, 128, got.GenerationConfig.MaxOutputTokens)
	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Equal(t, "You are an analyst.\n\nanalyze BTC", got.Contents[0].Parts[0].Text)
	assert.NotContains(t, string(rawBody), "systemInstruction")
	assert.NotContains(t, string(rawBody), `"role"`)
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		rateLimit bool
	}{
		{name: "429 status", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, rateLimit: true},
		{name: "500 status", status: http.StatusInternalServerError, body: `oops`},
		{name: "quota wording", status: http.StatusForbidden, body: `{"error":{"message":"Quota exceeded for model"}}`, rateLimit: true},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: ErrEmptyResponse},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(nil).Call(context.Background(), Target{
				Provider: "groq",
				Protocol: providers.ProtocolChat,
				Endpoint: server.URL,
				Model:    "m",
				APIKey:   "k",
			}, "", "hi", 10)
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "groq", apiErr.Provider)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.rateLimit, IsRateLimit(err))
		})
	}
}

func TestIsRateLimit_Wording(t *testing.T) {
	assert.True(t, IsRateLimit(errors.New("RESOURCE_EXHAUSTED: try later")))
	assert.True(t, IsRateLimit(errors.New("Rate limit reached for requests")))
	assert.True(t, IsRateLimit(errors.New("Too Many Requests")))
	assert.False(t, IsRateLimit(errors.New("connection refused")))
	assert.False(t, IsRateLimit(nil))
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}```"))
	assert.Equal(t, "plain text", StripCodeFences("  plain text \n"))
}

func TestSnippet_KeepsRunesWhole(t *testing.T) {
	body := []byte(strings.Repeat("x", 299) + "→ tail")

	got := snippet(body)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", 299), got)
}
