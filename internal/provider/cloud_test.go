package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/quickllm/internal/config"
)

func storeWithGroqKey(t *testing.T) *config.Store {
	t.Helper()
	cfg := testStore(t)
	_, err := cfg.SetCredential(config.ProviderGroq, "gsk_"+strings.Repeat("k", 52))
	require.NoError(t, err)
	return cfg
}

// fakeChatAPI answers /models and /chat/completions, delegating status
// decisions to the caller.
func fakeChatAPI(t *testing.T, models []string, status int, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "), "missing bearer auth")

		switch r.URL.Path {
		case "/models":
			var catalog modelsResponse
			for _, m := range models {
				catalog.Data = append(catalog.Data, struct {
					ID string `json:"id"`
				}{ID: m})
			}
			json.NewEncoder(w).Encode(catalog)
		case "/chat/completions":
			if status != http.StatusOK {
				w.WriteHeader(status)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "upstream detail"}})
				return
			}
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, 0.7, req.Temperature)
			assert.Equal(t, 2000, req.MaxTokens)
			assert.Equal(t, 0.9, req.TopP)
			var resp chatResponse
			resp.Choices = append(resp.Choices, struct {
				Message chatMessage `json:"message"`
			}{Message: chatMessage{Role: "assistant", Content: reply}})
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestCloudTransform(t *testing.T) {
	srv := fakeChatAPI(t, []string{"llama3-8b-8192"}, http.StatusOK, " processed text ")
	defer srv.Close()

	g := NewGroq(storeWithGroqKey(t))
	g.BaseURL = srv.URL

	got, err := g.Transform(context.Background(), "input", "Summarize.", "llama3-8b-8192")
	require.NoError(t, err)
	assert.Equal(t, "processed text", got)
}

func TestCloudTransformMissingCredential(t *testing.T) {
	g := NewGroq(testStore(t)) // no key stored

	_, err := g.Transform(context.Background(), "input", "Summarize.", "llama3-8b-8192")
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestCloudStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
		msg    string
	}{
		{http.StatusUnauthorized, KindAuth, "invalid Groq API key"},
		{http.StatusTooManyRequests, KindRateLimit, "rate limit"},
		{http.StatusPaymentRequired, KindQuota, "insufficient credits"},
		{http.StatusBadRequest, KindUpstream, "upstream detail"},
		{http.StatusInternalServerError, KindUpstream, "status 500"},
	}

	for _, tt := range tests {
		srv := fakeChatAPI(t, nil, tt.status, "")
		g := NewGroq(storeWithGroqKey(t))
		g.BaseURL = srv.URL

		_, err := g.Transform(context.Background(), "input", "Summarize.", "llama3-8b-8192")
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.kind, KindOf(err), "status %d", tt.status)
		assert.Contains(t, err.Error(), tt.msg, "status %d", tt.status)
		srv.Close()
	}
}

func TestCloudTransformEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	g := NewGroq(storeWithGroqKey(t))
	g.BaseURL = srv.URL

	_, err := g.Transform(context.Background(), "input", "Summarize.", "llama3-8b-8192")
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "no response from Groq")
}

func TestCloudConnectivityError(t *testing.T) {
	g := NewGroq(storeWithGroqKey(t))
	g.BaseURL = "http://127.0.0.1:1"

	_, err := g.Transform(context.Background(), "input", "Summarize.", "llama3-8b-8192")
	require.Error(t, err)
	assert.Equal(t, KindConnectivity, KindOf(err))
}

func TestCloudListModels(t *testing.T) {
	srv := fakeChatAPI(t, []string{"a", "b", "c"}, http.StatusOK, "")
	defer srv.Close()

	g := NewGroq(storeWithGroqKey(t))
	g.BaseURL = srv.URL

	models, err := g.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, models)
}

func TestOpenRouterAttributionHeaders(t *testing.T) {
	var gotReferer, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		var resp chatResponse
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Content: "ok"}})
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := testStore(t)
	_, err := cfg.SetCredential(config.ProviderOpenRouter, "sk-or-"+strings.Repeat("r", 20))
	require.NoError(t, err)

	o := NewOpenRouter(cfg)
	o.BaseURL = srv.URL

	_, err = o.Transform(context.Background(), "input", "Summarize.", "meta-llama/llama-3-8b-instruct")
	require.NoError(t, err)
	assert.Equal(t, "https://quickllm.app", gotReferer)
	assert.Equal(t, "QuickLLM", gotTitle)
}

func TestCloudTestConnection(t *testing.T) {
	srv := fakeChatAPI(t, []string{"llama3-8b-8192"}, http.StatusOK, "Hi!")
	defer srv.Close()

	g := NewGroq(storeWithGroqKey(t))
	g.BaseURL = srv.URL

	res := g.TestConnection(context.Background())
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "Hi!", res.TestOutput)

	noKey := NewGroq(testStore(t))
	noKey.BaseURL = srv.URL
	res = noKey.TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "API key not configured")
}
