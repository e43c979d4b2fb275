package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/quickllm/internal/config"
	"github.com/esnunes/quickllm/internal/keyring"
)

func testStore(t *testing.T) *config.Store {
	t.Helper()
	var key [32]byte
	copy(key[:], "provider-test-key-provider-test!")
	s, err := config.Load(filepath.Join(t.TempDir(), "config.json"), keyring.NewWithKey(key))
	require.NoError(t, err)
	return s
}

// fakeOllama serves /api/tags and /api/generate for a fixed model set.
func fakeOllama(t *testing.T, models []string, response string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var tags ollamaTagsResponse
			for _, m := range models {
				tags.Models = append(tags.Models, struct {
					Name string `json:"name"`
				}{Name: m})
			}
			json.NewEncoder(w).Encode(tags)
		case "/api/generate":
			var req ollamaGenerateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			assert.Equal(t, 0.7, req.Options.Temperature)
			assert.Equal(t, 0.9, req.Options.TopP)
			found := false
			for _, m := range models {
				if m == req.Model {
					found = true
				}
			}
			if !found {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: response})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaTransform(t *testing.T) {
	srv := fakeOllama(t, []string{"qwen3:4b"}, "  a concise summary  ")
	defer srv.Close()

	o := NewOllama(testStore(t))
	o.BaseURL = srv.URL

	got, err := o.Transform(context.Background(), "some long text", "Summarize.", "qwen3:4b")
	require.NoError(t, err)
	assert.Equal(t, "a concise summary", got, "output is trimmed")
}

func TestOllamaTransformDaemonDown(t *testing.T) {
	o := NewOllama(testStore(t))
	o.BaseURL = "http://127.0.0.1:1" // nothing listens here

	_, err := o.Transform(context.Background(), "hello", "Summarize.", "qwen3:4b")
	require.Error(t, err)
	assert.Equal(t, KindConnectivity, KindOf(err))
	assert.Contains(t, err.Error(), "not running")
}

func TestOllamaTransformModelNotFound(t *testing.T) {
	srv := fakeOllama(t, []string{"qwen3:4b"}, "ok")
	defer srv.Close()

	o := NewOllama(testStore(t))
	o.BaseURL = srv.URL

	_, err := o.Transform(context.Background(), "hello", "Summarize.", "missing:7b")
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "ollama pull missing:7b")
}

func TestOllamaTransformEmptyPayload(t *testing.T) {
	srv := fakeOllama(t, []string{"qwen3:4b"}, "   ")
	defer srv.Close()

	o := NewOllama(testStore(t))
	o.BaseURL = srv.URL

	_, err := o.Transform(context.Background(), "hello", "Summarize.", "qwen3:4b")
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "no response from Ollama")
}

func TestOllamaAvailability(t *testing.T) {
	srv := fakeOllama(t, nil, "")
	defer srv.Close()

	o := NewOllama(testStore(t))
	o.BaseURL = srv.URL
	assert.True(t, o.IsAvailable(context.Background()))

	o.BaseURL = "http://127.0.0.1:1"
	assert.False(t, o.IsAvailable(context.Background()))
}

func TestOllamaListModels(t *testing.T) {
	srv := fakeOllama(t, []string{"qwen3:4b", "llama3:8b"}, "")
	defer srv.Close()

	o := NewOllama(testStore(t))
	o.BaseURL = srv.URL

	models, err := o.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen3:4b", "llama3:8b"}, models)
}

func TestOllamaTestConnection(t *testing.T) {
	srv := fakeOllama(t, []string{"qwen3:4b"}, "Hello back")
	defer srv.Close()

	cfg := testStore(t)
	o := NewOllama(cfg)
	o.BaseURL = srv.URL

	res := o.TestConnection(context.Background())
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "Hello back", res.TestOutput)
}

func TestOllamaTestConnectionModelMissing(t *testing.T) {
	srv := fakeOllama(t, []string{"other:1b"}, "ok")
	defer srv.Close()

	cfg := testStore(t)
	o := NewOllama(cfg)
	o.BaseURL = srv.URL

	res := o.TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, `model "qwen3:4b" not found`)
	assert.Contains(t, res.Message, "other:1b")
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(testStore(t))

	for _, name := range []string{"ollama", "groq", "openrouter"} {
		c, err := reg.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	_, err := reg.Get("bedrock")
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
}
