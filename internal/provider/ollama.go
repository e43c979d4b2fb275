package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/esnunes/quickllm/internal/config"
)

const ollamaDefaultBaseURL = "http://127.0.0.1:11434"

// Ollama targets a local daemon. No credential is involved; availability is
// probed before every transform so a stopped daemon fails fast with a clear
// message instead of a 30s hang.
type Ollama struct {
	BaseURL string
	Client  *http.Client

	cfg *config.Store
}

func NewOllama(cfg *config.Store) *Ollama {
	return &Ollama{
		BaseURL: ollamaDefaultBaseURL,
		Client:  &http.Client{},
		cfg:     cfg,
	}
}

func (o *Ollama) Name() string { return config.ProviderOllama }

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (o *Ollama) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, classifyTransport("Ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorf(KindUpstream, "Ollama returned status %d listing models", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// buildPrompt flattens the system prompt and user text into the single-prompt
// form the /api/generate endpoint expects.
func buildPrompt(systemPrompt, text string) string {
	return fmt.Sprintf("%s\n\nText to process:\n%s\n\nResponse:", systemPrompt, text)
}

func (o *Ollama) Transform(ctx context.Context, text, systemPrompt, model string) (string, error) {
	if !o.IsAvailable(ctx) {
		return "", errorf(KindConnectivity, "Ollama is not running. Please start Ollama and ensure the model is available")
	}

	ctx, cancel := context.WithTimeout(ctx, transformTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   model,
		Prompt:  buildPrompt(systemPrompt, text),
		Stream:  false,
		Options: ollamaOptions{Temperature: 0.7, TopP: 0.9},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", classifyTransport("Ollama", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errorf(KindUpstream, "model %q not found. Pull it first: ollama pull %s", model, model)
	case resp.StatusCode != http.StatusOK:
		return "", errorf(KindUpstream, "Ollama returned status %d", resp.StatusCode)
	}

	var gen ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", errorf(KindUpstream, "decoding Ollama response: %v", err)
	}

	out := strings.TrimSpace(gen.Response)
	if out == "" {
		return "", errorf(KindUpstream, "no response from Ollama")
	}
	return out, nil
}

func (o *Ollama) TestConnection(ctx context.Context) TestResult {
	return runConnectionTest(ctx, o,
		o.cfg.ModelFor(config.ProviderOllama),
		o.cfg.SystemPrompt("summarize"),
		"Ollama is not running")
}
