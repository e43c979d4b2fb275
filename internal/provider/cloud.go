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

const (
	groqDefaultBaseURL       = "https://api.groq.com/openai/v1"
	openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"
)

// Cloud speaks the OpenAI-compatible chat contract shared by Groq and
// OpenRouter: GET /models for the catalog, POST /chat/completions under
// bearer auth. A non-empty decrypted credential is required up front;
// without one every call fails immediately with a configuration error.
type Cloud struct {
	BaseURL string
	Client  *http.Client

	id      string
	display string
	headers map[string]string
	cfg     *config.Store
}

func NewGroq(cfg *config.Store) *Cloud {
	return &Cloud{
		BaseURL: groqDefaultBaseURL,
		Client:  &http.Client{},
		id:      config.ProviderGroq,
		display: "Groq",
		cfg:     cfg,
	}
}

func NewOpenRouter(cfg *config.Store) *Cloud {
	return &Cloud{
		BaseURL: openRouterDefaultBaseURL,
		Client:  &http.Client{},
		id:      config.ProviderOpenRouter,
		display: "OpenRouter",
		// OpenRouter requires attribution headers on every request.
		headers: map[string]string{
			"HTTP-Referer": "https://quickllm.app",
			"X-Title":      "QuickLLM",
		},
		cfg: cfg,
	}
}

func (c *Cloud) Name() string { return c.id }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Cloud) credential() (string, error) {
	key := c.cfg.Credential(c.id)
	if key == "" {
		return "", errorf(KindConfiguration, "%s API key not configured. Please add your API key in settings", c.display)
	}
	return key, nil
}

func (c *Cloud) newRequest(ctx context.Context, method, path, key string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Cloud) IsAvailable(ctx context.Context) bool {
	key := c.cfg.Credential(c.id)
	if key == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/models", key, nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Cloud) ListModels(ctx context.Context) ([]string, error) {
	key, err := c.credential()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/models", key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, classifyTransport(c.display, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var catalog modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	models := make([]string, 0, len(catalog.Data))
	for _, m := range catalog.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (c *Cloud) Transform(ctx context.Context, text, systemPrompt, model string) (string, error) {
	key, err := c.credential()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, transformTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
		TopP:        0.9,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", key, body)
	if err != nil {
		return "", err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", classifyTransport(c.display, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", errorf(KindUpstream, "decoding %s response: %v", c.display, err)
	}
	if len(chat.Choices) == 0 {
		return "", errorf(KindUpstream, "no response from %s", c.display)
	}

	out := strings.TrimSpace(chat.Choices[0].Message.Content)
	if out == "" {
		return "", errorf(KindUpstream, "no response from %s", c.display)
	}
	return out, nil
}

// statusError maps an HTTP failure status to the error taxonomy, surfacing
// upstream detail for bad requests.
func (c *Cloud) statusError(resp *http.Response) *Error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return errorf(KindAuth, "invalid %s API key. Please check your API key in settings", c.display)
	case http.StatusTooManyRequests:
		return errorf(KindRateLimit, "%s rate limit exceeded. Please wait and try again", c.display)
	case http.StatusPaymentRequired:
		return errorf(KindQuota, "insufficient credits on %s. Please check your account balance", c.display)
	case http.StatusBadRequest:
		var detail apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&detail); err == nil && detail.Error.Message != "" {
			return errorf(KindUpstream, "%s API error: %s", c.display, detail.Error.Message)
		}
		return errorf(KindUpstream, "invalid request to %s API", c.display)
	default:
		return errorf(KindUpstream, "%s returned status %d", c.display, resp.StatusCode)
	}
}

func (c *Cloud) TestConnection(ctx context.Context) TestResult {
	if _, err := c.credential(); err != nil {
		return TestResult{Success: false, Message: err.Error()}
	}
	return runConnectionTest(ctx, c,
		c.cfg.ModelFor(c.id),
		c.cfg.SystemPrompt("summarize"),
		fmt.Sprintf("cannot connect to %s API", c.display))
}
