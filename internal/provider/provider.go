// Package provider abstracts the three text-transformation backends behind a
// single contract. Variants are selected by provider id through a registry,
// never by embedding a shared base.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/esnunes/quickllm/internal/config"
)

const (
	probeTimeout     = 2 * time.Second
	catalogTimeout   = 5 * time.Second
	transformTimeout = 30 * time.Second
)

// Client is the uniform backend contract. Transform either returns a
// non-empty trimmed string or fails with a typed *Error; a 2xx response with
// a missing payload is itself an error.
type Client interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	Transform(ctx context.Context, text, systemPrompt, model string) (string, error)
	TestConnection(ctx context.Context) TestResult
}

// TestResult reports a connection test. TestOutput holds a truncated preview
// of the end-to-end smoke transform on success.
type TestResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TestOutput string `json:"testOutput,omitempty"`
}

// Registry maps provider ids to clients.
type Registry map[string]Client

func NewRegistry(cfg *config.Store) Registry {
	return Registry{
		config.ProviderOllama:     NewOllama(cfg),
		config.ProviderGroq:       NewGroq(cfg),
		config.ProviderOpenRouter: NewOpenRouter(cfg),
	}
}

func (r Registry) Get(name string) (Client, error) {
	c, ok := r[name]
	if !ok {
		return nil, &Error{Kind: KindConfiguration, Message: fmt.Sprintf("unknown provider %q", name)}
	}
	return c, nil
}

// runConnectionTest is the shared test-connection sequence: availability,
// model catalog, configured-model presence, then one live transform of a
// trivial input as an end-to-end smoke test.
func runConnectionTest(ctx context.Context, c Client, model, prompt, unavailableMsg string) TestResult {
	if !c.IsAvailable(ctx) {
		return TestResult{Success: false, Message: unavailableMsg}
	}

	models, err := c.ListModels(ctx)
	if err != nil {
		return TestResult{Success: false, Message: fmt.Sprintf("connection test failed: %v", err)}
	}

	found := false
	for _, m := range models {
		if m == model {
			found = true
			break
		}
	}
	if !found {
		preview := models
		suffix := ""
		if len(preview) > 5 {
			preview = preview[:5]
			suffix = "..."
		}
		return TestResult{
			Success: false,
			Message: fmt.Sprintf("model %q not found. Available models: %s%s", model, strings.Join(preview, ", "), suffix),
		}
	}

	out, err := c.Transform(ctx, "Hello", prompt, model)
	if err != nil {
		return TestResult{Success: false, Message: fmt.Sprintf("connection test failed: %v", err)}
	}

	return TestResult{
		Success:    true,
		Message:    fmt.Sprintf("connected to %s successfully. Model: %s", c.Name(), model),
		TestOutput: truncate(out, 100),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
