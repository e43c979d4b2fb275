// Package config holds the durable key-value configuration of the engine:
// current mode, provider/model selection, mode prompts, and history settings.
// Credentials route through the keyring and are stored encrypted.
//
// The store is an explicit object handed to the orchestrator and providers at
// construction. It loads once at startup and flushes to disk on every
// mutation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/esnunes/quickllm/internal/keyring"
)

const (
	ProviderOllama     = "ollama"
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
)

// ModeAuto is the sentinel mode that delegates selection to the intent
// classifier.
const ModeAuto = "auto"

type ModeConfig struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	Hotkey       string `json:"hotkey"`
}

type ModelConfig struct {
	Provider         string `json:"provider"`
	OllamaModel      string `json:"ollamaModel"`
	GroqAPIKey       string `json:"groqApiKey"`
	OpenRouterAPIKey string `json:"openrouterApiKey"`
	GroqModel        string `json:"groqModel"`
	OpenRouterModel  string `json:"openrouterModel"`
}

type HistoryConfig struct {
	Enabled    bool `json:"enabled"`
	Persistent bool `json:"persistent"`
	MaxItems   int  `json:"maxItems"`
}

// Snapshot is the persisted configuration document. Export/Import round-trip
// this shape losslessly; credential fields hold encrypted tokens, never
// plaintext.
type Snapshot struct {
	CurrentMode string                `json:"currentMode"`
	Model       ModelConfig           `json:"model"`
	Modes       map[string]ModeConfig `json:"modes"`
	History     HistoryConfig         `json:"history"`
}

func defaults() Snapshot {
	return Snapshot{
		CurrentMode: "summarize",
		Model: ModelConfig{
			Provider:        ProviderOllama,
			OllamaModel:     "qwen3:4b",
			GroqModel:       "llama3-8b-8192",
			OpenRouterModel: "meta-llama/llama-3-8b-instruct",
		},
		Modes: map[string]ModeConfig{
			"summarize": {
				Name:         "Summarize",
				SystemPrompt: "You are a helpful assistant that summarizes text concisely. Provide a clear, bullet-pointed summary of the key points. Keep it brief but comprehensive.",
				Hotkey:       "CommandOrControl+Shift+1",
			},
			"translate": {
				Name:         "Translate",
				SystemPrompt: "You are a translation assistant. Detect the language of the input text and translate it to English. If it's already in English, ask what language to translate it to.",
				Hotkey:       "CommandOrControl+Shift+2",
			},
			"simplify": {
				Name:         "Simplify",
				SystemPrompt: "You are a helpful assistant that makes complex text easier to understand. Rewrite the text using simpler language while preserving the original meaning.",
				Hotkey:       "CommandOrControl+Shift+3",
			},
			"explain": {
				Name:         "Explain",
				SystemPrompt: "You are a helpful assistant that provides detailed explanations. Take the input text and explain it in more detail, providing context and background information.",
				Hotkey:       "CommandOrControl+Shift+4",
			},
			"maths": {
				Name:         "Maths",
				SystemPrompt: "You are a calculator. Only return the final numeric result of the given mathematical expression. No text, no explanation, no formatting, just the raw answer.",
				Hotkey:       "CommandOrControl+Shift+5",
			},
		},
		History: HistoryConfig{Enabled: true, Persistent: false, MaxItems: 10},
	}
}

type Store struct {
	mu        sync.RWMutex
	path      string
	keys      *keyring.Manager
	data      Snapshot
	lookupEnv func(string) string
}

// Load reads the configuration file at path, seeding any absent key with its
// built-in default. Existing values are never overwritten. The file is
// created on first run.
func Load(path string, keys *keyring.Manager) (*Store, error) {
	s := &Store{path: path, keys: keys, lookupEnv: os.Getenv}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.data = defaults()
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		s.seedDefaults()
	}

	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// seedDefaults fills in keys missing from an existing config file, including
// built-in modes removed by hand-editing. User values win.
func (s *Store) seedDefaults() {
	def := defaults()
	if s.data.CurrentMode == "" {
		s.data.CurrentMode = def.CurrentMode
	}
	if s.data.Model.Provider == "" {
		s.data.Model.Provider = def.Model.Provider
	}
	if s.data.Model.OllamaModel == "" {
		s.data.Model.OllamaModel = def.Model.OllamaModel
	}
	if s.data.Model.GroqModel == "" {
		s.data.Model.GroqModel = def.Model.GroqModel
	}
	if s.data.Model.OpenRouterModel == "" {
		s.data.Model.OpenRouterModel = def.Model.OpenRouterModel
	}
	if s.data.Modes == nil {
		s.data.Modes = map[string]ModeConfig{}
	}
	for id, mode := range def.Modes {
		if _, ok := s.data.Modes[id]; !ok {
			s.data.Modes[id] = mode
		}
	}
	if s.data.History.MaxItems == 0 {
		s.data.History = def.History
	}
}

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (s *Store) CurrentMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.CurrentMode
}

func (s *Store) SetCurrentMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.CurrentMode = mode
	return s.flushLocked()
}

func (s *Store) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Model.Provider
}

func (s *Store) SetProvider(provider string) error {
	switch provider {
	case ProviderOllama, ProviderGroq, ProviderOpenRouter:
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Model.Provider = provider
	return s.flushLocked()
}

// CurrentModel returns the model configured for the active provider.
func (s *Store) CurrentModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelForLocked(s.data.Model.Provider)
}

func (s *Store) ModelFor(provider string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelForLocked(provider)
}

func (s *Store) modelForLocked(provider string) string {
	switch provider {
	case ProviderGroq:
		return s.data.Model.GroqModel
	case ProviderOpenRouter:
		return s.data.Model.OpenRouterModel
	default:
		return s.data.Model.OllamaModel
	}
}

func (s *Store) SetModel(provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch provider {
	case ProviderOllama:
		s.data.Model.OllamaModel = model
	case ProviderGroq:
		s.data.Model.GroqModel = model
	case ProviderOpenRouter:
		s.data.Model.OpenRouterModel = model
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	return s.flushLocked()
}

// SetCredential validates, encrypts and stores an API key, returning a masked
// preview. Blank input clears the stored credential. An invalid format is
// rejected without mutating state.
func (s *Store) SetCredential(provider, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.setTokenLocked(provider, ""); err != nil {
			return "", err
		}
		return "", s.flushLocked()
	}

	if v := s.keys.ValidateFormat(provider, secret); !v.Valid {
		return "", fmt.Errorf("invalid API key: %s", v.Message)
	}

	token, err := s.keys.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("encrypting API key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setTokenLocked(provider, token); err != nil {
		return "", err
	}
	if err := s.flushLocked(); err != nil {
		return "", err
	}
	return s.keys.Mask(secret), nil
}

func (s *Store) setTokenLocked(provider, token string) error {
	switch provider {
	case ProviderGroq:
		s.data.Model.GroqAPIKey = token
	case ProviderOpenRouter:
		s.data.Model.OpenRouterAPIKey = token
	default:
		return fmt.Errorf("provider %q does not use an API key", provider)
	}
	return nil
}

// Credential returns the decrypted API key for a provider. An unreadable or
// absent token falls back to the QUICKLLM_<PROVIDER>_API_KEY environment
// variable, then to empty. Callers treat empty as "not configured".
func (s *Store) Credential(provider string) string {
	s.mu.RLock()
	var token string
	switch provider {
	case ProviderGroq:
		token = s.data.Model.GroqAPIKey
	case ProviderOpenRouter:
		token = s.data.Model.OpenRouterAPIKey
	}
	s.mu.RUnlock()

	if secret := s.keys.Decrypt(token); secret != "" {
		return secret
	}
	return s.lookupEnv("QUICKLLM_" + strings.ToUpper(provider) + "_API_KEY")
}

// MaskedCredential returns the display form of a stored key, or "" if none.
func (s *Store) MaskedCredential(provider string) string {
	return s.keys.Mask(s.Credential(provider))
}

// SystemPrompt returns the prompt for a mode, falling back to the built-in
// summarize mode when the requested mode is unknown.
func (s *Store) SystemPrompt(mode string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.data.Modes[mode]; ok {
		return m.SystemPrompt
	}
	return s.data.Modes["summarize"].SystemPrompt
}

func (s *Store) Mode(id string) (ModeConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data.Modes[id]
	return m, ok
}

func (s *Store) Modes() map[string]ModeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ModeConfig, len(s.data.Modes))
	for id, m := range s.data.Modes {
		out[id] = m
	}
	return out
}

// UpdateMode edits the display name, prompt or hotkey of an existing mode.
// Empty fields keep their current value; modes cannot be created or removed
// here, so the built-in fallback set stays intact.
func (s *Store) UpdateMode(id string, update ModeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.data.Modes[id]
	if !ok {
		return fmt.Errorf("unknown mode %q", id)
	}
	if update.Name != "" {
		current.Name = update.Name
	}
	if update.SystemPrompt != "" {
		current.SystemPrompt = update.SystemPrompt
	}
	if update.Hotkey != "" {
		current.Hotkey = update.Hotkey
	}
	s.data.Modes[id] = current
	return s.flushLocked()
}

func (s *Store) History() HistoryConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.History
}

func (s *Store) SetHistory(h HistoryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.History = h
	return s.flushLocked()
}

// Export returns the full configuration snapshot. Credentials remain
// encrypted.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.data
	out.Modes = make(map[string]ModeConfig, len(s.data.Modes))
	for id, m := range s.data.Modes {
		out.Modes[id] = m
	}
	return out
}

// Import replaces the configuration with a snapshot. Credential fields are
// taken as already-encrypted tokens and are not re-validated; missing keys
// are re-seeded from defaults.
func (s *Store) Import(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = snap
	s.seedDefaults()
	return s.flushLocked()
}
