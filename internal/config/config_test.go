package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/quickllm/internal/keyring"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	var key [32]byte
	copy(key[:], "config-test-key-config-test-key!")
	s, err := Load(filepath.Join(t.TempDir(), "config.json"), keyring.NewWithKey(key))
	require.NoError(t, err)
	return s
}

func TestLoadSeedsDefaults(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, "summarize", s.CurrentMode())
	assert.Equal(t, ProviderOllama, s.Provider())
	assert.Equal(t, "qwen3:4b", s.CurrentModel())
	assert.Empty(t, s.Credential(ProviderGroq))

	modes := s.Modes()
	for _, id := range []string{"summarize", "translate", "simplify", "explain", "maths"} {
		assert.Contains(t, modes, id)
		assert.NotEmpty(t, modes[id].SystemPrompt)
	}

	h := s.History()
	assert.True(t, h.Enabled)
	assert.False(t, h.Persistent)
	assert.Equal(t, 10, h.MaxItems)
}

func TestLoadPreservesExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	existing := `{"currentMode":"maths","model":{"provider":"groq","groqModel":"mixtral-8x7b"}}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o600))

	s, err := Load(path, keyring.New())
	require.NoError(t, err)

	assert.Equal(t, "maths", s.CurrentMode())
	assert.Equal(t, ProviderGroq, s.Provider())
	assert.Equal(t, "mixtral-8x7b", s.CurrentModel())
	// Absent keys were seeded.
	assert.Equal(t, "qwen3:4b", s.ModelFor(ProviderOllama))
	assert.Len(t, s.Modes(), 5)
}

func TestSetCredential(t *testing.T) {
	s := newTestStore(t)
	groqKey := "gsk_" + strings.Repeat("a", 52)

	masked, err := s.SetCredential(ProviderGroq, groqKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(masked, "gsk"))
	assert.NotContains(t, masked, strings.Repeat("a", 10))

	assert.Equal(t, groqKey, s.Credential(ProviderGroq))

	// The file on disk must never contain the plaintext key.
	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), groqKey)
}

func TestSetCredentialRejectsInvalidFormat(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SetCredential(ProviderGroq, "not-a-groq-key")
	require.Error(t, err)
	assert.Empty(t, s.Credential(ProviderGroq), "rejected key must not mutate state")
}

func TestSetCredentialBlankClears(t *testing.T) {
	s := newTestStore(t)
	groqKey := "gsk_" + strings.Repeat("b", 52)

	_, err := s.SetCredential(ProviderGroq, groqKey)
	require.NoError(t, err)

	masked, err := s.SetCredential(ProviderGroq, "   ")
	require.NoError(t, err)
	assert.Empty(t, masked)
	assert.Empty(t, s.Credential(ProviderGroq))
}

func TestCredentialEnvFallback(t *testing.T) {
	s := newTestStore(t)
	s.lookupEnv = func(name string) string {
		if name == "QUICKLLM_OPENROUTER_API_KEY" {
			return "sk-or-from-environment"
		}
		return ""
	}

	assert.Equal(t, "sk-or-from-environment", s.Credential(ProviderOpenRouter))

	// A stored credential wins over the environment.
	stored := "sk-or-" + strings.Repeat("c", 20)
	_, err := s.SetCredential(ProviderOpenRouter, stored)
	require.NoError(t, err)
	assert.Equal(t, stored, s.Credential(ProviderOpenRouter))
}

func TestCorruptTokenFallsBackToEnv(t *testing.T) {
	s := newTestStore(t)
	s.mu.Lock()
	s.data.Model.GroqAPIKey = "deadbeefdeadbeefdeadbeefdeadbeef:zzzz" // undecodable
	s.mu.Unlock()
	s.lookupEnv = func(string) string { return "" }

	assert.Empty(t, s.Credential(ProviderGroq))
}

func TestSystemPromptFallback(t *testing.T) {
	s := newTestStore(t)

	assert.Contains(t, s.SystemPrompt("maths"), "calculator")
	summarize := s.SystemPrompt("summarize")
	assert.Equal(t, summarize, s.SystemPrompt("no-such-mode"))
}

func TestUpdateMode(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpdateMode("summarize", ModeConfig{SystemPrompt: "Summarize in one sentence."}))
	m, ok := s.Mode("summarize")
	require.True(t, ok)
	assert.Equal(t, "Summarize in one sentence.", m.SystemPrompt)
	assert.Equal(t, "Summarize", m.Name, "unset fields keep their value")

	assert.Error(t, s.UpdateMode("no-such-mode", ModeConfig{Name: "X"}))
}

func TestSetProviderUnknown(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SetProvider("bedrock"))
	assert.Equal(t, ProviderOllama, s.Provider())
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	groqKey := "gsk_" + strings.Repeat("d", 52)
	_, err := s.SetCredential(ProviderGroq, groqKey)
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentMode("translate"))

	snap := s.Export()
	assert.NotContains(t, snap.Model.GroqAPIKey, groqKey, "snapshot keeps credentials encrypted")

	// Round-trip through JSON, as an import from a file would.
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var restored Snapshot
	require.NoError(t, json.Unmarshal(raw, &restored))

	s2 := newTestStore(t)
	require.NoError(t, s2.Import(restored))
	assert.Equal(t, "translate", s2.CurrentMode())
	assert.Equal(t, groqKey, s2.Credential(ProviderGroq), "imported token decrypts on the same machine")
}

func TestExportIsACopy(t *testing.T) {
	s := newTestStore(t)
	snap := s.Export()
	snap.Modes["summarize"] = ModeConfig{Name: "Mutated"}

	m, _ := s.Mode("summarize")
	assert.Equal(t, "Summarize", m.Name)
}
