// Package keyring encrypts provider API keys with a machine-bound key so
// credentials at rest are unreadable when the config file is copied to
// another machine. The key is derived from stable machine attributes and
// recomputed at startup; it is never persisted.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"
	"unicode/utf8"
)

type Manager struct {
	machineKey [32]byte
}

func New() *Manager {
	return &Manager{machineKey: machineKey()}
}

// NewWithKey builds a Manager from an explicit key. Used by tests to get
// deterministic tokens independent of the host machine.
func NewWithKey(key [32]byte) *Manager {
	return &Manager{machineKey: key}
}

func machineKey() [32]byte {
	hostname, _ := os.Hostname()
	info := fmt.Sprintf("%s-%s-%s", hostname, runtime.GOOS, runtime.GOARCH)
	return sha256.Sum256([]byte(info))
}

// Encrypt returns a token of the form "ivHex:cipherHex" with a fresh random
// IV per call. Empty input yields an empty token.
func (m *Manager) Encrypt(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", nil
	}

	block, err := aes.NewCipher(m.machineKey[:])
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	ciphertext := make([]byte, len(secret))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(ciphertext, []byte(secret))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt recovers the secret from a stored token. Three shapes are accepted
// for compatibility with older config files, tried in order: the IV-prefixed
// form, a legacy base64-only form, and raw plaintext. Decryption failures
// return "" so callers treat an unreadable credential as absent, never fatal.
func (m *Manager) Decrypt(token string) string {
	if strings.TrimSpace(token) == "" {
		return ""
	}

	if strings.Contains(token, ":") {
		parts := strings.SplitN(token, ":", 2)
		iv, err := hex.DecodeString(parts[0])
		if err != nil || len(iv) != aes.BlockSize {
			return ""
		}
		ciphertext, err := hex.DecodeString(parts[1])
		if err != nil {
			return ""
		}
		block, err := aes.NewCipher(m.machineKey[:])
		if err != nil {
			return ""
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCFBDecrypter(block, iv).XORKeyStream(plaintext, ciphertext)
		if !utf8.Valid(plaintext) {
			return ""
		}
		return string(plaintext)
	}

	if decoded, err := base64.StdEncoding.DecodeString(token); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}

	// Neither encrypted nor base64: assume plaintext from a pre-encryption
	// config file.
	return token
}

// Mask returns a display form revealing at most the first and last 3
// characters. Keys shorter than 8 characters mask entirely.
func (m *Manager) Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	stars := len(secret) - 6
	if stars < 4 {
		stars = 4
	}
	return secret[:3] + strings.Repeat("*", stars) + secret[len(secret)-3:]
}

// Validation encodes per-provider API key shape rules. The rules are
// advisory: unknown providers always pass.
type Validation struct {
	Valid   bool
	Message string
}

func (m *Manager) ValidateFormat(provider, secret string) Validation {
	key := strings.TrimSpace(secret)
	if key == "" {
		return Validation{Valid: false, Message: "API key is required"}
	}

	switch provider {
	case "groq":
		if strings.HasPrefix(key, "gsk_") && len(key) == 56 {
			return Validation{Valid: true, Message: "valid Groq API key format"}
		}
		return Validation{Valid: false, Message: "invalid Groq API key format (should start with gsk_ and be 56 characters)"}
	case "openrouter":
		if strings.HasPrefix(key, "sk-or-") && len(key) >= 20 {
			return Validation{Valid: true, Message: "valid OpenRouter API key format"}
		}
		return Validation{Valid: false, Message: "invalid OpenRouter API key format (should start with sk-or-)"}
	default:
		return Validation{Valid: true, Message: "unknown provider, cannot validate format"}
	}
}
