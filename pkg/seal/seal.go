// Package seal provides the credential sealing capability consumed by the
// source registry. Sealing is an injected dependency so the mechanism can be
// swapped without touching registry logic.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spectrumhq/spectrum/pkg/errors"
)

// Sealer seals plaintext credentials into an opaque blob and back.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Unseal(blob []byte) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM authenticated encryption,
// so tampering with a stored blob fails unsealing rather than producing
// garbage credentials.
type AESSealer struct {
	gcm cipher.AEAD
}

// NewAESSealer creates a sealer from a key string. The key can be a
// base64-encoded 32-byte key or any passphrase (hashed to 32 bytes with
// SHA-256).
func NewAESSealer(keyInput string) (*AESSealer, error) {
	if keyInput == "" {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "sealing key must not be empty")
	}

	var key []byte

	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESSealer{gcm: gcm}, nil
}

// NewAESSealerFromFile loads the sealing key from keyPath, generating and
// persisting a fresh random key on first use.
func NewAESSealerFromFile(keyPath string) (*AESSealer, error) {
	data, err := os.ReadFile(keyPath) //nolint:gosec // G304: key path comes from validated config
	if os.IsNotExist(err) {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate sealing key: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(raw)
		if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
			return nil, fmt.Errorf("failed to persist sealing key: %w", err)
		}
		return NewAESSealer(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sealing key: %w", err)
	}
	return NewAESSealer(string(data))
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
// Empty input seals to an empty blob.
func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext and tag to nonce
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts nonce || ciphertext || tag back to plaintext. Corrupt or
// tampered blobs fail with an unseal error.
func (s *AESSealer) Unseal(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	nonceSize := s.gcm.NonceSize()
	if len(blob) < nonceSize+s.gcm.Overhead() {
		return nil, errors.New(errors.ErrorTypeUnseal, "sealed blob too short")
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeUnseal, "authentication failed")
	}

	return plaintext, nil
}
