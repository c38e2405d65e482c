package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// FieldCipher encrypts personal document numbers at rest and derives a
// keyed fingerprint so equal values can be found without decrypting.
type FieldCipher struct {
	key        []byte
	hmacSecret []byte
}

// NewFieldCipher validates the AES key length (16, 24 or 32 bytes).
func NewFieldCipher(key []byte, hmacSecret string) (*FieldCipher, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	if hmacSecret == "" {
		return nil, fmt.Errorf("hmac secret is empty")
	}
	return &FieldCipher{key: key, hmacSecret: []byte(hmacSecret)}, nil
}

// NormalizeDocument upper-cases a passport series and strips spaces and dashes.
func NormalizeDocument(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Fingerprint returns the hex HMAC-SHA256 of the normalized value, or "" for
// an empty value.
func (c *FieldCipher) Fingerprint(value string) string {
	value = NormalizeDocument(value)
	if value == "" {
		return ""
	}
	h := hmac.New(sha256.New, c.hmacSecret)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// Encrypt seals a string with AES-GCM and returns hex(nonce || ciphertext).
// Empty input stays empty.
func (c *FieldCipher) Encrypt(data string) (string, error) {
	if data == "" {
		return "", nil
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	return hex.EncodeToString(gcm.Seal(nonce, nonce, []byte(data), nil)), nil
}

// Decrypt reverses Encrypt and fails when the value was altered. Empty input
// stays empty.
func (c *FieldCipher) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	data, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (c *FieldCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}
