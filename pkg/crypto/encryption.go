package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Version tags the ciphertext format so the scheme can rotate later.
	Version = 1

	prefixFmt = "ENC[v%d]:"
	keySize   = 32 // AES-256
)

var ErrNotEncrypted = errors.New("value is not encrypted")

// Encrypt seals plaintext with AES-256-GCM under key and returns a
// versioned, base64-encoded string.
func Encrypt(key []byte, plaintext string) (string, error) {
	if len(key) != keySize {
		return "", fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(prefixFmt, Version) + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It returns ErrNotEncrypted when the value does
// not carry the expected prefix so callers can pass legacy plaintext through.
func Decrypt(key []byte, value string) (string, error) {
	if !IsEncrypted(value) {
		return "", ErrNotEncrypted
	}
	if len(key) != keySize {
		return "", fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}

	raw, err := base64.StdEncoding.DecodeString(value[strings.Index(value, ":")+1:])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether the value carries a recognized ciphertext tag.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, fmt.Sprintf(prefixFmt, Version))
}
