package crypto

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"dexcore/pkg/db"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple", "hello"},
		{"empty", ""},
		{"private key", "0x4c0883a69102937d6231471b5dbb6204fe512961708279f5d3b9f7b9a4e5c1aa"},
		{"unicode", "密碼測試 🔑"},
	}

	key := testKey()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encrypt(key, tt.plaintext)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if !strings.HasPrefix(enc, "ENC[v1]:") {
				t.Fatalf("missing version prefix: %q", enc)
			}
			dec, err := Decrypt(key, enc)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if dec != tt.plaintext {
				t.Fatalf("round trip mismatch: %q != %q", dec, tt.plaintext)
			}
		})
	}
}

func TestEncryptUniqueNonce(t *testing.T) {
	key := testKey()
	a, _ := Encrypt(key, "same input")
	b, _ := Encrypt(key, "same input")
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc, err := Encrypt(testKey(), "secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	other := bytes.Repeat([]byte{0x99}, 32)
	if _, err := Decrypt(other, enc); err == nil {
		t.Fatal("decrypt with wrong key succeeded")
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	if _, err := Decrypt(testKey(), "not-encrypted"); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("expected ErrNotEncrypted, got %v", err)
	}
}

func TestBadKeySize(t *testing.T) {
	if _, err := Encrypt([]byte("short"), "x"); err == nil {
		t.Fatal("expected key size error")
	}
}

// memStore is an in-memory SecurityStore for vault tests.
type memStore struct {
	salt     []byte
	verifier string
}

func (m *memStore) GetSecurity(ctx context.Context) ([]byte, string, error) {
	if m.salt == nil {
		return nil, "", db.ErrNotFound
	}
	return m.salt, m.verifier, nil
}

func (m *memStore) SetSecurity(ctx context.Context, salt []byte, verifier string) error {
	m.salt = salt
	m.verifier = verifier
	return nil
}

func TestVaultLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	v := NewVault(store)

	if v.Active() {
		t.Fatal("fresh vault should be locked")
	}
	if err := v.Unlock(ctx, "pw"); !errors.Is(err, ErrVaultNotSetup) {
		t.Fatalf("expected ErrVaultNotSetup, got %v", err)
	}

	if err := v.Setup(ctx, "correct horse"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !v.Active() {
		t.Fatal("vault should be unlocked after setup")
	}
	if err := v.Setup(ctx, "again"); !errors.Is(err, ErrAlreadySetup) {
		t.Fatalf("expected ErrAlreadySetup, got %v", err)
	}

	enc, err := v.Encrypt("wallet-secret")
	if err != nil {
		t.Fatalf("vault encrypt: %v", err)
	}

	v.Lock()
	if v.Active() {
		t.Fatal("vault should be locked")
	}
	if _, err := v.Decrypt(enc); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked, got %v", err)
	}

	if err := v.Unlock(ctx, "wrong password"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if err := v.Unlock(ctx, "correct horse"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	dec, err := v.Decrypt(enc)
	if err != nil {
		t.Fatalf("vault decrypt: %v", err)
	}
	if dec != "wallet-secret" {
		t.Fatalf("round trip mismatch: %q", dec)
	}
}

func TestVaultDecryptPlainPassthrough(t *testing.T) {
	v := NewVault(&memStore{})
	got, err := v.Decrypt("plain-value")
	if err != nil || got != "plain-value" {
		t.Fatalf("plaintext should pass through even while locked: %q %v", got, err)
	}
}
