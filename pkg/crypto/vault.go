package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"dexcore/pkg/db"
)

const (
	kdfIterations = 480000
	saltSize      = 16

	// verifierPlain is encrypted under the derived key at setup; a
	// successful round trip on unlock proves the password is right.
	verifierPlain = "VERIFICATION_SUCCESS"
)

var (
	ErrVaultLocked   = errors.New("vault is locked")
	ErrVaultNotSetup = errors.New("vault password has not been set")
	ErrWrongPassword = errors.New("incorrect password")
	ErrAlreadySetup  = errors.New("vault password is already set")
)

// SecurityStore is the persistence surface the vault needs: a single salt +
// verifier record in durable storage.
type SecurityStore interface {
	GetSecurity(ctx context.Context) (salt []byte, verifier string, err error)
	SetSecurity(ctx context.Context, salt []byte, verifier string) error
}

// Vault derives the master encryption key from the operator password and
// holds it in memory while unlocked. All wallet secrets at rest are
// ciphertext under this key.
type Vault struct {
	mu    sync.RWMutex
	store SecurityStore
	key   []byte // nil while locked
}

func NewVault(store SecurityStore) *Vault {
	return &Vault{store: store}
}

// IsSetup reports whether a password has been established.
func (v *Vault) IsSetup(ctx context.Context) (bool, error) {
	_, _, err := v.store.GetSecurity(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Setup establishes the password on first run: generates a salt, derives the
// key, and stores an encrypted verifier.
func (v *Vault) Setup(ctx context.Context, password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}

	ok, err := v.IsSetup(ctx)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadySetup
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt)
	verifier, err := Encrypt(key, verifierPlain)
	if err != nil {
		return fmt.Errorf("encrypt verifier: %w", err)
	}
	if err := v.store.SetSecurity(ctx, salt, verifier); err != nil {
		return err
	}

	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
	log.Printf("🔒 Vault initialized")
	return nil
}

// Unlock derives the key from the password and checks it against the stored
// verifier. On success the key stays resident until Lock.
func (v *Vault) Unlock(ctx context.Context, password string) error {
	salt, verifier, err := v.store.GetSecurity(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrVaultNotSetup
		}
		return err
	}

	key := deriveKey(password, salt)
	plain, err := Decrypt(key, verifier)
	if err != nil || plain != verifierPlain {
		return ErrWrongPassword
	}

	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
	log.Printf("🔒 Vault unlocked")
	return nil
}

// Lock drops the resident key.
func (v *Vault) Lock() {
	v.mu.Lock()
	v.key = nil
	v.mu.Unlock()
	log.Printf("🔒 Vault locked")
}

// Active reports whether the key is resident.
func (v *Vault) Active() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Encrypt seals plaintext under the resident key.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()
	if key == nil {
		return "", ErrVaultLocked
	}
	return Encrypt(key, plaintext)
}

// Decrypt opens ciphertext under the resident key. Plain values without the
// ciphertext tag are returned unchanged.
func (v *Vault) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()
	if key == nil {
		return "", ErrVaultLocked
	}
	return Decrypt(key, value)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, keySize, sha256.New)
}
