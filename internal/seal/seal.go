// Package seal encrypts guest storage values. Every value is sealed with
// AES-256-GCM under a key derived per (master key, project, account); the
// GCM tag doubles as the integrity check, so a flipped ciphertext bit
// surfaces as errs.ErrIntegrity on read.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

// Sealer derives per-namespace keys from a master secret.
type Sealer struct {
	master []byte
}

func New(masterKey []byte) (*Sealer, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("master key too short: %d bytes", len(masterKey))
	}
	return &Sealer{master: masterKey}, nil
}

// KeyHash is the server-side row key for a plaintext storage key. The
// coordinator never sees the plaintext key itself.
func KeyHash(plaintextKey string) string {
	sum := sha256.Sum256([]byte(plaintextKey))
	return hex.EncodeToString(sum[:])
}

func (s *Sealer) derive(projectID, accountID string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, []byte(projectID), []byte(accountID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return key, nil
}

// Seal encrypts value for the given namespace. The nonce is prepended to the
// returned ciphertext.
func (s *Sealer) Seal(projectID, accountID string, value []byte) ([]byte, error) {
	key, err := s.derive(projectID, accountID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, value, nil), nil
}

// Open decrypts a sealed value. Tampered or mismatched ciphertext returns
// errs.ErrIntegrity.
func (s *Sealer) Open(projectID, accountID string, sealed []byte) ([]byte, error) {
	key, err := s.derive(projectID, accountID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed value truncated: %w", errs.ErrIntegrity)
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", errs.ErrIntegrity)
	}
	return plain, nil
}
