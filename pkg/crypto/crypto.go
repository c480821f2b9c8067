// Package crypto implements the PII protection contract used by every
// component that touches user profile data (spec §6): profiles are
// encrypted at rest with a per-user key derived from a single master secret,
// emails are never stored in plaintext but remain look-up-able via a
// deterministic HMAC, and passwords are hashed with bcrypt.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
)

// ErrCiphertextTooShort is returned when decrypting a blob shorter than the
// GCM nonce it must carry.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce")

// Service derives per-user AES-256-GCM keys from a single master secret via
// HKDF and provides the deterministic lookup hash used for unique-email
// queries without ever storing plaintext email addresses.
type Service struct {
	masterKey []byte
	hmacKey   []byte
}

// NewService builds a Service from the deployment's master secret. masterKey
// must be at least 32 bytes; callers load it from an environment variable or
// secret store, never hardcode it (spec §6, §11 — pkg/config reads
// ENCRYPTION_KEY from the environment; it is not among the settings the
// pkg/secrets manager overrides).
func NewService(masterKey string) (*Service, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("crypto: master key must be at least 32 bytes, got %d", len(masterKey))
	}

	hmacKey, err := deriveKey([]byte(masterKey), []byte("carpoolhq:lookup-hash:v1"), 32)
	if err != nil {
		return nil, fmt.Errorf("crypto: deriving lookup key: %w", err)
	}

	return &Service{masterKey: []byte(masterKey), hmacKey: hmacKey}, nil
}

// deriveKey runs HKDF-SHA256 over master with no salt and info as the HKDF
// info string, returning size bytes.
func deriveKey(master, info []byte, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, master, nil, info)
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// userKey derives the AES key bound to a specific user so that one
// compromised key only exposes one user's profile.
func (s *Service) userKey(userBinding string) ([]byte, error) {
	return deriveKey(s.masterKey, []byte("carpoolhq:profile:"+userBinding), 32)
}

// EncryptPII encrypts plaintext with a key derived from userBinding (the
// user's id, stable across the record's lifetime) using AES-256-GCM. The
// returned blob is nonce || ciphertext, matching PostgreSQL's bytea column
// used for encrypted_profile and mfa_secret_encrypted.
func (s *Service) EncryptPII(userBinding string, plaintext []byte) ([]byte, error) {
	key, err := s.userKey(userBinding)
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

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptPII reverses EncryptPII. A wrong userBinding (key mismatch) or
// tampered ciphertext surfaces as an authentication error from the GCM tag
// check, never a silent garbage decode.
func (s *Service) DecryptPII(userBinding string, blob []byte) ([]byte, error) {
	key, err := s.userKey(userBinding)
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

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// HashForLookup returns a deterministic, non-reversible HMAC-SHA256 of value,
// hex-encoded. Used for the unique-email index: the database can enforce
// uniqueness and support equality lookups on the hash without ever holding
// the plaintext address (spec §6).
func (s *Service) HashForLookup(value string) string {
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write([]byte(normalizeForLookup(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalizeForLookup(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
