// Package secret implements the AEAD envelope that seals Connection API
// keys at rest: XChaCha20-Poly1305 keyed by a process-wide application
// secret, with a per-record UUIDv7 salt used to derive the 24-byte nonce.
//
// golang.org/x/crypto/chacha20poly1305 is used instead of stdlib
// crypto/aes+crypto/cipher's GCM construction because the salt here is
// record-scoped rather than freshly randomized per encryption call — GCM's
// 12-byte nonce is too easy to reuse under that access pattern, whereas
// XChaCha20-Poly1305's 24-byte extended nonce derived from a UUIDv7 salt
// has a large enough space to rule out collisions for the life of a
// deployment.
package secret

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope seals and opens Connection API keys using one process-wide
// application secret.
type Envelope struct {
	aead       interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// New derives a 32-byte AEAD key from appSecret via SHA-256 (appSecret may
// be any length; the config layer accepts it as an arbitrary string) and
// constructs the cipher.
func New(appSecret string) (*Envelope, error) {
	key := sha256.Sum256([]byte(appSecret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("secret: new cipher: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// NewSalt generates a fresh UUIDv7 salt for a new Connection record
// (Open Question / §4.6: per-record UUIDv7 salt).
func NewSalt() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, &FailedToCreateKeyError{Cause: err}
	}
	return id, nil
}

// nonce derives the AEAD nonce from the salt: XChaCha20-Poly1305 takes a
// 24-byte nonce; uuid.UUID is 16 bytes, so the remaining 8 bytes are a
// fixed domain-separation suffix rather than reused key material.
func nonce(salt uuid.UUID) []byte {
	n := make([]byte, chacha20poly1305.NonceSizeX)
	copy(n, salt[:])
	copy(n[16:], []byte("llmurctn"))
	return n
}

// Seal encrypts plaintext (the provider API key) under salt, returning the
// ciphertext to store alongside it. Failure here is a FailedToCreateKey
// error surfaced to the admin caller on CREATE.
func (e *Envelope) Seal(plaintext string, salt uuid.UUID) ([]byte, error) {
	ct := e.aead.Seal(nil, nonce(salt), []byte(plaintext), nil)
	return ct, nil
}

// Open decrypts ciphertext sealed under salt. Failure here is an internal
// error (§4.6): it only happens if the stored envelope or the application
// secret itself is corrupt, not from any client input.
func (e *Envelope) Open(ciphertext []byte, salt uuid.UUID) (string, error) {
	pt, err := e.aead.Open(nil, nonce(salt), ciphertext, nil)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	return string(pt), nil
}

// FailedToCreateKeyError is raised when salt generation or sealing fails on
// CREATE of a new Connection.
type FailedToCreateKeyError struct{ Cause error }

func (e *FailedToCreateKeyError) Error() string { return fmt.Sprintf("failed to create key: %v", e.Cause) }
func (e *FailedToCreateKeyError) Unwrap() error  { return e.Cause }
func (e *FailedToCreateKeyError) HTTPStatus() int { return 500 }

// DecryptionError is raised when an existing envelope fails to open.
// Never logged with its plaintext — there isn't one to log.
type DecryptionError struct{ Cause error }

func (e *DecryptionError) Error() string  { return fmt.Sprintf("decryption failed: %v", e.Cause) }
func (e *DecryptionError) Unwrap() error  { return e.Cause }
func (e *DecryptionError) HTTPStatus() int { return 500 }
