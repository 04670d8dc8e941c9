// Package secrets seals mailbox credentials at rest.
//
// Sealing uses AES-256-GCM with a fresh random nonce per call; the key is
// derived from the server-side encryption secret with PBKDF2. Plaintext
// credentials never leave this package unencrypted except through Open.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrSealFailed indicates credential encryption failed.
	ErrSealFailed = errors.New("credential encryption failed")
	// ErrOpenFailed indicates credential decryption failed.
	ErrOpenFailed = errors.New("credential decryption failed")
	// ErrNoSecret indicates the server-side encryption secret is missing.
	ErrNoSecret = errors.New("encryption secret not configured")
)

const (
	keyLen     = 32
	iterations = 10000
)

var derivationSalt = []byte("mailpilot-credential-v1")

// Sealer encrypts and decrypts credential material with a derived key.
type Sealer struct {
	key []byte
}

// NewSealer derives the AES-256 key from the server-side secret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	key := pbkdf2.Key([]byte(secret), derivationSalt, iterations, keyLen, sha256.New)
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext and returns a base64 blob of nonce||ciphertext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", ErrSealFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrSealFailed
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrSealFailed
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrOpenFailed
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", ErrOpenFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrOpenFailed
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrOpenFailed
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}
