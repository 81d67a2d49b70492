// Package secrets provides authenticated encryption for sensitive values
// stored at rest, such as third-party API keys. Values are sealed with
// AES-256-GCM under a key derived from an application secret and encoded
// as base64 for storage in text columns.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrEmptyKey          = errors.New("secrets: encryption key is empty")
	ErrEncryptionFailed  = errors.New("secrets: encryption failed")
	ErrDecryptionFailed  = errors.New("secrets: decryption failed")
	ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")
)

// Cipher seals and opens values with a fixed key. Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from an application secret of any length. The secret
// is stretched to a 256-bit AES key with SHA-256.
func New(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}

	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromString is a convenience wrapper for secrets held in configuration.
func NewFromString(secret string) (*Cipher, error) {
	return New([]byte(secret))
}

// EncryptString seals a value and returns base64(nonce + ciphertext + tag).
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a value produced by EncryptString.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
