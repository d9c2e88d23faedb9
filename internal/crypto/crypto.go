// Package crypto encrypts OAuth tokens before they are written to the store.
// Uses AES-256-GCM with an HKDF-SHA256 derived key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks values written by a TokenCipher.
const sealedPrefix = "enc:v1:"

var hkdfInfo = []byte("ledgerlink token-at-rest v1")

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// DeriveKey expands secret into a 32-byte AES key.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(secret []byte) (cipher.AEAD, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext using AES-256-GCM and returns base64.
func Encrypt(plaintext, secret []byte) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, secret []byte) ([]byte, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// TokenCipher seals token columns. A nil or keyless cipher stores values as is.
type TokenCipher struct {
	secret []byte
}

// NewTokenCipher returns a cipher for the configured token key.
func NewTokenCipher(key string) *TokenCipher {
	return &TokenCipher{secret: []byte(key)}
}

// Enabled reports whether values are encrypted.
func (c *TokenCipher) Enabled() bool {
	return c != nil && len(c.secret) > 0
}

// Seal encrypts a token for storage. Empty values stay empty.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	enc, err := Encrypt([]byte(plaintext), c.secret)
	if err != nil {
		return "", err
	}
	return sealedPrefix + enc, nil
}

// Open reverses Seal. Values without the sealed prefix are returned unchanged
// so rows written before a key was configured stay readable.
func (c *TokenCipher) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !c.Enabled() {
		return "", ErrInvalidKey
	}
	plain, err := Decrypt(strings.TrimPrefix(stored, sealedPrefix), c.secret)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
