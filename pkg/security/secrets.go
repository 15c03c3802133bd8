package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// minBlobLen is the smallest decodable blob: a 12-byte GCM nonce followed by
// a 16-byte tag with an empty ciphertext.
const minBlobLen = 28

// Encryptor encrypts and decrypts agent credentials using AES-256-GCM.
// Blobs are base64(nonce || ciphertext || tag) so they can be stored as
// strings alongside the rest of an agent config row.
type Encryptor struct {
	key []byte // 32 bytes for AES-256
}

// NewEncryptor creates an encryptor from a raw 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &Encryptor{key: key}, nil
}

// NewEncryptorFromBase64 creates an encryptor from a base64-encoded 32-byte
// key, the form the key takes in the environment.
func NewEncryptorFromBase64(encoded string) (*Encryptor, error) {
	if encoded == "" {
		return nil, fmt.Errorf("encryption key not configured")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}

	return NewEncryptor(key)
}

// GenerateKey returns a fresh random 32-byte key, base64-encoded for use as
// CONFIG_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}

// EncryptString encrypts plaintext using AES-256-GCM with a fresh random
// nonce and returns the base64-encoded blob.
func (e *Encryptor) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("cannot encrypt empty data")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and prepend nonce
	blob := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptString decrypts a blob produced by EncryptString. Tampered or
// truncated blobs fail the GCM tag check and return an error.
func (e *Encryptor) DecryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("cannot decrypt empty data")
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(blob) < minBlobLen {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
