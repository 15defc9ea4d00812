package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Encryptor encrypts and decrypts opaque secret strings with AES-GCM. The key
// is loaded once at process start and is immutable afterwards; every component
// that needs to touch ciphertext receives the same Encryptor instance.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a raw AES key (16, 24 or 32 bytes).
func NewEncryptor(key []byte) (*Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromHex builds an Encryptor from a hex-encoded key, the form the
// key takes in configuration.
func NewEncryptorFromHex(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return NewEncryptor(key)
}

// EncryptString encrypts one plaintext value and returns a base64 payload.
func (e *Encryptor) EncryptString(plaintext string) (string, error) {
	if e == nil || e.aead == nil {
		return "", fmt.Errorf("encryptor is not configured")
	}

	// AES-GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Persisted as nonce || ciphertext, raw base64.
	payload := append(nonce, ciphertext...)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// DecryptString decrypts a previously encrypted value. Any modification of the
// ciphertext fails authentication; a wrong plaintext is never returned.
func (e *Encryptor) DecryptString(encrypted string) (string, error) {
	if e == nil || e.aead == nil {
		return "", fmt.Errorf("encryptor is not configured")
	}

	payload, err := base64.RawStdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("encrypted value is too short")
	}
	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt value: %w", err)
	}
	return string(plaintext), nil
}
