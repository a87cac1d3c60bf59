package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Encrypted values are stored as "enc:v1:<base64(nonce+ciphertext)>" so the
// version can be bumped without a big-bang re-encryption.
const encPrefix = "enc:v1:"

// FieldCipher encrypts and decrypts string fields with AES-256-GCM.
// Safe for concurrent use.
type FieldCipher struct {
	gcm cipher.AEAD
}

// NewFieldCipher derives an AES-256 key from the master secret using HKDF.
// The purpose string isolates this derived key from any other use of the
// same master secret.
func NewFieldCipher(masterSecret []byte, purpose string) (*FieldCipher, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("vault: master secret is required")
	}
	hkdfReader := hkdf.New(sha256.New, masterSecret, []byte("publisher-field-encryption"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("vault: HKDF derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &FieldCipher{gcm: gcm}, nil
}

// Encrypt encrypts plaintext and returns a prefixed string for DB storage.
func (fc *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, fc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: failed to generate nonce: %w", err)
	}
	ciphertext := fc.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a value previously produced by Encrypt.
func (fc *FieldCipher) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return "", errors.New("vault: value is not encrypted")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("vault: invalid base64: %w", err)
	}
	nonceSize := fc.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("vault: ciphertext too short")
	}
	plaintext, err := fc.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("vault: decryption failed: %w", err)
	}
	return string(plaintext), nil
}
