// Package secrets encrypts exchange credentials at rest. Keys and secrets are
// sealed with AES-256-GCM before they reach the connections table and opened
// only for the duration of a sync job.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnv is the environment variable holding the master key. Its
// absence is fatal at boot: a journal that cannot open stored credentials is
// worse than one that refuses to start.
const EncryptionKeyEnv = "ENCRYPTION_KEY"

// Cipher seals and opens credential strings with a process-wide key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 256-bit key from the given passphrase. Any non-empty
// string works; SHA-256 stretches it to key length.
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// FromEnv builds a Cipher from the ENCRYPTION_KEY environment variable.
func FromEnv() (*Cipher, error) {
	key := os.Getenv(EncryptionKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", EncryptionKeyEnv)
	}
	return NewCipher(key)
}

// Encrypt seals plaintext and returns a base64 token with the nonce prepended.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. A tampered or foreign token
// fails authentication and returns an error.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("token too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return string(plain), nil
}

// Last4 returns the trailing characters of a key for display, never enough to
// reconstruct it.
func Last4(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
