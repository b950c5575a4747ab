// Package e2ee implements per-frame AES-GCM encryption of encoded media.
//
// A sealed frame keeps a short plaintext prefix so that packetizers and
// decoders can still read frame headers, followed by the ciphertext and the
// 12-byte IV the frame was sealed with.
package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKey    = errors.New("invalid aes key")
	ErrFrameTooShort = errors.New("frame too short")
	ErrDecrypt       = errors.New("frame decryption failed")
)

// Key is an imported AES-GCM key. It is read-only after import and safe to
// share between frame pipes.
type Key struct {
	raw  []byte
	aead cipher.AEAD
}

// ImportKey decodes the host-supplied base64url key string.
func ImportKey(aesKey string) (*Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(aesKey, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return newKey(raw)
}

// NewKey generates a random key. Hosts normally supply their own.
func NewKey() (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return newKey(raw)
}

func newKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Key{raw: raw, aead: aead}, nil
}

// Export returns the key in the form ImportKey accepts.
func (k *Key) Export() string {
	return base64.RawURLEncoding.EncodeToString(k.raw)
}
