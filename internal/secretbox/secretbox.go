// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secretbox provides AEAD encryption for enrollment secrets at rest,
// keyed by a process-level 256-bit key derived via HKDF-SHA256. It is the
// only form in which an enrollment secret exists outside of RAM.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrKeyMissing indicates no master key was configured.
var ErrKeyMissing = errors.New("secretbox: encryption key not configured")

// ErrDecryptionFailed is returned for any decrypt failure: a bad tag, a
// truncated box, or a key mismatch. The message is uniform by design —
// decrypt failures never disclose which part of the input was wrong.
var ErrDecryptionFailed = errors.New("secretbox: decryption failed")

const defaultContext = "guardctl-enrollment-secret"

// Box holds a ciphertext and its nonce, matching the §6 at-rest layout.
type Box struct {
	Ciphertext []byte
	Nonce      []byte
}

// Sealer encrypts and decrypts enrollment secrets. The zero value is not
// usable; construct with New.
type Sealer struct {
	aead cipher.AEAD
}

// Config configures a Sealer.
type Config struct {
	// MasterKey is the base64-encoded process-level key, at least 16 bytes
	// of entropy after decoding.
	MasterKey string
	// Context namespaces the HKDF derivation; defaults to a fixed string.
	Context string
}

// New builds a Sealer from Config. It returns ErrKeyMissing if MasterKey is
// empty.
func New(cfg Config) (*Sealer, error) {
	if cfg.MasterKey == "" {
		return nil, ErrKeyMissing
	}
	master, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode master key: %w", err)
	}
	if len(master) < 16 {
		return nil, errors.New("secretbox: master key must be at least 16 bytes")
	}

	context := cfg.Context
	if context == "" {
		context = defaultContext
	}

	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(context)), derived); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext, returning a Box holding the ciphertext and the
// random nonce used.
func (s *Sealer) Seal(plaintext []byte) (Box, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Box{}, fmt.Errorf("secretbox: generate nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, plaintext, nil)
	return Box{Ciphertext: ct, Nonce: nonce}, nil
}

// Open decrypts a Box. Any tampering of ciphertext or nonce, or a key
// mismatch, returns ErrDecryptionFailed uniformly.
func (s *Sealer) Open(b Box) ([]byte, error) {
	if len(b.Nonce) != s.aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	pt, err := s.aead.Open(nil, b.Nonce, b.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// GenerateMasterKey returns a fresh base64-encoded 256-bit key suitable for
// Config.MasterKey.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("secretbox: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
