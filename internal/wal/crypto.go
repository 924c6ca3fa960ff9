// ============================================================================
// WAL At-Rest Encryption
// ============================================================================
//
// Package: internal/wal
// File: crypto.go
// Purpose: ChaCha20-Poly1305 EncryptFunc/DecryptFunc backing the Writer's
//          injectable encryption hook (spec §4.3: "encrypt when enabled,
//          with a per-entry nonce"), keyed by the storage.encryption
//          section of config (spec §6).
//
// Grounded on the teacher's own at-rest-security posture: internal/
// storage/wal carried no entry encryption, but spec §4.3 requires it for
// a device that may be physically removed from the truck; this uses
// golang.org/x/crypto/chacha20poly1305, the pack's own AEAD primitive of
// choice wherever one was needed, rather than a hand-rolled cipher mode.
// ============================================================================

package wal

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySource resolves a key ID to its 32-byte ChaCha20-Poly1305 key, e.g.
// backed by the contents of storage.encryption.key_file in config.
type KeySource interface {
	Key(keyID string) ([]byte, bool)
}

// StaticKeySource is a fixed, in-memory KeySource, typically loaded once
// at startup from a key file and never rotated mid-process.
type StaticKeySource map[string][]byte

func (s StaticKeySource) Key(keyID string) ([]byte, bool) {
	k, ok := s[keyID]
	return k, ok
}

// NewChaCha20Poly1305Codec builds the EncryptFunc/DecryptFunc pair Writer
// expects, resolving keys from source at call time so a key rotation only
// requires swapping the source's contents.
func NewChaCha20Poly1305Codec(source KeySource) (EncryptFunc, DecryptFunc) {
	encrypt := func(keyID string, plaintext []byte) ([]byte, []byte, error) {
		key, ok := source.Key(keyID)
		if !ok {
			return nil, nil, fmt.Errorf("wal: no encryption key for key_id %q", keyID)
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, nil, fmt.Errorf("wal: init aead: %w", err)
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, nil, fmt.Errorf("wal: generate nonce: %w", err)
		}
		ciphertext := aead.Seal(nil, nonce, plaintext, nil)
		return ciphertext, nonce, nil
	}

	decrypt := func(keyID string, nonce, ciphertext []byte) ([]byte, error) {
		key, ok := source.Key(keyID)
		if !ok {
			return nil, fmt.Errorf("wal: no encryption key for key_id %q", keyID)
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("wal: init aead: %w", err)
		}
		plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("wal: decrypt entry: %w", err)
		}
		return plaintext, nil
	}

	return encrypt, decrypt
}
