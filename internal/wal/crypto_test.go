package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChaCha20Poly1305CodecRoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	source := StaticKeySource{"device-key-1": key}
	encrypt, decrypt := NewChaCha20Poly1305Codec(source)

	plaintext := []byte("truck telemetry payload")
	ciphertext, nonce, err := encrypt("device-key-1", plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := decrypt("device-key-1", nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestChaCha20Poly1305CodecRejectsUnknownKeyID(t *testing.T) {
	encrypt, _ := NewChaCha20Poly1305Codec(StaticKeySource{})
	_, _, err := encrypt("missing", []byte("x"))
	assert.Error(t, err)
}

func TestChaCha20Poly1305CodecRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	source := StaticKeySource{"k": key}
	encrypt, decrypt := NewChaCha20Poly1305Codec(source)

	ciphertext, nonce, err := encrypt("k", []byte("hello"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = decrypt("k", nonce, ciphertext)
	assert.Error(t, err)
}
