package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptionFailed indicates an authentication tag mismatch: the
// ciphertext was tampered with, corrupted, or sealed under a different key.
var ErrDecryptionFailed = errors.New("decryption failed: message authentication failed")

// NonceSize is the ChaCha20-Poly1305 nonce size in bytes (96 bits).
const NonceSize = chacha20poly1305.NonceSize

// Nonce is a 12-byte value used for authenticated encryption.
type Nonce [NonceSize]byte

// MaxMessageSize bounds plaintext size (1MB) to prevent excessive memory usage.
const MaxMessageSize = 1024 * 1024

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	_, err := rand.Read(nonce[:])
	if err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// SealSymmetric encrypts a message with ChaCha20-Poly1305 under a symmetric
// key, binding the additional data into the authentication tag.
func SealSymmetric(key [32]byte, nonce Nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidParameter)
	}
	if len(plaintext) > MaxMessageSize {
		return nil, fmt.Errorf("%w: message too large", ErrInvalidParameter)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return aead.Seal(nil, nonce[:], plaintext, additionalData), nil
}

// OpenSymmetric decrypts and authenticates a message sealed by SealSymmetric.
// The same key, nonce and additional data must be supplied; any mismatch
// returns ErrDecryptionFailed rather than garbage plaintext.
func OpenSymmetric(key [32]byte, nonce Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrInvalidParameter)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
