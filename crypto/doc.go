// Package crypto implements the cryptographic primitives for the
// Ledgerline end-to-end encryption subsystem.
//
// This package provides the stateless foundation the higher-level
// components build on: X25519 key pair generation and Diffie-Hellman
// agreement, HKDF-based one-way key derivation with domain-separated
// context labels, ChaCha20-Poly1305 authenticated encryption, safety
// number formatting for out-of-band key verification, and memory-safe
// handling of secret material.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	shared, err := crypto.DeriveSharedSecret(peerPublicKey, keys.Private)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sessionKey, err := crypto.SessionKey(shared, 0)
package crypto
