package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	t.Parallel()

	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	if keyPair == nil {
		t.Fatal("GenerateKeyPair() returned nil key pair")
	}

	if isZeroKey(keyPair.Public) {
		t.Error("GenerateKeyPair() returned zero public key")
	}

	if isZeroKey(keyPair.Private) {
		t.Error("GenerateKeyPair() returned zero private key")
	}

	keyPair2, _ := GenerateKeyPair()
	if bytes.Equal(keyPair.Public[:], keyPair2.Public[:]) {
		t.Error("Multiple GenerateKeyPair() calls produced identical public keys")
	}
}

func TestFromSecretKey(t *testing.T) {
	t.Parallel()

	original, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	restored, err := FromSecretKey(original.Private)
	if err != nil {
		t.Fatalf("FromSecretKey() error: %v", err)
	}

	if restored.Public != original.Public {
		t.Error("FromSecretKey() derived a different public key than the original")
	}

	if _, err := FromSecretKey([32]byte{}); err == nil {
		t.Error("FromSecretKey() accepted an all-zero secret key")
	}
}

func TestDeriveSharedSecretAgreement(t *testing.T) {
	t.Parallel()

	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	fromAlice, err := DeriveSharedSecret(bob.Public, alice.Private)
	if err != nil {
		t.Fatalf("DeriveSharedSecret() error: %v", err)
	}
	fromBob, err := DeriveSharedSecret(alice.Public, bob.Private)
	if err != nil {
		t.Fatalf("DeriveSharedSecret() error: %v", err)
	}

	if fromAlice != fromBob {
		t.Error("ECDH agreement produced different secrets on each side")
	}
	if isZeroKey(fromAlice) {
		t.Error("DeriveSharedSecret() returned all-zero secret")
	}
}

func TestGenerateNonce(t *testing.T) {
	t.Parallel()

	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error: %v", err)
	}

	zeroNonce := Nonce{}
	if bytes.Equal(nonce[:], zeroNonce[:]) {
		t.Error("GenerateNonce() returned zero nonce")
	}

	nonce2, _ := GenerateNonce()
	if bytes.Equal(nonce[:], nonce2[:]) {
		t.Error("Multiple GenerateNonce() calls produced identical nonces")
	}
}

func TestSealOpenSymmetric(t *testing.T) {
	t.Parallel()

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error: %v", err)
	}

	plaintext := []byte("hello")
	additionalData := []byte("conv1|0|0")

	ciphertext, err := SealSymmetric(key, nonce, plaintext, additionalData)
	if err != nil {
		t.Fatalf("SealSymmetric() error: %v", err)
	}

	decrypted, err := OpenSymmetric(key, nonce, ciphertext, additionalData)
	if err != nil {
		t.Fatalf("OpenSymmetric() error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestOpenSymmetricFailures(t *testing.T) {
	t.Parallel()

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	nonce, _ := GenerateNonce()
	additionalData := []byte("conv1|0|0")
	ciphertext, err := SealSymmetric(key, nonce, []byte("hello"), additionalData)
	if err != nil {
		t.Fatalf("SealSymmetric() error: %v", err)
	}

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), ciphertext...)
		tampered[0] ^= 0x01
		if _, err := OpenSymmetric(key, nonce, tampered, additionalData); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("OpenSymmetric() error = %v, want ErrDecryptionFailed", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		var wrongKey [32]byte
		copy(wrongKey[:], []byte("fedcba9876543210fedcba9876543210"))
		if _, err := OpenSymmetric(wrongKey, nonce, ciphertext, additionalData); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("OpenSymmetric() error = %v, want ErrDecryptionFailed", err)
		}
	})

	t.Run("wrong additional data", func(t *testing.T) {
		if _, err := OpenSymmetric(key, nonce, ciphertext, []byte("conv1|0|1")); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("OpenSymmetric() error = %v, want ErrDecryptionFailed", err)
		}
	})
}

func TestSealSymmetricSizeLimits(t *testing.T) {
	t.Parallel()

	var key [32]byte
	nonce, _ := GenerateNonce()

	if _, err := SealSymmetric(key, nonce, nil, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SealSymmetric(empty) error = %v, want ErrInvalidParameter", err)
	}

	oversized := make([]byte, MaxMessageSize+1)
	if _, err := SealSymmetric(key, nonce, oversized, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SealSymmetric(oversized) error = %v, want ErrInvalidParameter", err)
	}
}
