package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidParameter indicates malformed caller input, such as an empty
// secret or an out-of-range output length. Always programmer-caused.
var ErrInvalidParameter = errors.New("invalid parameter")

// saltDomain prefixes the context-derived fallback salt so that a missing
// caller salt can never collide with a caller-supplied one.
const saltDomain = "ledgerline-e2ee-salt-v1"

// maxDeriveLength is the HKDF-SHA256 expand limit (255 blocks).
const maxDeriveLength = 255 * sha256.Size

// Derive produces length bytes of key material from secret using
// HKDF-SHA256 with the given context label.
//
// When salt is empty, a deterministic salt is derived by hashing the
// context string under a fixed application prefix. Distinct contexts
// therefore never share a salt, and forgetting to pass one never silently
// degrades to an all-zero salt.
func Derive(secret []byte, context string, length int, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParameter)
	}
	if length <= 0 || length > maxDeriveLength {
		return nil, fmt.Errorf("%w: output length %d out of range [1, %d]", ErrInvalidParameter, length, maxDeriveLength)
	}

	if len(salt) == 0 {
		h := sha256.New()
		h.Write([]byte(saltDomain))
		h.Write([]byte(context))
		salt = h.Sum(nil)

		logrus.WithFields(logrus.Fields{
			"function": "Derive",
			"context":  context,
		}).Debug("No salt supplied, using domain-separated context salt")
	}

	reader := hkdf.New(sha256.New, secret, salt, []byte(context))
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}

	return out, nil
}

// SessionKey derives the 32-byte session key for one (conversation, epoch)
// from an ECDH shared secret.
func SessionKey(sharedSecret [32]byte, epoch uint64) ([32]byte, error) {
	return derive32(sharedSecret[:], fmt.Sprintf("SessionKey:%d", epoch), nil)
}

// MessageKey derives the single-use key for one message from a session key
// and the sender's monotonic counter.
func MessageKey(sessionKey []byte, epoch, counter uint64) ([32]byte, error) {
	return derive32(sessionKey, fmt.Sprintf("MessageKey:%d:%d", epoch, counter), nil)
}

// BackupKey derives the 32-byte key protecting a user's backup blob from a
// master secret and a per-user salt.
func BackupKey(masterSecret, userSalt []byte) ([32]byte, error) {
	return derive32(masterSecret, "BackupKey", userSalt)
}

// DeviceKey derives a per-device key from a master secret, bound to the
// device identifier.
func DeviceKey(masterSecret []byte, deviceID string) ([32]byte, error) {
	return derive32(masterSecret, "DeviceKey:"+deviceID, nil)
}

func derive32(secret []byte, context string, salt []byte) ([32]byte, error) {
	var key [32]byte
	out, err := Derive(secret, context, 32, salt)
	if err != nil {
		return key, err
	}
	copy(key[:], out)
	ZeroBytes(out)
	return key, nil
}
