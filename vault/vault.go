package vault

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"github.com/ledgerline/e2ee/crypto"
)

var (
	// ErrAuthenticationFailed indicates a wrong password or a tampered or
	// corrupted blob. The two cases are indistinguishable on purpose.
	ErrAuthenticationFailed = errors.New("authentication failed: wrong password or corrupted backup")

	// ErrUnsupportedAlgorithm indicates a blob written with algorithm
	// identifiers this codec does not implement, such as one produced by a
	// newer client.
	ErrUnsupportedAlgorithm = errors.New("unsupported backup algorithm")
)

const (
	saltSize = 16
	keySize  = 32

	// Argon2id work factors. 3 passes over 64 MiB with 4 lanes meets the
	// OWASP baseline and exceeds the 600k-iteration PBKDF2 equivalent.
	defaultArgonTime        = 3
	defaultArgonMemoryKiB   = 64 * 1024
	defaultArgonParallelism = 4

	// Bounds on work factors accepted from a blob. argon2.IDKey panics on
	// zero time or parallelism, and an oversized memory cost turns a
	// crafted blob into a resource-exhaustion vector.
	maxArgonTime      = 512
	maxArgonMemoryKiB = 4 * 1024 * 1024
)

// Params carries the Argon2id work factors used when wrapping. The zero
// value selects the documented defaults.
type Params struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// valid reports whether the work factors are safe to feed to argon2.IDKey.
// Argon2 additionally requires at least 8 KiB of memory per lane.
func (p Params) valid() bool {
	return p.Time >= 1 && p.Time <= maxArgonTime &&
		p.Parallelism >= 1 &&
		p.MemoryKiB >= 8*uint32(p.Parallelism) && p.MemoryKiB <= maxArgonMemoryKiB
}

func (p Params) withDefaults() Params {
	if p.Time == 0 {
		p.Time = defaultArgonTime
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = defaultArgonMemoryKiB
	}
	if p.Parallelism == 0 {
		p.Parallelism = defaultArgonParallelism
	}
	return p
}

// Wrap encrypts plaintext under a key derived from password with a fresh
// random salt, using the default work factors.
func Wrap(plaintext, password string) (*BackupBlob, error) {
	return WrapWithParams(plaintext, password, Params{})
}

// WrapWithParams encrypts plaintext under a key derived from password,
// recording the supplied work factors in the blob so any future verifier
// can reproduce the derivation.
func WrapWithParams(plaintext, password string, params Params) (*BackupBlob, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("%w: empty plaintext", crypto.ErrInvalidParameter)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", crypto.ErrInvalidParameter)
	}

	params = params.withDefaults()
	if !params.valid() {
		return nil, fmt.Errorf("%w: argon2 work factors out of range", crypto.ErrInvalidParameter)
	}

	salt, err := crypto.SecureRandom(saltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := &BackupBlob{
		Version:          BlobVersion,
		KDFAlgorithm:     KDFArgon2id,
		CipherAlgorithm:  CipherChaCha20Poly1305,
		KDFSalt:          salt,
		Nonce:            nonce[:],
		ArgonTime:        params.Time,
		ArgonMemoryKiB:   params.MemoryKiB,
		ArgonParallelism: params.Parallelism,
	}

	key := deriveKey(password, salt, params)
	defer crypto.ZeroBytes(key[:])

	// Binding the algorithm parameters into the tag means a blob with
	// weakened work factors fails authentication instead of decrypting.
	ciphertext, err := crypto.SealSymmetric(key, nonce, []byte(plaintext), blob.additionalData())
	if err != nil {
		return nil, fmt.Errorf("failed to seal backup: %w", err)
	}
	blob.Ciphertext = ciphertext

	logrus.WithFields(logrus.Fields{
		"function":   "WrapWithParams",
		"kdf":        blob.KDFAlgorithm,
		"cipher":     blob.CipherAlgorithm,
		"argon_time": params.Time,
		"argon_mem":  params.MemoryKiB,
	}).Info("Backup blob created")

	return blob, nil
}

// Unwrap decrypts a blob with the given password. A wrong password, a
// bit-flip anywhere in the blob, or altered work factors all return
// ErrAuthenticationFailed, never garbage plaintext.
func Unwrap(blob *BackupBlob, password string) (string, error) {
	if blob == nil {
		return "", fmt.Errorf("%w: nil blob", crypto.ErrInvalidParameter)
	}
	if blob.KDFAlgorithm != KDFArgon2id {
		return "", fmt.Errorf("%w: kdf %q", ErrUnsupportedAlgorithm, blob.KDFAlgorithm)
	}
	if blob.CipherAlgorithm != CipherChaCha20Poly1305 {
		return "", fmt.Errorf("%w: cipher %q", ErrUnsupportedAlgorithm, blob.CipherAlgorithm)
	}
	if len(blob.Nonce) != crypto.NonceSize {
		return "", fmt.Errorf("%w: nonce length %d", crypto.ErrInvalidParameter, len(blob.Nonce))
	}

	params := Params{
		Time:        blob.ArgonTime,
		MemoryKiB:   blob.ArgonMemoryKiB,
		Parallelism: blob.ArgonParallelism,
	}
	// The work factors come from the untrusted blob. Out-of-range values
	// mean tampering; the honest values are bound into the tag anyway.
	if !params.valid() {
		logrus.WithFields(logrus.Fields{
			"function":   "Unwrap",
			"argon_time": params.Time,
			"argon_mem":  params.MemoryKiB,
		}).Warn("Backup blob carries invalid work factors")
		return "", ErrAuthenticationFailed
	}

	key := deriveKey(password, blob.KDFSalt, params)
	defer crypto.ZeroBytes(key[:])

	var nonce crypto.Nonce
	copy(nonce[:], blob.Nonce)

	plaintext, err := crypto.OpenSymmetric(key, nonce, blob.Ciphertext, blob.additionalData())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Unwrap",
		}).Warn("Backup blob failed authentication")
		return "", ErrAuthenticationFailed
	}

	return string(plaintext), nil
}

// VerifyPassword reports whether password unwraps the blob. It never
// returns an error; any failure at all is just false.
func VerifyPassword(password string, blob *BackupBlob) bool {
	if blob == nil {
		return false
	}
	_, err := Unwrap(blob, password)
	return err == nil
}

// additionalData binds blob metadata into the authentication tag.
func (b *BackupBlob) additionalData() []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%d|%d|%d",
		b.Version, b.KDFAlgorithm, b.CipherAlgorithm,
		b.ArgonTime, b.ArgonMemoryKiB, b.ArgonParallelism))
}

func deriveKey(password string, salt []byte, params Params) [32]byte {
	var key [32]byte
	derived := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, keySize)
	copy(key[:], derived)
	crypto.ZeroBytes(derived)
	return key
}
