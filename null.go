package e2ee

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/rotation"
	"github.com/ledgerline/e2ee/session"
)

// NullMessenger is the Messenger handed to users whose tier does not
// include end-to-end encryption. Message operations pass plaintext through
// unchanged so application code stays uniform; every key-management
// operation fails with ErrNotAvailable.
type NullMessenger struct{}

var _ Messenger = (*NullMessenger)(nil)

func (NullMessenger) Initialize(context.Context, string) error { return nil }

func (NullMessenger) SetupEncryption(context.Context, string) (string, error) {
	return "", ErrNotAvailable
}

func (NullMessenger) RestoreFromPassword(context.Context, string) error {
	return ErrNotAvailable
}

func (NullMessenger) RestoreFromRecoveryKey(context.Context, string) error {
	return ErrNotAvailable
}

// EncryptMessage wraps the plaintext in an envelope without encrypting it.
// The eventual transport treats envelopes uniformly either way.
func (NullMessenger) EncryptMessage(_ context.Context, _, plaintext, _ string) (*session.Envelope, error) {
	return &session.Envelope{Ciphertext: []byte(plaintext)}, nil
}

func (NullMessenger) DecryptMessage(_ context.Context, _ string, envelope *session.Envelope, _, _ string) (string, error) {
	if envelope == nil {
		return "", fmt.Errorf("%w: nil envelope", crypto.ErrInvalidParameter)
	}
	return string(envelope.Ciphertext), nil
}

func (NullMessenger) SafetyNumber(context.Context, string) (string, error) {
	return "", ErrNotAvailable
}

func (NullMessenger) IdentityPublicKey(context.Context) ([32]byte, error) {
	return [32]byte{}, ErrNotAvailable
}

func (NullMessenger) RegenerateKeys(context.Context) (*rotation.Result, error) {
	return nil, ErrNotAvailable
}

func (NullMessenger) CheckAndRotateIfNeeded(context.Context, ...time.Duration) (*rotation.Result, error) {
	return nil, ErrNotAvailable
}

func (NullMessenger) IsSetUp(context.Context) bool { return false }

func (NullMessenger) CreatePairingRequest(context.Context) (*PairingRequest, error) {
	return nil, ErrNotAvailable
}

func (NullMessenger) VerifyPairingCode(context.Context, string) error {
	return ErrNotAvailable
}

func (NullMessenger) Teardown() error { return nil }
