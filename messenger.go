package e2ee

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/rotation"
	"github.com/ledgerline/e2ee/session"
	"github.com/ledgerline/e2ee/storage"
)

var (
	// ErrNotAvailable is returned by every key-management operation on the
	// no-op messenger handed to users without encryption entitlement.
	ErrNotAvailable = errors.New("encryption not available for this account")

	// ErrNotInitialized is returned when an operation runs before
	// Initialize bound the messenger to a user.
	ErrNotInitialized = errors.New("messenger not initialized")
)

// PairingRequest is the outcome of CreatePairingRequest: the code the user
// types on the second device and when it stops working.
type PairingRequest struct {
	Code      string
	ExpiresAt time.Time
}

// Messenger is the caller-facing surface of the encryption subsystem.
// Both implementations share it, so application code composed against
// Messenger never branches on entitlement.
type Messenger interface {
	// Initialize binds the messenger to a user and wires its components.
	Initialize(ctx context.Context, userID string) error

	// SetupEncryption generates the identity key pair if absent and
	// writes password- and recovery-key-protected backups of it. The
	// returned recovery key is shown to the user exactly once.
	SetupEncryption(ctx context.Context, password string) (recoveryKey string, err error)

	// RestoreFromPassword reinstalls the identity from the password-
	// protected backup blob.
	RestoreFromPassword(ctx context.Context, password string) error

	// RestoreFromRecoveryKey reinstalls the identity from the recovery-
	// key-protected backup blob.
	RestoreFromRecoveryKey(ctx context.Context, recoveryKey string) error

	// EncryptMessage seals plaintext for a conversation, establishing the
	// current-epoch session with the recipient when necessary.
	EncryptMessage(ctx context.Context, conversationID, plaintext, recipientID string) (*session.Envelope, error)

	// DecryptMessage opens an envelope. recipientID selects the peer key
	// when decrypting one's own sent messages; it may be empty otherwise.
	DecryptMessage(ctx context.Context, conversationID string, envelope *session.Envelope, senderID, recipientID string) (string, error)

	// SafetyNumber returns the human-comparable fingerprint shared with
	// another user, for out-of-band verification.
	SafetyNumber(ctx context.Context, otherUserID string) (string, error)

	// IdentityPublicKey returns the current identity public key, for
	// publication to the key directory.
	IdentityPublicKey(ctx context.Context) ([32]byte, error)

	// RegenerateKeys forces an immediate epoch rotation.
	RegenerateKeys(ctx context.Context) (*rotation.Result, error)

	// CheckAndRotateIfNeeded rotates when the rotation interval has
	// elapsed. An optional override replaces the policy interval for this
	// call only.
	CheckAndRotateIfNeeded(ctx context.Context, override ...time.Duration) (*rotation.Result, error)

	// IsSetUp reports whether an identity key pair exists for the user.
	IsSetUp(ctx context.Context) bool

	// CreatePairingRequest issues a single-use numeric code carrying the
	// identity key material for a second device.
	CreatePairingRequest(ctx context.Context) (*PairingRequest, error)

	// VerifyPairingCode redeems a code on the second device and installs
	// the transferred identity.
	VerifyPairingCode(ctx context.Context, code string) error

	// Teardown wipes cached key material. Durable state is untouched.
	Teardown() error
}

// Options carries the messenger's construction-time dependencies. The
// collaborators are injected once here; nothing in the subsystem reaches
// for globals.
type Options struct {
	// Entitled selects the real implementation; false selects the no-op
	// pass-through variant.
	Entitled bool

	// Store is the durable backend for identities, sessions, tickets and
	// backups. Required when Entitled.
	Store storage.Store

	// Directory resolves peers' published public keys. Required when
	// Entitled.
	Directory session.Directory

	// DeviceID names this device in identity records. Defaults to
	// "primary".
	DeviceID string

	// Clock overrides the time source, for tests.
	Clock crypto.TimeProvider

	// Policy overrides the default operational policy.
	Policy *Policy
}

// New constructs the Messenger matching the user's entitlement. The
// selection happens exactly once, here.
func New(opts Options) (Messenger, error) {
	if !opts.Entitled {
		return &NullMessenger{}, nil
	}

	if opts.Store == nil {
		return nil, errors.New("encrypted messenger requires a store")
	}
	if opts.Directory == nil {
		return nil, errors.New("encrypted messenger requires a key directory")
	}

	policy := DefaultPolicy()
	if opts.Policy != nil {
		if err := opts.Policy.Validate(); err != nil {
			return nil, err
		}
		policy = *opts.Policy
	}

	if opts.Clock == nil {
		opts.Clock = crypto.DefaultTimeProvider{}
	}

	return newEncryptedMessenger(opts, policy), nil
}
